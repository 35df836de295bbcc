package metadata

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanforge/marketd/internal/domain"
)

func TestFetch_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"name":"Jersey #7","image":"ipfs://img"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, 3)
	doc, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Jersey #7", doc.Name)
	assert.Equal(t, "ipfs://img", doc.Image)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(time.Second, 2)
	_, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_CancellationStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(time.Second, 5)
	_, err := c.Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	// At most the first attempt runs before the cancelled context is seen.
	assert.LessOrEqual(t, calls.Load(), int32(1))
}

func TestFetch_DataURIBase64(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(`{"name":"Inline","description":"d","image":"i"}`))

	c := NewClient(time.Second, 3)
	doc, err := c.Fetch(context.Background(), "data:application/json;base64,"+payload)
	require.NoError(t, err)
	assert.Equal(t, "Inline", doc.Name)
	assert.Equal(t, "i", doc.Image)
}

func TestFetch_DataURIPlain(t *testing.T) {
	c := NewClient(time.Second, 3)
	doc, err := c.Fetch(context.Background(), `data:application/json,{"name":"Plain"}`)
	require.NoError(t, err)
	assert.Equal(t, "Plain", doc.Name)
}

func TestFetch_DataURIMalformed(t *testing.T) {
	c := NewClient(time.Second, 3)

	_, err := c.Fetch(context.Background(), "data:application/json;base64")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = c.Fetch(context.Background(), "data:application/json;base64,!!!")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}
