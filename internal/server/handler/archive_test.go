package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanforge/marketd/internal/domain"
)

// fakeBlobs serves a fixed object tree laid out the way the ingest pipeline
// archives batches: events/YYYY/MM/DD/blocks-<from>-<to>.csv.
type fakeBlobs struct {
	objects []domain.BlobInfo
}

func (f *fakeBlobs) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for _, obj := range f.objects {
		if strings.HasPrefix(obj.Path, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (f *fakeBlobs) Exists(context.Context, string) (bool, error) { return false, nil }

func archiveFixture() *fakeBlobs {
	return &fakeBlobs{objects: []domain.BlobInfo{
		{Path: "events/2026/08/28/blocks-100-199.csv", Size: 512},
		{Path: "events/2026/08/28/blocks-200-299.csv", Size: 640},
		{Path: "events/2026/08/29/blocks-300-399.csv", Size: 128},
	}}
}

func listArchives(t *testing.T, h *ArchiveHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	return rec
}

func archivePaths(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp struct {
		Archives []archiveResponse `json:"archives"`
		Count    int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Archives, resp.Count)
	paths := make([]string, 0, len(resp.Archives))
	for _, a := range resp.Archives {
		paths = append(paths, a.Path)
	}
	return paths
}

func TestArchiveList_All(t *testing.T) {
	h := NewArchiveHandler(archiveFixture(), discard())

	rec := listArchives(t, h, "/api/archives")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, archivePaths(t, rec), 3)
}

func TestArchiveList_DateFilterMatchesBatchLayout(t *testing.T) {
	h := NewArchiveHandler(archiveFixture(), discard())

	rec := listArchives(t, h, "/api/archives?date=2026-08-28")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{
		"events/2026/08/28/blocks-100-199.csv",
		"events/2026/08/28/blocks-200-299.csv",
	}, archivePaths(t, rec))

	rec = listArchives(t, h, "/api/archives?date=2026-08-29")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"events/2026/08/29/blocks-300-399.csv"}, archivePaths(t, rec))
}

func TestArchiveList_EmptyDay(t *testing.T) {
	h := NewArchiveHandler(archiveFixture(), discard())

	rec := listArchives(t, h, "/api/archives?date=2026-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, archivePaths(t, rec))
}

func TestArchiveList_BadDate(t *testing.T) {
	h := NewArchiveHandler(archiveFixture(), discard())

	rec := listArchives(t, h, "/api/archives?date=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

var _ domain.BlobReader = (*fakeBlobs)(nil)
