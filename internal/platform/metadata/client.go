// Package metadata fetches off-chain token metadata documents from
// caller-supplied URIs. Failures here are expected and always non-fatal to
// the listing query path.
package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fanforge/marketd/internal/domain"
)

// maxDocumentSize caps how much of a metadata document is read (1 MiB).
const maxDocumentSize = 1 << 20

// defaultAttempts is used when no retry count is configured.
const defaultAttempts = 3

// Client fetches JSON metadata documents over HTTP. Transient failures are
// retried with exponential backoff up to the configured attempt count.
type Client struct {
	httpClient *http.Client
	attempts   int
}

// NewClient creates a metadata Client with the given per-request timeout and
// attempt count.
func NewClient(timeout time.Duration, attempts int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if attempts < 1 {
		attempts = defaultAttempts
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		attempts:   attempts,
	}
}

// Fetch retrieves and decodes the metadata document at uri. Inline data:
// URIs are decoded locally; http(s) URIs are fetched with retry. Exhaustion
// surfaces as a retryable ExternalServiceError.
func (c *Client) Fetch(ctx context.Context, uri string) (domain.TokenMetadata, error) {
	if strings.HasPrefix(uri, "data:") {
		return decodeDataURI(uri)
	}

	backoff := 250 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		doc, err := c.fetchOnce(ctx, uri)
		if err == nil {
			return doc, nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return domain.TokenMetadata{}, fmt.Errorf("metadata: fetch %s: %w", uri, ctx.Err())
		}
		lastErr = err

		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.TokenMetadata{}, fmt.Errorf("metadata: fetch %s: %w", uri, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return domain.TokenMetadata{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, uri string) (domain.TokenMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("metadata: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TokenMetadata{}, domain.External("metadata fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.TokenMetadata{}, domain.External("metadata fetch",
			fmt.Errorf("HTTP %d from %s", resp.StatusCode, uri))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return domain.TokenMetadata{}, domain.External("metadata fetch", err)
	}
	return decodeDocument(body, uri)
}

// decodeDataURI handles inline tokenURIs of the form
// data:application/json;base64,<payload> or data:application/json,<payload>,
// which some collections emit instead of hosting a document.
func decodeDataURI(uri string) (domain.TokenMetadata, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return domain.TokenMetadata{}, domain.Validationf("metadata: not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return domain.TokenMetadata{}, domain.Validationf("metadata: malformed data URI")
	}

	raw := []byte(payload)
	if strings.HasSuffix(meta, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return domain.TokenMetadata{}, domain.Validationf("metadata: decode data URI: %v", err)
		}
		raw = decoded
	}
	if len(raw) > maxDocumentSize {
		return domain.TokenMetadata{}, domain.Validationf("metadata: data URI document too large")
	}
	return decodeDocument(raw, "data URI")
}

func decodeDocument(body []byte, source string) (domain.TokenMetadata, error) {
	var doc domain.TokenMetadata
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.TokenMetadata{}, domain.External("metadata fetch",
			fmt.Errorf("decode document from %s: %w", source, err))
	}
	return doc, nil
}
