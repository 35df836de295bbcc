// Package chain wraps the ledger RPC endpoint. It exposes paginated event
// log reads for the marketplace contract and read-only contract state
// lookups (collection metadata, token facts, factory listings). All calls
// are timeout-bounded and retried with exponential backoff; the package
// never submits state-changing transactions.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fanforge/marketd/internal/domain"
	"github.com/fanforge/marketd/internal/metrics"
)

// Config holds connection and retry parameters for the chain client.
type Config struct {
	RPCURL             string
	MarketplaceAddress string
	TokenFactoryAddr   string
	RequestTimeout     time.Duration
	RetryAttempts      int
}

// Client is a read-only ledger RPC client.
type Client struct {
	eth         *ethclient.Client
	marketplace common.Address
	factory     common.Address
	timeout     time.Duration
	attempts    int
	logger      *slog.Logger
}

// New dials the RPC endpoint and verifies connectivity with a ChainID call.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	if _, err := eth.ChainID(pingCtx); err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}

	return &Client{
		eth:         eth,
		marketplace: common.HexToAddress(cfg.MarketplaceAddress),
		factory:     common.HexToAddress(cfg.TokenFactoryAddr),
		timeout:     cfg.RequestTimeout,
		attempts:    cfg.RetryAttempts,
		logger:      logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// HeadBlock returns the latest block number known to the RPC endpoint.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.withRetry(ctx, "blockNumber", func(callCtx context.Context) error {
		n, err := c.eth.BlockNumber(callCtx)
		if err != nil {
			return err
		}
		head = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return head, nil
}

// withRetry runs call with a per-attempt timeout, retrying on failure with
// exponential backoff up to the configured attempt count. Context
// cancellation aborts immediately; exhaustion surfaces as a retryable
// ExternalServiceError.
func (c *Client) withRetry(ctx context.Context, method string, call func(ctx context.Context) error) error {
	backoff := 500 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := call(callCtx)
		cancel()

		if err == nil {
			metrics.ChainRequests.WithLabelValues(method, "ok").Inc()
			return nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			metrics.ChainRequests.WithLabelValues(method, "cancelled").Inc()
			return fmt.Errorf("chain: %s: %w", method, ctx.Err())
		}

		lastErr = err
		metrics.ChainRequests.WithLabelValues(method, "error").Inc()
		c.logger.WarnContext(ctx, "chain rpc call failed",
			slog.String("method", method),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: %s: %w", method, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return domain.External("chain rpc "+method, lastErr)
}
