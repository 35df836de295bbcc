package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fanforge/marketd/internal/domain"
	"github.com/fanforge/marketd/internal/metrics"
)

// ListingsChannel is the signal bus channel new events are announced on.
const ListingsChannel = "marketd:listings"

// EventSource retrieves marketplace events from the chain.
type EventSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FilterListingEvents(ctx context.Context, kind domain.EventKind, fromBlock, toBlock uint64) ([]domain.ListingEvent, error)
}

// Reducer folds ordered event batches into the listing read model.
type Reducer interface {
	Apply(events []domain.ListingEvent) error
}

// Config holds the ingestion window parameters.
type Config struct {
	StartBlock     uint64
	BlockBatchSize uint64
	// Confirmations is how far ingestion trails the chain head so shallow
	// reorgs never reach the event log.
	Confirmations  uint64
	ArchiveBatches bool
}

// Ingestor pulls marketplace events from the chain, records them durably,
// and feeds the fresh ones to the reducer in (block, log index) order. The
// event store's uniqueness on that coordinate is what makes re-ingestion a
// no-op, so the ingestor never tracks what it has seen itself.
type Ingestor struct {
	source      EventSource
	events      domain.EventStore
	checkpoints domain.CheckpointStore
	reducer     Reducer
	archive     domain.BlobWriter  // optional
	bus         domain.SignalBus   // optional
	locks       domain.LockManager // optional
	cfg         Config
	logger      *slog.Logger
}

// NewIngestor creates an Ingestor. archive and bus may be nil; batch
// archival and update signalling are then skipped. source may also be nil
// for replay-only use, in which case Run fails.
func NewIngestor(
	source EventSource,
	events domain.EventStore,
	checkpoints domain.CheckpointStore,
	reducer Reducer,
	archive domain.BlobWriter,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		source:      source,
		events:      events,
		checkpoints: checkpoints,
		reducer:     reducer,
		archive:     archive,
		bus:         bus,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "ingest")),
	}
}

// WithLockManager makes each catch-up pass take a distributed lock first, so
// concurrent daemons sharing one database do not race on checkpoints. A pass
// that loses the lock is skipped; dedupe would absorb the duplicates anyway,
// the lock just avoids the wasted chain traffic.
func (i *Ingestor) WithLockManager(locks domain.LockManager) *Ingestor {
	i.locks = locks
	return i
}

// Replay rebuilds the listing read model from the durable event log. Called
// once at process start, before the first fetch cycle.
func (i *Ingestor) Replay(ctx context.Context) error {
	stored, err := i.events.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("ingest: load event log: %w", err)
	}
	if len(stored) == 0 {
		i.logger.InfoContext(ctx, "event log empty, nothing to replay")
		return nil
	}
	if err := i.reducer.Apply(stored); err != nil {
		return fmt.Errorf("ingest: replay %d events: %w", len(stored), err)
	}
	i.logger.InfoContext(ctx, "event log replayed",
		slog.Int("events", len(stored)),
		slog.Uint64("last_block", stored[len(stored)-1].Coord.BlockNumber),
	)
	return nil
}

// Run executes one catch-up pass: it walks block windows from the stored
// checkpoint up to (head - confirmations), fetching, recording, and reducing
// each window in order. A failing window stops the pass with its checkpoint
// unadvanced, so the next pass retries the same window.
func (i *Ingestor) Run(ctx context.Context) error {
	if i.source == nil {
		return fmt.Errorf("ingest: no event source configured")
	}

	if i.locks != nil {
		unlock, err := i.locks.Acquire(ctx, "ingest:cycle", 5*time.Minute)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				i.logger.DebugContext(ctx, "ingest cycle held elsewhere, skipping")
				return nil
			}
			return fmt.Errorf("ingest: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	start := time.Now()
	defer func() {
		metrics.IngestCycleDuration.Observe(time.Since(start).Seconds())
	}()

	head, err := i.source.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("ingest: head block: %w", err)
	}
	if head < i.cfg.Confirmations {
		return nil
	}
	target := head - i.cfg.Confirmations

	from, err := i.nextBlock(ctx)
	if err != nil {
		return err
	}

	for from <= target {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingest: cycle cancelled: %w", err)
		}
		to := min(from+i.cfg.BlockBatchSize-1, target)
		if err := i.processWindow(ctx, from, to); err != nil {
			return err
		}
		from = to + 1
	}
	return nil
}

// RunLoop runs catch-up passes on a repeating interval until the context is
// cancelled.
func (i *Ingestor) RunLoop(ctx context.Context, interval time.Duration) error {
	// Run immediately on start.
	if err := i.Run(ctx); err != nil {
		i.logger.Error("ingest cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.logger.Info("ingest loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := i.Run(ctx); err != nil {
				i.logger.Error("ingest cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// nextBlock returns the first block the next window should start at: one
// past the lowest per-kind checkpoint, or the configured start block when no
// checkpoint exists yet. Taking the minimum re-walks a window after a crash
// between per-kind checkpoint writes; the event log absorbs the duplicates.
func (i *Ingestor) nextBlock(ctx context.Context) (uint64, error) {
	next := uint64(0)
	first := true
	for _, kind := range domain.EventKinds {
		block, err := i.checkpoints.Get(ctx, kind)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				block = 0
				if i.cfg.StartBlock > 0 {
					block = i.cfg.StartBlock - 1
				}
			} else {
				return 0, fmt.Errorf("ingest: checkpoint for %s: %w", kind, err)
			}
		}
		if first || block < next {
			next = block
			first = false
		}
	}
	return next + 1, nil
}

// processWindow fetches all three event kinds over [from, to], merges them
// into chain order, records the fresh ones, reduces them, and advances the
// checkpoints. Checkpoints move only after the reducer accepted the batch.
func (i *Ingestor) processWindow(ctx context.Context, from, to uint64) error {
	var (
		mu      sync.Mutex
		fetched []domain.ListingEvent
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range domain.EventKinds {
		g.Go(func() error {
			events, err := i.source.FilterListingEvents(gctx, kind, from, to)
			if err != nil {
				return fmt.Errorf("ingest: fetch %s events %d-%d: %w", kind, from, to, err)
			}
			mu.Lock()
			fetched = append(fetched, events...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(fetched, func(a, b int) bool {
		return fetched[a].Coord.Before(fetched[b].Coord)
	})

	fresh, err := i.events.InsertNew(ctx, fetched)
	if err != nil {
		return fmt.Errorf("ingest: record events %d-%d: %w", from, to, err)
	}
	i.countWindow(fetched, fresh)

	if len(fresh) > 0 {
		if err := i.reducer.Apply(fresh); err != nil {
			return fmt.Errorf("ingest: reduce events %d-%d: %w", from, to, err)
		}
		i.archiveBatch(ctx, from, to, fresh)
		i.announce(ctx, fresh)
	}

	for _, kind := range domain.EventKinds {
		if err := i.checkpoints.Set(ctx, kind, to); err != nil {
			return fmt.Errorf("ingest: advance %s checkpoint to %d: %w", kind, to, err)
		}
	}

	if len(fresh) > 0 {
		i.logger.InfoContext(ctx, "window ingested",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("fetched", len(fetched)),
			slog.Int("fresh", len(fresh)),
		)
	}
	return nil
}

// countWindow updates the per-kind ingested/deduplicated counters for one
// window. fresh is always a subset of fetched.
func (i *Ingestor) countWindow(fetched, fresh []domain.ListingEvent) {
	freshByKind := make(map[domain.EventKind]int, len(domain.EventKinds))
	for _, ev := range fresh {
		freshByKind[ev.Kind]++
	}
	fetchedByKind := make(map[domain.EventKind]int, len(domain.EventKinds))
	for _, ev := range fetched {
		fetchedByKind[ev.Kind]++
	}
	for _, kind := range domain.EventKinds {
		if n := freshByKind[kind]; n > 0 {
			metrics.EventsIngested.WithLabelValues(string(kind)).Add(float64(n))
		}
		if dup := fetchedByKind[kind] - freshByKind[kind]; dup > 0 {
			metrics.EventsDeduplicated.WithLabelValues(string(kind)).Add(float64(dup))
		}
	}
}

// archiveBatch uploads the window's fresh events as CSV for offline replay.
// Archival is best effort; a failed upload never blocks ingestion.
func (i *Ingestor) archiveBatch(ctx context.Context, from, to uint64, events []domain.ListingEvent) {
	if i.archive == nil || !i.cfg.ArchiveBatches {
		return
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"kind", "asset_address", "asset_id", "seller", "buyer", "price_wei", "block_number", "log_index", "tx_hash"})
	for _, ev := range events {
		price := ""
		if ev.Price != nil {
			price = ev.Price.String()
		}
		_ = w.Write([]string{
			string(ev.Kind),
			ev.Key.AssetAddress,
			ev.Key.AssetID,
			ev.Seller,
			ev.Buyer,
			price,
			strconv.FormatUint(ev.Coord.BlockNumber, 10),
			strconv.FormatUint(uint64(ev.Coord.LogIndex), 10),
			ev.TxHash,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		i.logger.WarnContext(ctx, "event batch encode failed", slog.String("error", err.Error()))
		return
	}

	path := fmt.Sprintf("events/%s/blocks-%d-%d.csv", time.Now().UTC().Format("2006/01/02"), from, to)
	if err := i.archive.Put(ctx, path, &buf, "text/csv"); err != nil {
		i.logger.WarnContext(ctx, "event batch archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// listingSignal is the wire form of one event on the signal bus.
type listingSignal struct {
	Kind         string `json:"kind"`
	AssetAddress string `json:"assetAddress"`
	AssetID      string `json:"assetId"`
	Seller       string `json:"seller,omitempty"`
	Buyer        string `json:"buyer,omitempty"`
	PriceWei     string `json:"priceWei,omitempty"`
	BlockNumber  uint64 `json:"blockNumber"`
	LogIndex     uint   `json:"logIndex"`
	TxHash       string `json:"txHash"`
}

// announce publishes each fresh event to the signal bus. Best effort.
func (i *Ingestor) announce(ctx context.Context, events []domain.ListingEvent) {
	if i.bus == nil {
		return
	}
	for _, ev := range events {
		sig := listingSignal{
			Kind:         string(ev.Kind),
			AssetAddress: ev.Key.AssetAddress,
			AssetID:      ev.Key.AssetID,
			Seller:       ev.Seller,
			Buyer:        ev.Buyer,
			BlockNumber:  ev.Coord.BlockNumber,
			LogIndex:     ev.Coord.LogIndex,
			TxHash:       ev.TxHash,
		}
		if ev.Price != nil {
			sig.PriceWei = ev.Price.String()
		}
		payload, err := json.Marshal(sig)
		if err != nil {
			continue
		}
		if err := i.bus.Publish(ctx, ListingsChannel, payload); err != nil {
			i.logger.WarnContext(ctx, "listing signal publish failed",
				slog.String("error", err.Error()),
			)
			return
		}
	}
}
