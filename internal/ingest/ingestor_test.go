package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanforge/marketd/internal/domain"
	"github.com/fanforge/marketd/internal/reconcile"
)

type fakeSource struct {
	head   uint64
	events []domain.ListingEvent
}

func (s *fakeSource) HeadBlock(_ context.Context) (uint64, error) {
	return s.head, nil
}

func (s *fakeSource) FilterListingEvents(_ context.Context, kind domain.EventKind, from, to uint64) ([]domain.ListingEvent, error) {
	var out []domain.ListingEvent
	for _, ev := range s.events {
		if ev.Kind == kind && ev.Coord.BlockNumber >= from && ev.Coord.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

type eventID struct {
	kind  domain.EventKind
	coord domain.EventCoord
}

type memEventStore struct {
	seen  map[eventID]struct{}
	order []domain.ListingEvent
}

func newMemEventStore() *memEventStore {
	return &memEventStore{seen: make(map[eventID]struct{})}
}

func (s *memEventStore) InsertNew(_ context.Context, events []domain.ListingEvent) ([]domain.ListingEvent, error) {
	var fresh []domain.ListingEvent
	for _, ev := range events {
		id := eventID{kind: ev.Kind, coord: ev.Coord}
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.order = append(s.order, ev)
		fresh = append(fresh, ev)
	}
	return fresh, nil
}

func (s *memEventStore) ListAll(_ context.Context) ([]domain.ListingEvent, error) {
	out := make([]domain.ListingEvent, len(s.order))
	copy(out, s.order)
	sort.Slice(out, func(a, b int) bool { return out[a].Coord.Before(out[b].Coord) })
	return out, nil
}

func (s *memEventStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.order)), nil
}

type memCheckpointStore struct {
	blocks map[domain.EventKind]uint64
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{blocks: make(map[domain.EventKind]uint64)}
}

func (s *memCheckpointStore) Get(_ context.Context, kind domain.EventKind) (uint64, error) {
	block, ok := s.blocks[kind]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return block, nil
}

func (s *memCheckpointStore) Set(_ context.Context, kind domain.EventKind, block uint64) error {
	s.blocks[kind] = block
	return nil
}

type captureBus struct {
	payloads [][]byte
}

func (b *captureBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *captureBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

type failingReducer struct {
	err error
}

func (r *failingReducer) Apply(_ []domain.ListingEvent) error { return r.err }

func listed(addr, id string, block uint64, logIndex uint) domain.ListingEvent {
	return domain.ListingEvent{
		Kind:   domain.EventKindListed,
		Key:    domain.ListingKey{AssetAddress: addr, AssetID: id},
		Seller: "0xseller",
		Price:  big.NewInt(1_000_000),
		Coord:  domain.EventCoord{BlockNumber: block, LogIndex: logIndex},
		TxHash: "0xaaa",
	}
}

func sold(addr, id string, block uint64, logIndex uint) domain.ListingEvent {
	return domain.ListingEvent{
		Kind:   domain.EventKindSold,
		Key:    domain.ListingKey{AssetAddress: addr, AssetID: id},
		Buyer:  "0xbuyer",
		Price:  big.NewInt(1_000_000),
		Coord:  domain.EventCoord{BlockNumber: block, LogIndex: logIndex},
		TxHash: "0xbbb",
	}
}

func TestRun_IngestsAndReduces(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{
		head: 103,
		events: []domain.ListingEvent{
			listed("0xcafe", "1", 10, 0),
			listed("0xcafe", "2", 11, 0),
			sold("0xcafe", "1", 12, 0),
		},
	}
	events := newMemEventStore()
	checkpoints := newMemCheckpointStore()
	sm := reconcile.New(slog.Default())

	ing := NewIngestor(source, events, checkpoints, sm, nil, nil, Config{
		BlockBatchSize: 50,
		Confirmations:  3,
	}, slog.Default())

	require.NoError(t, ing.Run(ctx))

	active := sm.ActiveListings()
	require.Len(t, active, 1, "token 1 sold, only token 2 should remain active")
	assert.Equal(t, "2", active[0].Key.AssetID)

	count, err := events.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// head 103 minus 3 confirmations.
	for _, kind := range domain.EventKinds {
		block, err := checkpoints.Get(ctx, kind)
		require.NoError(t, err)
		assert.EqualValues(t, 100, block, "checkpoint for %s", kind)
	}
}

func TestRun_SecondPassIsIdempotent(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{
		head:   20,
		events: []domain.ListingEvent{listed("0xcafe", "1", 5, 0)},
	}
	events := newMemEventStore()
	checkpoints := newMemCheckpointStore()
	sm := reconcile.New(slog.Default())

	ing := NewIngestor(source, events, checkpoints, sm, nil, nil, Config{
		BlockBatchSize: 100,
		Confirmations:  0,
	}, slog.Default())

	require.NoError(t, ing.Run(ctx))
	require.NoError(t, ing.Run(ctx))

	count, err := events.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, 1, sm.ActiveCount())
}

func TestRun_RewalkedWindowDeduplicates(t *testing.T) {
	// A checkpoint behind the event log simulates a crash between the insert
	// and the checkpoint write. The re-walked window must not duplicate
	// events or disturb the rebuilt read model.
	ctx := context.Background()
	ev := listed("0xcafe", "1", 5, 0)
	source := &fakeSource{head: 20, events: []domain.ListingEvent{ev}}
	events := newMemEventStore()
	_, err := events.InsertNew(ctx, []domain.ListingEvent{ev})
	require.NoError(t, err)
	checkpoints := newMemCheckpointStore()

	sm := reconcile.New(slog.Default())
	ing := NewIngestor(source, events, checkpoints, sm, nil, nil, Config{
		BlockBatchSize: 100,
		Confirmations:  0,
	}, slog.Default())

	require.NoError(t, ing.Replay(ctx))
	require.NoError(t, ing.Run(ctx))

	count, err := events.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, 1, sm.ActiveCount())
}

func TestRun_HonorsConfirmationDepth(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{
		head: 10,
		events: []domain.ListingEvent{
			listed("0xcafe", "1", 5, 0),
			listed("0xcafe", "2", 9, 0), // above head - confirmations
		},
	}
	events := newMemEventStore()
	checkpoints := newMemCheckpointStore()
	sm := reconcile.New(slog.Default())

	ing := NewIngestor(source, events, checkpoints, sm, nil, nil, Config{
		BlockBatchSize: 100,
		Confirmations:  3,
	}, slog.Default())

	require.NoError(t, ing.Run(ctx))
	assert.Equal(t, 1, sm.ActiveCount(), "block 9 is within confirmation depth and must wait")

	// Once the chain moves on, the deferred event comes through.
	source.head = 12
	require.NoError(t, ing.Run(ctx))
	assert.Equal(t, 2, sm.ActiveCount())
}

func TestRun_ReducerFailureHoldsCheckpoint(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{
		head:   10,
		events: []domain.ListingEvent{listed("0xcafe", "1", 5, 0)},
	}
	events := newMemEventStore()
	checkpoints := newMemCheckpointStore()

	ing := NewIngestor(source, events, checkpoints,
		&failingReducer{err: domain.Inconsistencyf("events out of order")},
		nil, nil, Config{BlockBatchSize: 100, Confirmations: 0}, slog.Default())

	err := ing.Run(ctx)
	require.Error(t, err)
	assert.True(t, domain.IsStateInconsistency(err))

	for _, kind := range domain.EventKinds {
		_, err := checkpoints.Get(ctx, kind)
		assert.ErrorIs(t, err, domain.ErrNotFound, "checkpoint for %s must not advance", kind)
	}
}

func TestRun_StartBlockSkipsHistory(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{
		head: 200,
		events: []domain.ListingEvent{
			listed("0xcafe", "1", 50, 0),
			listed("0xcafe", "2", 150, 0),
		},
	}
	events := newMemEventStore()
	checkpoints := newMemCheckpointStore()
	sm := reconcile.New(slog.Default())

	ing := NewIngestor(source, events, checkpoints, sm, nil, nil, Config{
		StartBlock:     100,
		BlockBatchSize: 1000,
		Confirmations:  0,
	}, slog.Default())

	require.NoError(t, ing.Run(ctx))

	count, err := events.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	_, ok := sm.Get(domain.ListingKey{AssetAddress: "0xcafe", AssetID: "1"})
	assert.False(t, ok, "pre-start-block history must be ignored")
}

func TestRun_AnnouncesFreshEventsOnly(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{
		head:   10,
		events: []domain.ListingEvent{listed("0xcafe", "1", 5, 0)},
	}
	events := newMemEventStore()
	checkpoints := newMemCheckpointStore()
	sm := reconcile.New(slog.Default())
	bus := &captureBus{}

	ing := NewIngestor(source, events, checkpoints, sm, nil, bus, Config{
		BlockBatchSize: 100,
		Confirmations:  0,
	}, slog.Default())

	require.NoError(t, ing.Run(ctx))
	require.Len(t, bus.payloads, 1)

	var sig listingSignal
	require.NoError(t, json.Unmarshal(bus.payloads[0], &sig))
	assert.Equal(t, "listed", sig.Kind)
	assert.Equal(t, "0xcafe", sig.AssetAddress)
	assert.Equal(t, "1", sig.AssetID)
	assert.Equal(t, "1000000", sig.PriceWei)

	// No new blocks, no new announcements.
	require.NoError(t, ing.Run(ctx))
	assert.Len(t, bus.payloads, 1)
}

func TestReplay_RebuildsReadModel(t *testing.T) {
	ctx := context.Background()
	events := newMemEventStore()
	_, err := events.InsertNew(ctx, []domain.ListingEvent{
		listed("0xcafe", "1", 10, 0),
		sold("0xcafe", "1", 11, 0),
		listed("0xcafe", "1", 12, 0),
	})
	require.NoError(t, err)

	sm := reconcile.New(slog.Default())
	ing := NewIngestor(&fakeSource{}, events, newMemCheckpointStore(), sm, nil, nil,
		Config{BlockBatchSize: 100}, slog.Default())

	require.NoError(t, ing.Replay(ctx))

	listing, ok := sm.Get(domain.ListingKey{AssetAddress: "0xcafe", AssetID: "1"})
	require.True(t, ok)
	assert.Equal(t, domain.ListingStatusActive, listing.Status)
	assert.EqualValues(t, 12, listing.OriginBlock, "relist instance must win")
}

type heldLocks struct{}

func (heldLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestRun_SkipsCycleWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{
		head:   50,
		events: []domain.ListingEvent{listed("0xcafe", "1", 10, 0)},
	}
	events := newMemEventStore()
	checkpoints := newMemCheckpointStore()

	ing := NewIngestor(source, events, checkpoints, reconcile.New(slog.Default()), nil, nil, Config{
		BlockBatchSize: 100,
		Confirmations:  0,
	}, slog.Default()).WithLockManager(heldLocks{})

	require.NoError(t, ing.Run(ctx))

	count, err := events.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "a pass that loses the lock must not touch the event log")
}
