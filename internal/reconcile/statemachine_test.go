package reconcile

import (
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanforge/marketd/internal/domain"
)

func testKey(n int64) domain.ListingKey {
	return domain.NewListingKey("0x00000000000000000000000000000000000000aa", big.NewInt(n))
}

func listed(key domain.ListingKey, price int64, block uint64, logIndex uint) domain.ListingEvent {
	return domain.ListingEvent{
		Kind:   domain.EventKindListed,
		Key:    key,
		Seller: "0x00000000000000000000000000000000000000s1",
		Price:  big.NewInt(price),
		Coord:  domain.EventCoord{BlockNumber: block, LogIndex: logIndex},
	}
}

func sold(key domain.ListingKey, block uint64, logIndex uint) domain.ListingEvent {
	return domain.ListingEvent{
		Kind:  domain.EventKindSold,
		Key:   key,
		Buyer: "0x00000000000000000000000000000000000000b1",
		Coord: domain.EventCoord{BlockNumber: block, LogIndex: logIndex},
	}
}

func cancelled(key domain.ListingKey, block uint64, logIndex uint) domain.ListingEvent {
	return domain.ListingEvent{
		Kind:  domain.EventKindCancelled,
		Key:   key,
		Coord: domain.EventCoord{BlockNumber: block, LogIndex: logIndex},
	}
}

func newSM() *StateMachine {
	return New(slog.Default())
}

func TestApply_ListedCreatesActive(t *testing.T) {
	sm := newSM()
	key := testKey(1)

	require.NoError(t, sm.Apply([]domain.ListingEvent{listed(key, 100, 10, 0)}))

	l, ok := sm.Get(key)
	require.True(t, ok)
	assert.Equal(t, domain.ListingStatusActive, l.Status)
	assert.Equal(t, int64(100), l.Price.Int64())
	assert.Equal(t, uint64(10), l.OriginBlock)
	assert.Equal(t, 1, sm.ActiveCount())
}

func TestApply_SoldClosesActive(t *testing.T) {
	sm := newSM()
	key := testKey(1)

	require.NoError(t, sm.Apply([]domain.ListingEvent{
		listed(key, 100, 10, 0),
		sold(key, 11, 0),
	}))

	l, ok := sm.Get(key)
	require.True(t, ok)
	assert.Equal(t, domain.ListingStatusSold, l.Status)
	assert.Equal(t, 0, sm.ActiveCount())
}

func TestApply_RelistAfterSold(t *testing.T) {
	sm := newSM()
	key := testKey(1)

	require.NoError(t, sm.Apply([]domain.ListingEvent{
		listed(key, 100, 10, 0),
		sold(key, 11, 0),
		listed(key, 250, 12, 0),
	}))

	active := sm.ActiveListings()
	require.Len(t, active, 1)
	assert.Equal(t, int64(250), active[0].Price.Int64())
	assert.Equal(t, uint64(12), active[0].OriginBlock)
}

func TestApply_StaleCancelBetweenInstancesIsNoOp(t *testing.T) {
	// A second cancel for an already-closed instance, arriving in chain
	// order before the re-list, must not prevent the new instance from
	// going Active.
	sm := newSM()
	key := testKey(1)

	require.NoError(t, sm.Apply([]domain.ListingEvent{
		listed(key, 100, 10, 0),
		cancelled(key, 11, 0),
		cancelled(key, 11, 3), // stale duplicate; instance already closed
		listed(key, 300, 12, 0),
	}))

	l, ok := sm.Get(key)
	require.True(t, ok)
	assert.Equal(t, domain.ListingStatusActive, l.Status)
	assert.Equal(t, uint64(12), l.OriginBlock)
	assert.Equal(t, int64(300), l.Price.Int64())
}

func TestApply_StraySoldBeforeAnyListed(t *testing.T) {
	sm := newSM()
	key := testKey(1)

	require.NoError(t, sm.Apply([]domain.ListingEvent{sold(key, 5, 0)}))

	_, ok := sm.Get(key)
	assert.False(t, ok, "stray sold must not create a listing")
	assert.Equal(t, 0, sm.ActiveCount())
}

func TestApply_TerminalEventOnClosedInstanceIsNoOp(t *testing.T) {
	sm := newSM()
	key := testKey(1)

	require.NoError(t, sm.Apply([]domain.ListingEvent{
		listed(key, 100, 10, 0),
		sold(key, 11, 0),
		cancelled(key, 12, 0), // instance already sold; counted no-op
	}))

	l, ok := sm.Get(key)
	require.True(t, ok)
	assert.Equal(t, domain.ListingStatusSold, l.Status, "sold instance must not reopen or flip to cancelled")
}

func TestApply_OutOfOrderBatchRejected(t *testing.T) {
	sm := newSM()
	key := testKey(1)

	err := sm.Apply([]domain.ListingEvent{
		listed(key, 100, 10, 0),
		sold(key, 9, 0), // earlier than the previous event
	})
	require.Error(t, err)
	assert.True(t, domain.IsStateInconsistency(err))

	// The batch must not have been partially applied.
	_, ok := sm.Get(key)
	assert.False(t, ok)
}

func TestApply_EventBeforeLastAppliedRejected(t *testing.T) {
	sm := newSM()
	key := testKey(1)

	require.NoError(t, sm.Apply([]domain.ListingEvent{listed(key, 100, 10, 0)}))

	err := sm.Apply([]domain.ListingEvent{sold(key, 10, 0)}) // same coord
	require.Error(t, err)
	assert.True(t, domain.IsStateInconsistency(err))

	l, _ := sm.Get(key)
	assert.Equal(t, domain.ListingStatusActive, l.Status)
}

func TestApply_Idempotence(t *testing.T) {
	// The same ordered sequence applied to two fresh machines yields
	// identical final maps.
	events := []domain.ListingEvent{
		listed(testKey(1), 100, 10, 0),
		listed(testKey(2), 200, 10, 1),
		sold(testKey(1), 11, 0),
		listed(testKey(1), 150, 12, 0),
		cancelled(testKey(2), 13, 0),
	}

	a, b := newSM(), newSM()
	require.NoError(t, a.Apply(events))
	require.NoError(t, b.Apply(events))

	snapA, snapB := a.Snapshot(), b.Snapshot()
	require.Equal(t, len(snapA), len(snapB))

	byKey := func(snap []domain.Listing) map[domain.ListingKey]domain.Listing {
		m := make(map[domain.ListingKey]domain.Listing, len(snap))
		for _, l := range snap {
			m[l.Key] = l
		}
		return m
	}
	ma, mb := byKey(snapA), byKey(snapB)
	for k, la := range ma {
		lb, ok := mb[k]
		require.True(t, ok)
		assert.Equal(t, la.Status, lb.Status)
		assert.Equal(t, la.OriginBlock, lb.OriginBlock)
		assert.Equal(t, la.OriginLogIndex, lb.OriginLogIndex)
	}
}

func TestApply_UniquenessInvariant(t *testing.T) {
	// After every prefix of a valid sequence, at most one Active listing
	// exists per key.
	key := testKey(1)
	events := []domain.ListingEvent{
		listed(key, 100, 10, 0),
		sold(key, 11, 0),
		listed(key, 200, 12, 0),
		cancelled(key, 13, 0),
		listed(key, 300, 14, 0),
	}

	for prefix := 1; prefix <= len(events); prefix++ {
		sm := newSM()
		require.NoError(t, sm.Apply(events[:prefix]))

		count := 0
		for _, l := range sm.Snapshot() {
			if l.Key == key && l.Status == domain.ListingStatusActive {
				count++
			}
		}
		assert.LessOrEqual(t, count, 1, "prefix %d violated uniqueness", prefix)
	}
}

func TestActiveListings_MostRecentFirst(t *testing.T) {
	sm := newSM()

	require.NoError(t, sm.Apply([]domain.ListingEvent{
		listed(testKey(1), 100, 10, 0),
		listed(testKey(2), 200, 11, 0),
		listed(testKey(3), 300, 11, 4),
	}))

	active := sm.ActiveListings()
	require.Len(t, active, 3)
	assert.Equal(t, testKey(3), active[0].Key)
	assert.Equal(t, testKey(2), active[1].Key)
	assert.Equal(t, testKey(1), active[2].Key)
}

func TestSnapshot_ReturnsCopies(t *testing.T) {
	sm := newSM()
	key := testKey(1)
	require.NoError(t, sm.Apply([]domain.ListingEvent{listed(key, 100, 10, 0)}))

	snap := sm.ActiveListings()
	require.Len(t, snap, 1)
	snap[0].Price.SetInt64(999999)

	l, _ := sm.Get(key)
	assert.Equal(t, int64(100), l.Price.Int64(), "caller mutation must not leak into the reducer")
}
