// Package reconcile reduces the ordered marketplace event stream into the
// authoritative map of current listing state.
package reconcile

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/fanforge/marketd/internal/domain"
	"github.com/fanforge/marketd/internal/metrics"
)

// StateMachine owns the listing read model. It is a deterministic reducer:
// given the same ordered event sequence it always produces the same map.
// Apply must be driven by exactly one goroutine; reads take copies under a
// read lock and never observe a partially applied batch.
type StateMachine struct {
	mu       sync.RWMutex
	listings map[domain.ListingKey]domain.Listing

	lastApplied domain.EventCoord
	hasApplied  bool

	logger *slog.Logger
}

// New creates an empty StateMachine.
func New(logger *slog.Logger) *StateMachine {
	return &StateMachine{
		listings: make(map[domain.ListingKey]domain.Listing),
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Apply reduces an ordered batch of events into the listing map. The batch
// must be strictly increasing in (block, log index) order and strictly after
// everything already applied; a violation is a StateInconsistencyError and
// leaves the state untouched. Within a valid batch:
//
//   - Listed unconditionally installs a new Active instance for its key,
//     stamped with the event's coordinates. Whatever occupied the key before
//     is by definition already closed.
//   - Sold/Cancelled closes the current instance only if it is Active.
//     Otherwise the event references an instance that has already been
//     superseded and is discarded as a counted no-op.
//
// The per-key-latest-instance rule is what makes re-listing correct: a stale
// terminal event can never retroactively close a newer Listed instance.
func (sm *StateMachine) Apply(events []domain.ListingEvent) error {
	if len(events) == 0 {
		return nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Validate the whole batch before touching state.
	prev := sm.lastApplied
	havePrev := sm.hasApplied
	for i := range events {
		if havePrev && !prev.Before(events[i].Coord) {
			metrics.EventsOutOfOrder.Inc()
			return domain.Inconsistencyf(
				"event %s at %s not after %s",
				events[i].Kind, events[i].Coord, prev)
		}
		prev = events[i].Coord
		havePrev = true
	}

	for i := range events {
		sm.applyOne(&events[i])
		sm.lastApplied = events[i].Coord
		sm.hasApplied = true
	}

	metrics.ActiveListings.Set(float64(sm.activeCountLocked()))
	return nil
}

// applyOne folds a single validated event into the map. Callers hold the
// write lock.
func (sm *StateMachine) applyOne(ev *domain.ListingEvent) {
	switch ev.Kind {
	case domain.EventKindListed:
		sm.listings[ev.Key] = domain.Listing{
			Key:            ev.Key,
			Seller:         ev.Seller,
			Price:          ev.Price,
			Status:         domain.ListingStatusActive,
			OriginBlock:    ev.Coord.BlockNumber,
			OriginLogIndex: ev.Coord.LogIndex,
			TxHash:         ev.TxHash,
		}

	case domain.EventKindSold, domain.EventKindCancelled:
		current, ok := sm.listings[ev.Key]
		if !ok || current.Status != domain.ListingStatusActive {
			// No active instance for this key: the event belongs to an
			// already-superseded incarnation. Intentional no-op discard.
			metrics.EventsDiscarded.WithLabelValues(string(ev.Kind)).Inc()
			sm.logger.Debug("discarding terminal event with no active listing",
				slog.String("kind", string(ev.Kind)),
				slog.String("key", ev.Key.String()),
				slog.String("coord", ev.Coord.String()),
			)
			return
		}
		if ev.Kind == domain.EventKindSold {
			current.Status = domain.ListingStatusSold
		} else {
			current.Status = domain.ListingStatusCancelled
		}
		sm.listings[ev.Key] = current
	}
}

// ActiveListings returns copies of every Active listing, most recently
// listed first.
func (sm *StateMachine) ActiveListings() []domain.Listing {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]domain.Listing, 0, len(sm.listings))
	for _, l := range sm.listings {
		if l.Status == domain.ListingStatusActive {
			out = append(out, l.Clone())
		}
	}

	sort.Slice(out, func(a, b int) bool {
		return out[b].Origin().Before(out[a].Origin())
	})
	return out
}

// Get returns a copy of the current listing instance for key, if any.
func (sm *StateMachine) Get(key domain.ListingKey) (domain.Listing, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	l, ok := sm.listings[key]
	if !ok {
		return domain.Listing{}, false
	}
	return l.Clone(), true
}

// Snapshot returns copies of every listing instance currently tracked,
// regardless of status.
func (sm *StateMachine) Snapshot() []domain.Listing {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]domain.Listing, 0, len(sm.listings))
	for _, l := range sm.listings {
		out = append(out, l.Clone())
	}
	return out
}

// LastApplied returns the coordinate of the last applied event and whether
// any event has been applied yet.
func (sm *StateMachine) LastApplied() (domain.EventCoord, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.lastApplied, sm.hasApplied
}

// ActiveCount returns the number of Active listings.
func (sm *StateMachine) ActiveCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.activeCountLocked()
}

func (sm *StateMachine) activeCountLocked() int {
	n := 0
	for _, l := range sm.listings {
		if l.Status == domain.ListingStatusActive {
			n++
		}
	}
	return n
}
