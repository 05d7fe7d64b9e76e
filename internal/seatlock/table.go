// Package seatlock is the mutual-exclusion core of the ticketing path: a
// sharded seat-id → hold table enforcing at-most-one live holder per seat.
// The grant decision for a seat happens entirely inside its shard's critical
// section, so under N concurrent Hold calls for one seat exactly one caller
// wins and the rest observe ErrSeatConflict; there is no read-then-write
// window.  Sharding by seat id keeps unrelated seats off each other's lock.
package seatlock

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/iliyamo/ticket-rush/internal/model"
)

// Sentinel errors returned by the table.  ErrSeatConflict maps to HTTP 409,
// ErrNotHolder to 409 as well (the caller's claim is stale),
// ErrInvalidReservationState to 400 when the owning reservation is not in a
// holdable state.
var (
	ErrSeatConflict            = errors.New("seat already held")
	ErrNotHolder               = errors.New("reservation does not hold this seat")
	ErrInvalidReservationState = errors.New("reservation not in a holdable state")
)

// Config controls hold lifetime and sweep cadence.
type Config struct {
	HoldTTL       time.Duration // how long a granted hold lives
	SweepInterval time.Duration // cadence of the background expiry sweep
	Shards        int           // number of shards; rounded up to a power of two
}

type shard struct {
	mu    sync.Mutex
	holds map[uint64]model.SeatHold
}

// Table maps seat ids to their current hold.  Expiry is advisory cleanup:
// every Hold and Release re-checks the deadline under the shard lock rather
// than trusting the sweep, so a hold past its deadline is absent the moment
// it matters.
type Table struct {
	cfg    Config
	mask   uint64
	shards []*shard
}

// New returns a Table with the configured shard count (default 64).
func New(cfg Config) *Table {
	n := roundUpPow2(cfg.Shards)
	t := &Table{cfg: cfg, mask: uint64(n - 1), shards: make([]*shard, n)}
	for i := range t.shards {
		t.shards[i] = &shard{holds: make(map[uint64]model.SeatHold)}
	}
	return t
}

func roundUpPow2(n int) int {
	if n < 1 {
		return 64
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (t *Table) shardFor(seatID uint64) *shard {
	h := fnv.New64a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(seatID >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return t.shards[h.Sum64()&t.mask]
}

// Hold claims the seat for the reservation.  When the seat has no live hold
// a new one is granted with the configured TTL; when a live hold exists the
// call fails with ErrSeatConflict regardless of who the holder is: a
// reservation re-holding its own seat is a conflict too, because holds are
// not renewable.  The first caller to take the shard mutex wins; arrival
// order among simultaneous callers is otherwise undefined.
func (t *Table) Hold(seatID uint64, reservationID string) (model.SeatHold, error) {
	now := time.Now().UTC()
	s := t.shardFor(seatID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.holds[seatID]; ok && existing.Live(now) {
		return model.SeatHold{}, ErrSeatConflict
	}
	h := model.SeatHold{
		SeatID:        seatID,
		ReservationID: reservationID,
		AcquiredAt:    now,
		ExpiresAt:     now.Add(t.cfg.HoldTTL),
	}
	s.holds[seatID] = h
	return h, nil
}

// Release clears the hold on seatID only when reservationID is the
// current live holder.  A missing or expired hold fails with ErrNotHolder,
// as does a hold owned by a different reservation.
func (t *Table) Release(seatID uint64, reservationID string) error {
	now := time.Now().UTC()
	s := t.shardFor(seatID)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.holds[seatID]
	if !ok || !existing.Live(now) || existing.ReservationID != reservationID {
		return ErrNotHolder
	}
	delete(s.holds, seatID)
	return nil
}

// ReleaseByReservation drops every live hold owned by the reservation and
// returns the freed seat ids.  Used when a reservation is cancelled or
// expires.
func (t *Table) ReleaseByReservation(reservationID string) []uint64 {
	now := time.Now().UTC()
	var freed []uint64
	for _, s := range t.shards {
		s.mu.Lock()
		for seatID, h := range s.holds {
			if h.ReservationID == reservationID && h.Live(now) {
				delete(s.holds, seatID)
				freed = append(freed, seatID)
			}
		}
		s.mu.Unlock()
	}
	return freed
}

// Snapshot returns all live holds across shards.  Purely informational; by
// the time the caller looks at it the world may have moved on.
func (t *Table) Snapshot() []model.SeatHold {
	now := time.Now().UTC()
	var out []model.SeatHold
	for _, s := range t.shards {
		s.mu.Lock()
		for _, h := range s.holds {
			if h.Live(now) {
				out = append(out, h)
			}
		}
		s.mu.Unlock()
	}
	return out
}

// Sweep removes holds past their deadline.  This is housekeeping to bound
// map growth; correctness never depends on it because every access
// re-checks liveness.
func (t *Table) Sweep(now time.Time) int {
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for seatID, h := range s.holds {
			if !h.Live(now) {
				delete(s.holds, seatID)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps expired holds on a cadence until ctx is cancelled.
func (t *Table) Run(ctx context.Context) {
	interval := t.cfg.SweepInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.Sweep(time.Now().UTC())
		}
	}
}
