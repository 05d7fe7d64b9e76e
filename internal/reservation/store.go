// Package reservation manages reservation lifecycles under optimistic
// concurrency.  A reservation's version counter increments exactly once per
// accepted transition; a transition request must present the version the
// caller last observed and is rejected with ErrVersionConflict otherwise.
// No lock is ever held across a client round trip; contention is resolved
// at write time, per reservation id, and distinct reservations never
// contend with each other.
package reservation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/ticket-rush/internal/model"
)

// Sentinel errors returned by the store.  Handlers translate these into
// HTTP status codes: 404, 409 and 400 respectively.
var (
	ErrNotFound          = errors.New("reservation not found")
	ErrVersionConflict   = errors.New("reservation version conflict")
	ErrInvalidTransition = errors.New("invalid reservation state transition")
)

// Config controls reservation expiry.
type Config struct {
	TTL           time.Duration // inactivity window before a non-CONFIRMED reservation expires
	SweepInterval time.Duration // cadence of the background expiry sweep
}

// entry pairs a reservation snapshot with its own mutex.  The per-entry
// mutex is what makes the version compare-and-swap atomic for one id while
// leaving other ids uncontended.
type entry struct {
	mu  sync.Mutex
	res model.Reservation
}

// Store is the in-memory reservation table.  The outer RWMutex guards only
// the id→entry map; all state mutation happens under the entry mutex.
type Store struct {
	cfg Config

	mu   sync.RWMutex
	byID map[string]*entry

	// onExpire, when set, is invoked (outside all locks) with the id of
	// every reservation the sweep expires, so seat holds bound to it can be
	// released.  Wired to the seat lock table at startup.
	onExpire func(reservationID string)
}

// NewStore returns an empty Store.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg, byID: make(map[string]*entry)}
}

// OnExpire registers the callback run for reservations expired by the sweep.
func (s *Store) OnExpire(fn func(reservationID string)) { s.onExpire = fn }

// Create inserts a new reservation in state CREATED with version 0 and
// returns its snapshot.  Admission checks belong to the caller; the store
// itself accepts any user id.
func (s *Store) Create(userID uint64) model.Reservation {
	now := time.Now().UTC()
	res := model.Reservation{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     model.ReservationCreated,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.byID[res.ID] = &entry{res: res}
	s.mu.Unlock()
	return res
}

// Get returns the current snapshot of a reservation.  Callers use this to
// re-read state after a version conflict.
func (s *Store) Get(id string) (model.Reservation, error) {
	e, err := s.lookup(id)
	if err != nil {
		return model.Reservation{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.res, nil
}

// Transition applies a state change guarded by the version counter.  It
// succeeds only when the stored version equals expectedVersion and target is
// a legal successor of the current state; the version check runs first, so a
// stale caller always observes ErrVersionConflict regardless of the state it
// asks for.  A rejected transition never mutates the reservation.
func (s *Store) Transition(id string, expectedVersion int64, target model.ReservationState) (model.Reservation, error) {
	e, err := s.lookup(id)
	if err != nil {
		return model.Reservation{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.res.Version != expectedVersion {
		return model.Reservation{}, ErrVersionConflict
	}
	if !e.res.State.CanTransitionTo(target) {
		return model.Reservation{}, ErrInvalidTransition
	}
	e.res.State = target
	e.res.Version++
	e.res.UpdatedAt = time.Now().UTC()
	return e.res, nil
}

// Sweep expires every non-terminal reservation whose last accepted
// transition is older than the TTL and returns the expired snapshots.  The
// expiry transition bumps the version like any other accepted transition.
// The onExpire callback runs after all locks are dropped.
func (s *Store) Sweep(now time.Time) []model.Reservation {
	if s.cfg.TTL <= 0 {
		return nil
	}

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var expired []model.Reservation
	for _, e := range entries {
		e.mu.Lock()
		if !e.res.State.Terminal() && now.Sub(e.res.UpdatedAt) > s.cfg.TTL {
			e.res.State = model.ReservationExpired
			e.res.Version++
			e.res.UpdatedAt = now
			expired = append(expired, e.res)
		}
		e.mu.Unlock()
	}

	if s.onExpire != nil {
		for _, res := range expired {
			s.onExpire(res.ID)
		}
	}
	return expired
}

// Run sweeps expired reservations on a cadence until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(time.Now().UTC())
		}
	}
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}
