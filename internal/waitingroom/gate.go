// Package waitingroom implements the virtual waiting room that throttles
// access to the ticketing path.  Arrivals receive an opaque queue token and
// wait in strict FIFO order; a fixed number of entries may be ACTIVE at once.
// The gate owns its state outright: all maps and the FIFO order live behind a
// single mutex and nothing else in the process mutates them.
package waitingroom

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/ticket-rush/internal/model"
)

// ErrNotFound is returned by Status when the token is unknown or the entry
// has expired.  Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("queue entry not found")

// Config controls admission behaviour.
type Config struct {
	ActiveCapacity  int           // max entries in ACTIVE at once
	PromoteInterval time.Duration // cadence of the background promotion tick
	ActiveTTL       time.Duration // idle time after which an ACTIVE entry expires
	WaitingTTL      time.Duration // max sojourn in WAITING before giving up the slot
}

// entry is the internal mutable record behind a queue token.  elem points at
// the entry's node in the FIFO list while the entry is WAITING.
type entry struct {
	token       string
	userID      uint64
	status      model.QueueStatus
	seq         uint64
	enteredAt   time.Time
	activatedAt time.Time
	lastSeenAt  time.Time
	elem        *list.Element
}

// Gate admits users into the ticketing path at a bounded concurrency.
// Promotion is strict FIFO by enqueue sequence; it runs both inline when a
// slot is known to be free (enter, expiry) and on a fixed cadence so idle
// expiries are noticed without traffic.
type Gate struct {
	cfg Config

	mu      sync.Mutex
	byToken map[string]*entry
	byUser  map[uint64]*entry
	waiting *list.List // *entry values, FIFO by seq
	nextSeq uint64
	active  int
}

// New returns a Gate with the given configuration.
func New(cfg Config) *Gate {
	if cfg.ActiveCapacity < 1 {
		cfg.ActiveCapacity = 1
	}
	return &Gate{
		cfg:     cfg,
		byToken: make(map[string]*entry),
		byUser:  make(map[uint64]*entry),
		waiting: list.New(),
	}
}

// Enter places the user in the waiting room.  If the user already has a live
// entry the existing one is returned unchanged (idempotent, whether WAITING
// or ACTIVE) and created is false.  A new entry starts WAITING and is
// promoted immediately when a capacity slot is free.
func (g *Gate) Enter(userID uint64) (model.QueueEntry, bool, error) {
	now := time.Now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweepLocked(now)

	if e, ok := g.byUser[userID]; ok && e.status != model.QueueExpired {
		e.lastSeenAt = now
		return g.snapshotLocked(e), false, nil
	}

	e := &entry{
		token:      uuid.NewString(),
		userID:     userID,
		status:     model.QueueWaiting,
		seq:        g.nextSeq,
		enteredAt:  now,
		lastSeenAt: now,
	}
	g.nextSeq++
	e.elem = g.waiting.PushBack(e)
	g.byToken[e.token] = e
	g.byUser[userID] = e

	g.promoteLocked(now)
	return g.snapshotLocked(e), true, nil
}

// Status reports the current state and position estimate for a token.  An
// unknown or expired token yields ErrNotFound.  Looking up an ACTIVE entry
// counts as activity and resets its idle clock.
func (g *Gate) Status(token string) (model.QueueEntry, error) {
	now := time.Now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweepLocked(now)

	e, ok := g.byToken[token]
	if !ok || e.status == model.QueueExpired {
		return model.QueueEntry{}, ErrNotFound
	}
	e.lastSeenAt = now
	return g.snapshotLocked(e), nil
}

// ActiveForUser reports whether the user currently holds an ACTIVE entry.
// Every successful check counts as activity on the entry, keeping it alive
// while the user works through the ticketing flow.
func (g *Gate) ActiveForUser(userID uint64) bool {
	now := time.Now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.byUser[userID]
	if !ok || e.status != model.QueueActive {
		return false
	}
	if g.cfg.ActiveTTL > 0 && now.Sub(e.lastSeenAt) > g.cfg.ActiveTTL {
		g.expireLocked(e)
		g.promoteLocked(now)
		return false
	}
	e.lastSeenAt = now
	return true
}

// Promote runs one admission pass: expired entries are reaped and the oldest
// WAITING entries fill any free ACTIVE slots.  The background loop calls
// this on a cadence; tests call it directly.
func (g *Gate) Promote() {
	now := time.Now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(now)
	g.promoteLocked(now)
}

// Run ticks the admission process until ctx is cancelled.
func (g *Gate) Run(ctx context.Context) {
	interval := g.cfg.PromoteInterval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.Promote()
		}
	}
}

// sweepLocked expires ACTIVE entries idle past ActiveTTL and WAITING entries
// whose sojourn exceeds WaitingTTL.  Expired entries are removed from every
// index, so later Status calls on the token report ErrNotFound and the user
// may re-enter the queue.
func (g *Gate) sweepLocked(now time.Time) {
	if g.cfg.ActiveTTL > 0 {
		for _, e := range g.byUser {
			if e.status == model.QueueActive && now.Sub(e.lastSeenAt) > g.cfg.ActiveTTL {
				g.expireLocked(e)
			}
		}
	}
	if g.cfg.WaitingTTL > 0 {
		for el := g.waiting.Front(); el != nil; {
			next := el.Next()
			e := el.Value.(*entry)
			if now.Sub(e.enteredAt) > g.cfg.WaitingTTL {
				g.expireLocked(e)
			}
			el = next
		}
	}
}

// expireLocked transitions an entry to EXPIRED and removes it from all
// indexes.  Expiring an ACTIVE entry frees a capacity slot.
func (g *Gate) expireLocked(e *entry) {
	if !e.status.CanTransitionTo(model.QueueExpired) {
		return
	}
	if e.status == model.QueueActive {
		g.active--
	}
	if e.elem != nil {
		g.waiting.Remove(e.elem)
		e.elem = nil
	}
	e.status = model.QueueExpired
	delete(g.byToken, e.token)
	delete(g.byUser, e.userID)
}

// promoteLocked admits the oldest WAITING entries until capacity is reached.
func (g *Gate) promoteLocked(now time.Time) {
	for g.active < g.cfg.ActiveCapacity {
		front := g.waiting.Front()
		if front == nil {
			return
		}
		e := front.Value.(*entry)
		g.waiting.Remove(front)
		e.elem = nil
		e.status = model.QueueActive
		e.activatedAt = now
		e.lastSeenAt = now
		g.active++
	}
}

// snapshotLocked copies an entry into the external model, computing the
// position estimate: the number of WAITING entries ahead plus one, or zero
// once ACTIVE.
func (g *Gate) snapshotLocked(e *entry) model.QueueEntry {
	pos := 0
	if e.status == model.QueueWaiting {
		pos = 1
		for el := g.waiting.Front(); el != nil; el = el.Next() {
			if el.Value.(*entry) == e {
				break
			}
			pos++
		}
	}
	return model.QueueEntry{
		Token:       e.token,
		UserID:      e.userID,
		Status:      e.status,
		Seq:         e.seq,
		Position:    pos,
		EnteredAt:   e.enteredAt,
		ActivatedAt: e.activatedAt,
		LastSeenAt:  e.lastSeenAt,
	}
}

// ActiveCount reports how many entries currently hold an ACTIVE slot.
func (g *Gate) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
