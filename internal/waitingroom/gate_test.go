package waitingroom

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-rush/internal/model"
)

func newTestGate(capacity int) *Gate {
	return New(Config{
		ActiveCapacity: capacity,
		ActiveTTL:      time.Minute,
		WaitingTTL:     time.Minute,
	})
}

func TestEnterAdmitsUpToCapacity(t *testing.T) {
	g := newTestGate(2)

	a, created, err := g.Enter(1)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.QueueActive, a.Status)

	b, _, err := g.Enter(2)
	require.NoError(t, err)
	assert.Equal(t, model.QueueActive, b.Status)

	// Capacity is full; the third arrival waits.
	c, _, err := g.Enter(3)
	require.NoError(t, err)
	assert.Equal(t, model.QueueWaiting, c.Status)
	assert.Equal(t, 1, c.Position)
	assert.Equal(t, 2, g.ActiveCount())
}

func TestEnterIsIdempotentPerUser(t *testing.T) {
	g := newTestGate(1)

	first, created, err := g.Enter(7)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := g.Enter(7)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Token, again.Token)
	assert.Equal(t, model.QueueActive, again.Status)

	// A waiting user re-entering keeps their place in line.
	w1, _, _ := g.Enter(8)
	w2, _, _ := g.Enter(9)
	require.Equal(t, model.QueueWaiting, w1.Status)
	require.Equal(t, model.QueueWaiting, w2.Status)

	w1Again, created, err := g.Enter(8)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, w1.Token, w1Again.Token)
	assert.Equal(t, 1, w1Again.Position)
	w2Again, _, _ := g.Enter(9)
	assert.Equal(t, 2, w2Again.Position)
}

func TestPromotionIsFIFO(t *testing.T) {
	const capacity = 3
	g := newTestGate(capacity)

	// Fill capacity, then queue five more in order.
	for uid := uint64(1); uid <= capacity; uid++ {
		e, _, _ := g.Enter(uid)
		require.Equal(t, model.QueueActive, e.Status)
	}
	tokens := make(map[uint64]string)
	for uid := uint64(4); uid <= 8; uid++ {
		e, _, _ := g.Enter(uid)
		require.Equal(t, model.QueueWaiting, e.Status)
		tokens[uid] = e.Token
	}

	// Position estimates follow arrival order.
	for i, uid := range []uint64{4, 5, 6, 7, 8} {
		st, err := g.Status(tokens[uid])
		require.NoError(t, err)
		assert.Equal(t, i+1, st.Position)
	}
}

func TestActiveIdleExpiryFreesSlotForOldestWaiter(t *testing.T) {
	g := New(Config{
		ActiveCapacity: 1,
		ActiveTTL:      20 * time.Millisecond,
		WaitingTTL:     time.Minute,
	})

	active, _, _ := g.Enter(1)
	require.Equal(t, model.QueueActive, active.Status)
	waiting, _, _ := g.Enter(2)
	require.Equal(t, model.QueueWaiting, waiting.Status)

	time.Sleep(50 * time.Millisecond)
	g.Promote()

	// The idle ACTIVE entry expired and its token is gone.
	_, err := g.Status(active.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, g.ActiveForUser(1))

	// The oldest waiter took the freed slot.
	st, err := g.Status(waiting.Token)
	require.NoError(t, err)
	assert.Equal(t, model.QueueActive, st.Status)
	assert.True(t, g.ActiveForUser(2))
}

func TestWaitingSojournExpiry(t *testing.T) {
	g := New(Config{
		ActiveCapacity: 1,
		ActiveTTL:      time.Minute,
		WaitingTTL:     20 * time.Millisecond,
	})

	g.Enter(1) // takes the only slot
	w, _, _ := g.Enter(2)
	require.Equal(t, model.QueueWaiting, w.Status)

	time.Sleep(50 * time.Millisecond)
	g.Promote()

	_, err := g.Status(w.Token)
	assert.ErrorIs(t, err, ErrNotFound)

	// Having expired, the user can re-enter with a fresh entry.
	again, created, err := g.Enter(2)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, w.Token, again.Token)
}

func TestStatusUnknownToken(t *testing.T) {
	g := newTestGate(1)
	_, err := g.Status("no-such-token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveForUser(t *testing.T) {
	g := newTestGate(1)

	assert.False(t, g.ActiveForUser(1), "unknown user is not admitted")

	g.Enter(1)
	assert.True(t, g.ActiveForUser(1))

	w, _, _ := g.Enter(2)
	require.Equal(t, model.QueueWaiting, w.Status)
	assert.False(t, g.ActiveForUser(2), "waiting user is not admitted")
}

func TestConcurrentEntryKeepsInvariants(t *testing.T) {
	const users = 100
	const capacity = 10
	g := newTestGate(capacity)

	var wg sync.WaitGroup
	tokens := make([]string, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e, _, _ := g.Enter(uint64(n + 1))
			tokens[n] = e.Token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, g.ActiveCount())

	active := 0
	waiting := 0
	for _, tok := range tokens {
		st, err := g.Status(tok)
		require.NoError(t, err)
		switch st.Status {
		case model.QueueActive:
			active++
		case model.QueueWaiting:
			waiting++
		}
	}
	assert.Equal(t, capacity, active)
	assert.Equal(t, users-capacity, waiting)
}
