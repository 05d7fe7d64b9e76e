package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-rush/internal/config"
	"github.com/iliyamo/ticket-rush/internal/handler"
	"github.com/iliyamo/ticket-rush/internal/queue"
	"github.com/iliyamo/ticket-rush/internal/reservation"
	"github.com/iliyamo/ticket-rush/internal/router"
	"github.com/iliyamo/ticket-rush/internal/seatlock"
	"github.com/iliyamo/ticket-rush/internal/utils"
	"github.com/iliyamo/ticket-rush/internal/waitingroom"
)

const testSecret = "test-secret"

// testServer wires the ticketing surface the way main does, minus the
// database, Redis and broker: auth routes are omitted, rate limiting is
// disabled and the confirmation publisher is captured in memory.
type testServer struct {
	e         *echo.Echo
	gate      *waitingroom.Gate
	published []queue.ReservationConfirmedEvent
	mu        sync.Mutex
}

func newTestServer(t *testing.T, capacity int) *testServer {
	t.Helper()

	ts := &testServer{}
	ts.gate = waitingroom.New(waitingroom.Config{
		ActiveCapacity: capacity,
		ActiveTTL:      time.Minute,
		WaitingTTL:     time.Minute,
	})
	reservations := reservation.NewStore(reservation.Config{TTL: time.Minute})
	seats := seatlock.New(seatlock.Config{HoldTTL: time.Minute, Shards: 8})

	th := handler.NewTicketingHandler(ts.gate, reservations, seats)
	th.PublishConfirmed = func(_ context.Context, ev queue.ReservationConfirmedEvent) error {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.published = append(ts.published, ev)
		return nil
	}

	ts.e = echo.New()
	router.RegisterRoutes(ts.e)
	router.RegisterTicketing(ts.e, handler.NewQueueHandler(ts.gate), th, testSecret,
		config.RateLimitConfig{Enabled: false}, nil)
	return ts
}

func (ts *testServer) token(t *testing.T, userID uint64) string {
	t.Helper()
	at, err := utils.NewAccessToken(testSecret, userID, 5)
	require.NoError(t, err)
	return at.Token
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestTicketingRequiresAuth(t *testing.T) {
	ts := newTestServer(t, 10)

	rec, _ := ts.do(t, http.MethodPost, "/api/queue/enter", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/reservation", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReservationRequiresAdmission(t *testing.T) {
	ts := newTestServer(t, 1)

	// The only slot goes to user 1; user 2 waits.
	ts.do(t, http.MethodPost, "/api/queue/enter", ts.token(t, 1), nil)
	rec, body := ts.do(t, http.MethodPost, "/api/queue/enter", ts.token(t, 2), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "WAITING", body["status"])

	// A waiting user cannot create a reservation; a stranger cannot either.
	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/reservation", ts.token(t, 2), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/reservation", ts.token(t, 3), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The admitted user can.
	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/reservation", ts.token(t, 1), nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestQueueStatusContract(t *testing.T) {
	ts := newTestServer(t, 1)

	_, body := ts.do(t, http.MethodPost, "/api/queue/enter", ts.token(t, 1), nil)
	tok := body["token"].(string)

	rec, body := ts.do(t, http.MethodGet, "/api/queue/status?token="+tok, ts.token(t, 1), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ACTIVE", body["status"])

	rec, _ = ts.do(t, http.MethodGet, "/api/queue/status?token=bogus", ts.token(t, 1), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Re-entry returns the same token with a 200 rather than a 201.
	rec, body = ts.do(t, http.MethodPost, "/api/queue/enter", ts.token(t, 1), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tok, body["token"])
}

// TestOnSaleScenario walks the canonical contention story: A and B are both
// admitted, A wins seat 7, B conflicts, A moves to PAYING with the version
// it read, and a replay of that same stale write is a clean 409.
func TestOnSaleScenario(t *testing.T) {
	ts := newTestServer(t, 10)
	tokA := ts.token(t, 1)
	tokB := ts.token(t, 2)

	ts.do(t, http.MethodPost, "/api/queue/enter", tokA, nil)
	ts.do(t, http.MethodPost, "/api/queue/enter", tokB, nil)

	rec, body := ts.do(t, http.MethodPost, "/api/ticketing/reservation", tokA, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	resA := body["id"].(string)
	require.Equal(t, float64(0), body["version"])

	rec, body = ts.do(t, http.MethodPost, "/api/ticketing/reservation", tokB, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	resB := body["id"].(string)

	// A takes seat 7.
	rec, body = ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", tokA,
		map[string]any{"seatId": 7, "reservationId": resA})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["expiresAt"])

	// B collides on seat 7.
	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", tokB,
		map[string]any{"seatId": 7, "reservationId": resB})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// B cannot touch A's reservation either.
	rec, _ = ts.do(t, http.MethodPut, "/api/ticketing/reservation/"+resA+"/state", tokB,
		map[string]any{"state": "PAYING", "expectedVersion": 0})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A moves to PAYING with the version it observed.
	rec, body = ts.do(t, http.MethodPut, "/api/ticketing/reservation/"+resA+"/state", tokA,
		map[string]any{"state": "PAYING", "expectedVersion": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["version"])
	assert.Equal(t, "PAYING", body["state"])

	// Replaying the stale write is a deterministic conflict.
	rec, _ = ts.do(t, http.MethodPut, "/api/ticketing/reservation/"+resA+"/state", tokA,
		map[string]any{"state": "PAYING", "expectedVersion": 0})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Re-reading gives the current version to retry with.
	rec, body = ts.do(t, http.MethodGet, "/api/ticketing/reservation/"+resA, tokA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), body["version"])

	// Confirmation publishes the event with the held seat.
	rec, body = ts.do(t, http.MethodPut, "/api/ticketing/reservation/"+resA+"/state", tokA,
		map[string]any{"state": "CONFIRMED", "expectedVersion": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CONFIRMED", body["state"])

	require.Eventually(t, func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		return len(ts.published) == 1
	}, time.Second, 10*time.Millisecond)
	ts.mu.Lock()
	ev := ts.published[0]
	ts.mu.Unlock()
	assert.Equal(t, resA, ev.ReservationID)
	assert.Equal(t, []uint64{7}, ev.SeatIDs)
}

func TestCancelReleasesSeatHolds(t *testing.T) {
	ts := newTestServer(t, 10)
	tokA := ts.token(t, 1)
	tokB := ts.token(t, 2)

	ts.do(t, http.MethodPost, "/api/queue/enter", tokA, nil)
	ts.do(t, http.MethodPost, "/api/queue/enter", tokB, nil)

	_, body := ts.do(t, http.MethodPost, "/api/ticketing/reservation", tokA, nil)
	resA := body["id"].(string)
	_, body = ts.do(t, http.MethodPost, "/api/ticketing/reservation", tokB, nil)
	resB := body["id"].(string)

	rec, _ := ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", tokA,
		map[string]any{"seatId": 9, "reservationId": resA})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = ts.do(t, http.MethodPost, "/api/ticketing/reservation/"+resA+"/cancel", tokA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", body["state"])

	// The freed seat is immediately available to B.
	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", tokB,
		map[string]any{"seatId": 9, "reservationId": resB})
	assert.Equal(t, http.StatusOK, rec.Code)

	// A cancelled reservation cannot hold seats anymore.
	rec, body = ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", tokA,
		map[string]any{"seatId": 10, "reservationId": resA})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "holdable")
}

func TestSeatReleaseContract(t *testing.T) {
	ts := newTestServer(t, 10)
	tokA := ts.token(t, 1)

	ts.do(t, http.MethodPost, "/api/queue/enter", tokA, nil)
	_, body := ts.do(t, http.MethodPost, "/api/ticketing/reservation", tokA, nil)
	resA := body["id"].(string)

	// Releasing a seat that was never held is a conflict.
	rec, _ := ts.do(t, http.MethodPost, "/api/ticketing/seat/release", tokA,
		map[string]any{"seatId": 3, "reservationId": resA})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", tokA,
		map[string]any{"seatId": 3, "reservationId": resA})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/seat/release", tokA,
		map[string]any{"seatId": 3, "reservationId": resA})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Seat is free again.
	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", tokA,
		map[string]any{"seatId": 3, "reservationId": resA})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHeldSeatsSnapshot(t *testing.T) {
	ts := newTestServer(t, 10)
	tok := ts.token(t, 1)

	ts.do(t, http.MethodPost, "/api/queue/enter", tok, nil)
	_, body := ts.do(t, http.MethodPost, "/api/ticketing/reservation", tok, nil)
	res := body["id"].(string)

	for seat := 1; seat <= 3; seat++ {
		rec, _ := ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", tok,
			map[string]any{"seatId": seat, "reservationId": res})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, body := ts.do(t, http.MethodGet, "/api/ticketing/seat/held", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	seatsList, ok := body["seats"].([]any)
	require.True(t, ok)
	assert.Len(t, seatsList, 3)
}

func TestConcurrentHoldsViaHTTP(t *testing.T) {
	// One winner and N-1 conflicts, end to end rather than just at the table.
	const callers = 25
	ts := newTestServer(t, callers)

	type attempt struct {
		tok string
		res string
	}
	attempts := make([]attempt, callers)
	for i := 0; i < callers; i++ {
		tok := ts.token(t, uint64(i+1))
		ts.do(t, http.MethodPost, "/api/queue/enter", tok, nil)
		_, body := ts.do(t, http.MethodPost, "/api/ticketing/reservation", tok, nil)
		attempts[i] = attempt{tok: tok, res: body["id"].(string)}
	}

	var (
		start = make(chan struct{})
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)
	for _, a := range attempts {
		wg.Add(1)
		go func(a attempt) {
			defer wg.Done()
			<-start
			rec, _ := ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", a.tok,
				map[string]any{"seatId": 77, "reservationId": a.res})
			mu.Lock()
			codes[rec.Code]++
			mu.Unlock()
		}(a)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, codes[http.StatusOK], "codes: %v", codes)
	assert.Equal(t, callers-1, codes[http.StatusConflict], "codes: %v", codes)
}

func TestUnknownReservationAndBadBodies(t *testing.T) {
	ts := newTestServer(t, 10)
	tok := ts.token(t, 1)
	ts.do(t, http.MethodPost, "/api/queue/enter", tok, nil)

	rec, _ := ts.do(t, http.MethodGet, "/api/ticketing/reservation/does-not-exist", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", tok,
		map[string]any{"seatId": 1, "reservationId": "does-not-exist"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/ticketing/seat/hold", tok,
		map[string]any{"seatId": 0, "reservationId": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, body := ts.do(t, http.MethodPost, "/api/ticketing/reservation", tok, nil)
	res := body["id"].(string)

	rec, _ = ts.do(t, http.MethodPut, "/api/ticketing/reservation/"+res+"/state", tok,
		map[string]any{"state": "NONSENSE", "expectedVersion": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Clients may not force the system-driven EXPIRED state.
	rec, _ = ts.do(t, http.MethodPut, "/api/ticketing/reservation/"+res+"/state", tok,
		map[string]any{"state": "EXPIRED", "expectedVersion": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Illegal transition with a correct version is a 400, not a 409.
	rec, _ = ts.do(t, http.MethodPut, "/api/ticketing/reservation/"+res+"/state", tok,
		map[string]any{"state": "CONFIRMED", "expectedVersion": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
