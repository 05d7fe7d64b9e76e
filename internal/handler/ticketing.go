package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-rush/internal/middleware"
	"github.com/iliyamo/ticket-rush/internal/model"
	"github.com/iliyamo/ticket-rush/internal/queue"
	"github.com/iliyamo/ticket-rush/internal/reservation"
	"github.com/iliyamo/ticket-rush/internal/seatlock"
	"github.com/iliyamo/ticket-rush/internal/waitingroom"
)

// TicketingHandler composes the reservation manager and the seat lock table
// behind the admission gate.  No ticketing call succeeds for a user who is
// not currently ACTIVE in the waiting room.  Conflicts (version mismatch,
// seat taken) are expected outcomes under load and come back as plain 409s;
// the server never retries on the caller's behalf.
type TicketingHandler struct {
	Gate         *waitingroom.Gate
	Reservations *reservation.Store
	Seats        *seatlock.Table

	// PublishConfirmed sends the reservation-confirmed event.  Injectable
	// so tests run without a broker; nil disables publishing.
	PublishConfirmed func(ctx context.Context, ev queue.ReservationConfirmedEvent) error
}

func NewTicketingHandler(g *waitingroom.Gate, r *reservation.Store, s *seatlock.Table) *TicketingHandler {
	return &TicketingHandler{Gate: g, Reservations: r, Seats: s}
}

// ----- DTOs -----

type reservationResp struct {
	ID      string                 `json:"id"`
	UserID  uint64                 `json:"user_id"`
	State   model.ReservationState `json:"state"`
	Version int64                  `json:"version"`
}

type updateStateReq struct {
	State           string `json:"state"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

type holdReq struct {
	SeatID        uint64 `json:"seatId"`
	ReservationID string `json:"reservationId"`
}

type holdResp struct {
	SeatID        uint64    `json:"seatId"`
	ReservationID string    `json:"reservationId"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func toReservationResp(r model.Reservation) reservationResp {
	return reservationResp{ID: r.ID, UserID: r.UserID, State: r.State, Version: r.Version}
}

// CreateReservation handles POST /api/ticketing/reservation.  The caller
// must hold an ACTIVE waiting-room entry; anyone else gets a 403 and is
// sent back to the queue.
func (h *TicketingHandler) CreateReservation(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if !h.Gate.ActiveForUser(uid) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "queue admission required"})
	}
	res := h.Reservations.Create(uid)
	return c.JSON(http.StatusCreated, toReservationResp(res))
}

// GetReservation handles GET /api/ticketing/reservation/:id.  Callers use
// this to re-read current state and version after a 409.
func (h *TicketingHandler) GetReservation(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, err := h.Reservations.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}
	if res.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not reservation owner"})
	}
	return c.JSON(http.StatusOK, toReservationResp(res))
}

// UpdateState handles PUT /api/ticketing/reservation/:id/state.  The body
// carries the target state and the version the caller last observed; a
// stale version is a 409 and the reservation is untouched.  Reaching
// CANCELLED releases the reservation's seat holds; reaching CONFIRMED
// publishes the confirmation event.
func (h *TicketingHandler) UpdateState(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req updateStateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	target := model.ReservationState(strings.ToUpper(strings.TrimSpace(req.State)))
	if !target.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown state"})
	}
	if target == model.ReservationExpired {
		// Expiry is system-driven only; clients cancel instead.
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "state not client-settable"})
	}

	id := c.Param("id")
	current, err := h.Reservations.Get(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}
	if current.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not reservation owner"})
	}

	res, err := h.Reservations.Transition(id, req.ExpectedVersion, target)
	if err != nil {
		return h.transitionError(c, err)
	}
	h.afterTransition(c, res)
	return c.JSON(http.StatusOK, toReservationResp(res))
}

// Cancel handles POST /api/ticketing/reservation/:id/cancel.  Cancellation
// is a single compare-and-swap against the version read in this request; if
// another writer slips in between, the caller sees the same 409 contract as
// any other stale transition.
func (h *TicketingHandler) Cancel(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	current, err := h.Reservations.Get(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}
	if current.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not reservation owner"})
	}

	res, err := h.Reservations.Transition(id, current.Version, model.ReservationCancelled)
	if err != nil {
		return h.transitionError(c, err)
	}
	h.afterTransition(c, res)
	return c.JSON(http.StatusOK, toReservationResp(res))
}

// HoldSeat handles POST /api/ticketing/seat/hold.  The reservation must be
// the caller's own and in CREATED or PAYING; the seat grant itself is
// adjudicated atomically inside the lock table, so under contention exactly
// one of the concurrent callers for a seat receives 200 and the rest 409.
func (h *TicketingHandler) HoldSeat(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req holdReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.SeatID == 0 || req.ReservationID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seatId and reservationId required"})
	}

	res, err := h.Reservations.Get(req.ReservationID)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}
	if res.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not reservation owner"})
	}
	if res.State != model.ReservationCreated && res.State != model.ReservationPaying {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": seatlock.ErrInvalidReservationState.Error()})
	}

	hold, err := h.Seats.Hold(req.SeatID, req.ReservationID)
	if err != nil {
		if errors.Is(err, seatlock.ErrSeatConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "seat already held"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "hold failed"})
	}
	return c.JSON(http.StatusOK, holdResp{
		SeatID:        hold.SeatID,
		ReservationID: hold.ReservationID,
		ExpiresAt:     hold.ExpiresAt,
	})
}

// ReleaseSeat handles POST /api/ticketing/seat/release.  Only the current
// holder may release; anything else (wrong holder, expired, never held) is
// the same 409.
func (h *TicketingHandler) ReleaseSeat(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req holdReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.SeatID == 0 || req.ReservationID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seatId and reservationId required"})
	}

	res, err := h.Reservations.Get(req.ReservationID)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}
	if res.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not reservation owner"})
	}

	if err := h.Seats.Release(req.SeatID, req.ReservationID); err != nil {
		if errors.Is(err, seatlock.ErrNotHolder) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "reservation does not hold this seat"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "release failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"released": true})
}

// HeldSeats handles GET /api/ticketing/seat/held, returning a snapshot of
// all live holds.  Informational only.
func (h *TicketingHandler) HeldSeats(c echo.Context) error {
	holds := h.Seats.Snapshot()
	out := make([]holdResp, 0, len(holds))
	for _, hd := range holds {
		out = append(out, holdResp{
			SeatID:        hd.SeatID,
			ReservationID: hd.ReservationID,
			ExpiresAt:     hd.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"seats": out})
}

// transitionError maps store errors onto the HTTP contract: stale version →
// 409, illegal transition → 400, unknown id → 404.
func (h *TicketingHandler) transitionError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, reservation.ErrVersionConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "version conflict"})
	case errors.Is(err, reservation.ErrInvalidTransition):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid state transition"})
	case errors.Is(err, reservation.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "transition failed"})
}

// afterTransition runs the side effects of an accepted transition: reaching
// a terminal non-confirmed state frees the seats, reaching CONFIRMED
// publishes the confirmation event in the background.
func (h *TicketingHandler) afterTransition(c echo.Context, res model.Reservation) {
	switch res.State {
	case model.ReservationCancelled, model.ReservationExpired:
		if freed := h.Seats.ReleaseByReservation(res.ID); len(freed) > 0 {
			log.Printf("reservation %s %s: released %d seat hold(s)", res.ID, res.State, len(freed))
		}
	case model.ReservationConfirmed:
		if h.PublishConfirmed == nil {
			return
		}
		seatIDs := make([]uint64, 0)
		for _, hd := range h.Seats.Snapshot() {
			if hd.ReservationID == res.ID {
				seatIDs = append(seatIDs, hd.SeatID)
			}
		}
		ev := queue.ReservationConfirmedEvent{
			ReservationID: res.ID,
			UserID:        res.UserID,
			Version:       res.Version,
			SeatIDs:       seatIDs,
			ConfirmedAt:   res.UpdatedAt.Format(time.RFC3339),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = h.PublishConfirmed(ctx, ev) // best effort; failures are logged by the publisher
		}()
	}
}
