package model

import "time"

// SeatHold is a time-bounded exclusive claim on a seat, distinct from final
// purchase confirmation.  A seat has zero or one live hold at any instant;
// a hold past its expiry deadline is treated as absent.
//
// Fields:
//  SeatID        – seat being held.
//  ReservationID – reservation that owns the hold (reference by id only).
//  AcquiredAt    – when the hold was granted.
//  ExpiresAt     – expiry deadline; the hold is dead once this passes.
type SeatHold struct {
	SeatID        uint64    `json:"seat_id"`
	ReservationID string    `json:"reservation_id"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Live reports whether the hold is still in force at the given instant.
func (h SeatHold) Live(now time.Time) bool {
	return now.Before(h.ExpiresAt)
}
