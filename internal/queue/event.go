// Package queue defines message payloads exchanged over the message broker.
package queue

// ReservationConfirmedEvent is published when a reservation reaches
// CONFIRMED.  It carries enough for downstream consumers to log or notify
// without reaching back into the process that produced it.
type ReservationConfirmedEvent struct {
	ReservationID string   `json:"reservation_id"`
	UserID        uint64   `json:"user_id"`
	Version       int64    `json:"version"`
	SeatIDs       []uint64 `json:"seat_ids"`
	ConfirmedAt   string   `json:"confirmed_at"`
}
