package model

import "time"

// ReservationState is the lifecycle state of a reservation.  CONFIRMED,
// EXPIRED and CANCELLED are terminal; no transition leaves them.
type ReservationState string

const (
	ReservationCreated   ReservationState = "CREATED"
	ReservationPaying    ReservationState = "PAYING"
	ReservationConfirmed ReservationState = "CONFIRMED"
	ReservationExpired   ReservationState = "EXPIRED"
	ReservationCancelled ReservationState = "CANCELLED"
)

// Valid reports whether s is one of the known reservation states.
func (s ReservationState) Valid() bool {
	switch s {
	case ReservationCreated, ReservationPaying, ReservationConfirmed,
		ReservationExpired, ReservationCancelled:
		return true
	}
	return false
}

// Terminal reports whether s absorbs all further transitions.
func (s ReservationState) Terminal() bool {
	return s == ReservationConfirmed || s == ReservationExpired || s == ReservationCancelled
}

// CanTransitionTo reports whether target is a legal successor of s.
// Legal transitions: CREATED→PAYING, PAYING→CONFIRMED,
// {CREATED,PAYING}→CANCELLED and any non-terminal state → EXPIRED.
func (s ReservationState) CanTransitionTo(target ReservationState) bool {
	if s.Terminal() {
		return false
	}
	switch target {
	case ReservationPaying:
		return s == ReservationCreated
	case ReservationConfirmed:
		return s == ReservationPaying
	case ReservationCancelled:
		return s == ReservationCreated || s == ReservationPaying
	case ReservationExpired:
		return true
	}
	return false
}

// Reservation is an in-flight booking attempt by an admitted user.  The
// Version counter increments exactly once per accepted state transition;
// callers must present the version they last observed when requesting a
// transition, which is how concurrent writers are detected.
//
// Fields:
//  ID        – opaque reservation identifier (UUID).
//  UserID    – owning user; only the owner may drive transitions.
//  State     – current lifecycle state.
//  Version   – monotonic counter, 0 at creation.
//  CreatedAt – creation timestamp.
//  UpdatedAt – timestamp of the last accepted transition; the inactivity
//              TTL is measured from here.
type Reservation struct {
	ID        string           `json:"id"`
	UserID    uint64           `json:"user_id"`
	State     ReservationState `json:"state"`
	Version   int64            `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
