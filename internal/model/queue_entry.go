package model

import "time"

// QueueStatus is the lifecycle state of a waiting-room entry.  Entries are
// created WAITING, promoted to ACTIVE by the gate's admission process and
// end up EXPIRED either after an idle period in ACTIVE or after waiting
// too long without ever being admitted.
type QueueStatus string

const (
	QueueWaiting QueueStatus = "WAITING"
	QueueActive  QueueStatus = "ACTIVE"
	QueueExpired QueueStatus = "EXPIRED"
)

// CanTransitionTo reports whether the status may change to target.  WAITING
// entries can be promoted or expired; ACTIVE entries can only expire;
// EXPIRED is terminal.  Promotion is the single path into ACTIVE: an entry
// is never demoted back to WAITING.
func (s QueueStatus) CanTransitionTo(target QueueStatus) bool {
	switch s {
	case QueueWaiting:
		return target == QueueActive || target == QueueExpired
	case QueueActive:
		return target == QueueExpired
	}
	return false
}

// QueueEntry is a user's place in the virtual waiting room.  A user holds at
// most one live (WAITING or ACTIVE) entry at a time; re-entering the queue
// returns the existing entry.
//
// Fields:
//  Token       – opaque token identifying the entry; returned to the client.
//  UserID      – owning user.
//  Status      – WAITING, ACTIVE or EXPIRED.
//  Seq         – monotonic enqueue sequence number; promotion order is
//                strictly ascending by Seq.
//  Position    – estimated number of entries ahead (0 when ACTIVE).
//  EnteredAt   – when the entry was created.
//  ActivatedAt – when the entry was promoted to ACTIVE (zero while WAITING).
//  LastSeenAt  – last time the entry was used; ACTIVE entries idle past the
//                configured TTL expire and free a capacity slot.
type QueueEntry struct {
	Token       string      `json:"token"`
	UserID      uint64      `json:"user_id"`
	Status      QueueStatus `json:"status"`
	Seq         uint64      `json:"-"`
	Position    int         `json:"position"`
	EnteredAt   time.Time   `json:"entered_at"`
	ActivatedAt time.Time   `json:"activated_at,omitempty"`
	LastSeenAt  time.Time   `json:"-"`
}
