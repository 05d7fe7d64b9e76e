package config

import "time"

// GateConfig tunes the waiting-room admission gate.  ActiveCapacity bounds
// how many users may work the ticketing path at once; it is the throttle
// that keeps an arrival burst from landing on the reservation engine all at
// once.  The TTLs reap abandoned entries so their slots return to the pool.
type GateConfig struct {
	ActiveCapacity  int
	PromoteInterval time.Duration
	ActiveTTL       time.Duration
	WaitingTTL      time.Duration
}

// LoadGateConfig reads gate settings from the environment with defaults
// suitable for local development.
func LoadGateConfig() GateConfig {
	cfg := GateConfig{
		ActiveCapacity:  envInt("GATE_ACTIVE_CAPACITY", 50),
		PromoteInterval: envDur("GATE_PROMOTE_INTERVAL", time.Second),
		ActiveTTL:       envDur("GATE_ACTIVE_TTL", 60*time.Second),
		WaitingTTL:      envDur("GATE_WAITING_TTL", 10*time.Minute),
	}
	if cfg.ActiveCapacity < 1 {
		cfg.ActiveCapacity = 1
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}
	return cfg
}

// TicketingConfig tunes the reservation store and the seat lock table.
// SeatHoldTTL matches the checkout window: a held seat returns to the pool
// that many seconds after the hold is granted unless the reservation
// confirms first.
type TicketingConfig struct {
	ReservationTTL   time.Duration
	ReservationSweep time.Duration
	SeatHoldTTL      time.Duration
	SeatSweep        time.Duration
	SeatShards       int
}

// LoadTicketingConfig reads ticketing settings from the environment.
func LoadTicketingConfig() TicketingConfig {
	cfg := TicketingConfig{
		ReservationTTL:   envDur("RESERVATION_TTL", 5*time.Minute),
		ReservationSweep: envDur("RESERVATION_SWEEP_INTERVAL", 2*time.Second),
		SeatHoldTTL:      envDur("SEAT_HOLD_TTL", 20*time.Second),
		SeatSweep:        envDur("SEAT_SWEEP_INTERVAL", 2*time.Second),
		SeatShards:       envInt("SEAT_SHARDS", 64),
	}
	if cfg.SeatHoldTTL <= 0 {
		cfg.SeatHoldTTL = 20 * time.Second
	}
	return cfg
}
