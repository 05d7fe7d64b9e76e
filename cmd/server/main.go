package main // Entry point package

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-rush/internal/config"
	"github.com/iliyamo/ticket-rush/internal/database"
	"github.com/iliyamo/ticket-rush/internal/handler"
	"github.com/iliyamo/ticket-rush/internal/queue"
	"github.com/iliyamo/ticket-rush/internal/repository"
	"github.com/iliyamo/ticket-rush/internal/reservation"
	"github.com/iliyamo/ticket-rush/internal/router"
	"github.com/iliyamo/ticket-rush/internal/seatlock"
	queue_publisher "github.com/iliyamo/ticket-rush/internal/service"
	"github.com/iliyamo/ticket-rush/internal/waitingroom"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment directly

	cfg := config.Load()
	gateCfg := config.LoadGateConfig()
	tickCfg := config.LoadTicketingConfig()
	rlCfg := config.LoadRateLimitConfig()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; rate limiting disabled")
	}

	// Core ticketing state, all in-memory and owned by its package.
	gate := waitingroom.New(waitingroom.Config{
		ActiveCapacity:  gateCfg.ActiveCapacity,
		PromoteInterval: gateCfg.PromoteInterval,
		ActiveTTL:       gateCfg.ActiveTTL,
		WaitingTTL:      gateCfg.WaitingTTL,
	})
	seats := seatlock.New(seatlock.Config{
		HoldTTL:       tickCfg.SeatHoldTTL,
		SweepInterval: tickCfg.SeatSweep,
		Shards:        tickCfg.SeatShards,
	})
	reservations := reservation.NewStore(reservation.Config{
		TTL:           tickCfg.ReservationTTL,
		SweepInterval: tickCfg.ReservationSweep,
	})
	// Reservations that expire take their seat holds with them.
	reservations.OnExpire(func(id string) {
		if freed := seats.ReleaseByReservation(id); len(freed) > 0 {
			log.Printf("reservation %s expired: released %d seat hold(s)", id, len(freed))
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gate.Run(ctx)
	go seats.Run(ctx)
	go reservations.Run(ctx)

	// Background consumer logging confirmed reservations from the broker.
	go func() {
		if err := queue.StartReservationConsumer(); err != nil {
			log.Printf("reservation consumer stopped: %v", err)
		}
	}()

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	authH := handler.NewAuthHandler(cfg, users, tokens)
	queueH := handler.NewQueueHandler(gate)
	ticketingH := handler.NewTicketingHandler(gate, reservations, seats)
	ticketingH.PublishConfirmed = queue_publisher.PublishReservationConfirmed

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, authH)
	router.RegisterTicketing(e, queueH, ticketingH, cfg.JWTSecret, rlCfg, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, gate capacity=%d)", addr, cfg.Env, gateCfg.ActiveCapacity)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
