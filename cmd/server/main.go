package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/alert-console/internal/adminapi"
	"github.com/kiwari-pos/alert-console/internal/audit"
	"github.com/kiwari-pos/alert-console/internal/auth"
	"github.com/kiwari-pos/alert-console/internal/card"
	"github.com/kiwari-pos/alert-console/internal/config"
	"github.com/kiwari-pos/alert-console/internal/enum"
	"github.com/kiwari-pos/alert-console/internal/handler"
	"github.com/kiwari-pos/alert-console/internal/poller"
	"github.com/kiwari-pos/alert-console/internal/push"
	"github.com/kiwari-pos/alert-console/internal/receipt"
	"github.com/kiwari-pos/alert-console/internal/router"
	"github.com/kiwari-pos/alert-console/internal/sound"
	"github.com/kiwari-pos/alert-console/internal/ws"
	log "github.com/sirupsen/logrus"
)

type cardsUpdatedPayload struct {
	Cards []card.Card `json:"cards"`
}

type cardsErrorPayload struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func main() {
	cfg := config.Load()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	ops, err := auth.ParseOperators(cfg.Operators)
	if err != nil {
		log.WithError(err).Fatal("Invalid OPERATORS")
	}
	if len(ops) == 0 {
		log.Warn("No operators configured, nobody can log in")
	}
	if cfg.APIToken == "" {
		log.Warn("API_TOKEN is empty, the admin API will reject polling")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audit trail (optional)
	var recorder audit.Recorder = audit.Nop{}
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("Unable to connect to database")
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.WithError(err).Fatal("Unable to ping database")
		}
		if err := audit.EnsureSchema(ctx, pool); err != nil {
			log.WithError(err).Fatal("Unable to prepare audit schema")
		}
		recorder = audit.NewPGRecorder(pool)
		log.Info("Audit trail enabled")
	}

	// Alert sound
	var beeper sound.Beeper = &sound.Bell{W: os.Stdout}
	if cfg.SoundCommand != "" {
		cmd, err := sound.ParseCommand(cfg.SoundCommand)
		if err != nil {
			log.WithError(err).Fatal("Invalid SOUND_COMMAND")
		}
		beeper = cmd
	}
	newPlayer := func() sound.Player {
		return sound.NewLoop(beeper,
			sound.WithRepeat(cfg.SoundRepeat),
			sound.WithMaxDuration(cfg.SoundMax),
			sound.WithLogger(log.StandardLogger()),
		)
	}

	// Operator tabs and notifications
	hub := ws.NewHub()
	notifier := push.NewNotifier(hub)
	clicks, err := push.NewClickRouter(hub, push.CommandOpener{Name: cfg.OpenCommand}, cfg.AdminURL)
	if err != nil {
		log.WithError(err).Fatal("Invalid ADMIN_URL")
	}

	// Poller
	api := adminapi.New(cfg.APIBaseURL, cfg.APIToken)
	p := poller.New(api, newPlayer,
		poller.WithInterval(cfg.PollInterval),
		poller.WithLogger(log.StandardLogger()),
		poller.WithErrorHandler(func(err error) {
			status := enum.StatusError
			if errors.Is(err, adminapi.ErrUnauthorized) {
				status = enum.StatusUnauthorized
			}
			broadcast(hub, ws.EventCardsError, cardsErrorPayload{Status: status, Error: err.Error()})
		}),
		poller.WithArrivalHandler(notifier.NotifyArrivals),
	)
	// Polling outlives the signal context so shutdown can stop it in order.
	session := p.Start(context.Background(), func(cards []card.Card) {
		broadcast(hub, ws.EventCardsUpdated, cardsUpdatedPayload{Cards: cards})
	})

	hub.OnGreet(func(c *ws.Client) []ws.Event {
		events := notifier.Greet(c.Buckets())
		if ev, err := ws.NewEvent(ws.EventCardsUpdated, cardsUpdatedPayload{Cards: session.Snapshot().Cards}); err == nil {
			events = append([]ws.Event{ev}, events...)
		}
		return events
	})
	hub.OnMessage(clicks.HandleMessage)
	go hub.Run()

	// Local receipt printer (optional)
	cardOpts := []handler.CardOption{handler.WithBadgeClearer(notifier)}
	if cfg.PrinterAddr != "" {
		cardOpts = append(cardOpts, handler.WithPrinter(
			receipt.NewNetworkPrinter(cfg.PrinterAddr),
			receipt.Options{Header: cfg.RestaurantName, Location: time.Local},
		))
		log.WithField("addr", cfg.PrinterAddr).Info("Receipt printer enabled")
	}

	r := router.New(cfg, router.Services{
		Operators:   ops,
		Session:     session,
		Alerts:      api,
		Recorder:    recorder,
		Hub:         hub,
		CardOptions: cardOpts,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	session.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server shutdown incomplete")
	}
	hub.Close()
}

func broadcast(hub *ws.Hub, eventType string, payload any) {
	ev, err := ws.NewEvent(eventType, payload)
	if err != nil {
		log.WithError(err).WithField("type", eventType).Error("failed to encode event")
		return
	}
	hub.BroadcastAll(ev)
}
