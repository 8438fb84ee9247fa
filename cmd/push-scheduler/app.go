package main

import (
	"context"
	"fmt"

	"github.com/labcompare/push-scheduler/internal/audience"
	"github.com/labcompare/push-scheduler/internal/circuitbreaker"
	"github.com/labcompare/push-scheduler/internal/claim"
	"github.com/labcompare/push-scheduler/internal/config"
	"github.com/labcompare/push-scheduler/internal/delivery"
	"github.com/labcompare/push-scheduler/internal/events"
	"github.com/labcompare/push-scheduler/internal/pushclient"
	"github.com/labcompare/push-scheduler/internal/scheduler"
	"github.com/labcompare/push-scheduler/internal/server"
	"github.com/labcompare/push-scheduler/internal/service"
	"github.com/labcompare/push-scheduler/internal/storage/bolt"
	"go.uber.org/zap"
)

// app is the fully wired process.
type app struct {
	scheduler *scheduler.Scheduler
	server    *server.Server
	closers   []func() error
	log       *zap.Logger
}

func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{log: log}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := bolt.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	var claims claim.Claimer = claim.NewMemory()
	if cfg.Redis.URL != "" {
		r, err := claim.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		claims = r
		log.Info("using redis claims", zap.String("prefix", cfg.Redis.KeyPrefix))
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.RabbitMQ.URL != "" {
		r, err := events.NewRabbit(events.RabbitConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
		})
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		publisher = r
		log.Info("publishing outcome events", zap.String("exchange", cfg.RabbitMQ.Exchange))
	}

	b := cfg.Push.Breaker
	breaker := circuitbreaker.New("push", circuitbreaker.Settings{
		MaxRequests:  b.MaxRequests,
		Interval:     b.Interval,
		Timeout:      b.Timeout,
		FailureRatio: b.FailureRatio,
		MinRequests:  b.MinRequests,
	}, log)
	push, err := pushclient.New(cfg.Push.BaseURL, cfg.Push.Token, cfg.Push.RequestTimeout, breaker)
	if err != nil {
		return nil, fmt.Errorf("init push client: %w", err)
	}

	engine := delivery.NewEngine(push, cfg.Push.RatePerSec, cfg.Push.RequestTimeout, log)
	broadcaster := delivery.NewBroadcaster(engine, store, cfg.Push.Concurrency, log)
	resolver := audience.NewResolver(store, log)

	a.scheduler = scheduler.New(store, resolver, broadcaster, claims, publisher, scheduler.Config{
		Interval:   cfg.Scheduler.Interval,
		Workers:    cfg.Scheduler.Workers,
		BatchLimit: cfg.Scheduler.BatchLimit,
		ClaimTTL:   cfg.Scheduler.ClaimTTL,
		Location:   loc,
	}, log)

	logs := service.NewDeliveryLogService(store)
	a.server = server.New(cfg, server.Services{
		Notifications: service.NewNotificationService(store, resolver, broadcaster, claims, log),
		Journeys:      service.NewJourneyService(store, loc, log),
		Users:         service.NewUserService(store),
		Logs:          logs,
		Summary:       service.NewSummaryService(store, logs),
		Auth:          service.NewAuthService(cfg.Auth),
	}, push, log)

	log.Info("push-scheduler ready",
		zap.String("store", cfg.Storage.Path),
		zap.String("push", push.BaseURL()),
		zap.Stringer("timezone", loc))
	ready = true
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close", zap.Error(err))
		}
	}
	a.closers = nil
}
