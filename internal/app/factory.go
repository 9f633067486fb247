// SPDX-License-Identifier: Apache-2.0

// Package app builds the long-lived components shared by the binaries.
// Components are created on first use and reused afterwards.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/activity-relay/internal/activity"
	"github.com/adiadia/activity-relay/internal/config"
	"github.com/adiadia/activity-relay/internal/discord"
	"github.com/adiadia/activity-relay/internal/dispatch"
	"github.com/adiadia/activity-relay/internal/persistence/postgres"
	"github.com/adiadia/activity-relay/internal/policy"
	"github.com/adiadia/activity-relay/internal/queue"
	"github.com/adiadia/activity-relay/internal/render"
	"github.com/adiadia/activity-relay/internal/repository"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// ErrQueueDisabled is returned by Queue when notifications run synchronously.
var ErrQueueDisabled = errors.New("queued delivery is disabled")

type Factory struct {
	cfg    config.Config
	logger *slog.Logger

	pgPool     *pgxpool.Pool
	events     *repository.EventRepository
	broker     *queue.Broker
	closeQueue func()
	client     *discord.Client
	policy     *policy.Policy
	resolver   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	service    *activity.Service
}

func NewFactory(cfg config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger}
}

func (f *Factory) Config() config.Config {
	return f.cfg
}

// Postgres connects with retries and applies migrations when AutoMigrate is set.
func (f *Factory) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if f.pgPool != nil {
		return f.pgPool, nil
	}

	maxConns := int32(f.cfg.Delivery.Workers) + 2
	var (
		pool *pgxpool.Pool
		err  error
	)
	for i := 0; i < connectAttempts; i++ {
		pool, err = postgres.NewPool(ctx, f.cfg.DatabaseURL, postgres.WithMaxConns(maxConns))
		if err == nil {
			break
		}
		f.logger.Warn("postgres connect failed, retrying",
			"attempt", i+1,
			"max_attempts", connectAttempts,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("init postgres after retries: %w", err)
	}

	if f.cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, f.logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	f.pgPool = pool
	return pool, nil
}

func (f *Factory) Events(ctx context.Context) (*repository.EventRepository, error) {
	if f.events != nil {
		return f.events, nil
	}
	pool, err := f.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	f.events = repository.NewEventRepository(pool, f.logger)
	return f.events, nil
}

// Queue returns the Redis broker, or ErrQueueDisabled in synchronous mode.
func (f *Factory) Queue(ctx context.Context) (*queue.Broker, error) {
	if f.broker != nil {
		return f.broker, nil
	}
	if !f.cfg.Notifications.Queue {
		return nil, ErrQueueDisabled
	}

	broker, closeFn, err := queue.Connect(ctx, f.cfg.Redis,
		queue.WithVisibilityTimeout(f.cfg.Delivery.VisibilityTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	f.broker, f.closeQueue = broker, closeFn
	return broker, nil
}

func (f *Factory) Webhook() *discord.Client {
	if f.client == nil {
		f.client = discord.NewClient(discord.ConfigFrom(f.cfg), f.logger)
	}
	return f.client
}

func (f *Factory) Policy() *policy.Policy {
	if f.policy == nil {
		f.policy = policy.New(f.cfg.Notifications)
	}
	return f.policy
}

// Resolver looks up causers and subjects for embeds. Entity types without a
// registered lookup render with the name captured at record time, else as
// "Type #id".
func (f *Factory) Resolver() *dispatch.Registry {
	if f.resolver == nil {
		f.resolver = dispatch.NewRegistry()
	}
	return f.resolver
}

func (f *Factory) Dispatcher(ctx context.Context) (*dispatch.Dispatcher, error) {
	if f.dispatcher != nil {
		return f.dispatcher, nil
	}
	events, err := f.Events(ctx)
	if err != nil {
		return nil, err
	}

	f.dispatcher = dispatch.New(dispatch.Deps{
		Store:       events,
		Sender:      f.Webhook(),
		Policy:      f.Policy(),
		Resolver:    f.Resolver(),
		Options:     render.NewOptions(f.cfg.AppName, f.cfg.Limits, f.cfg.Notifications.SensitiveFields),
		MaxAttempts: f.cfg.Delivery.MaxAttempts,
		RetryWindow: f.cfg.Delivery.RetryWindow,
		Backoff:     f.cfg.Delivery.Backoff,
		Logger:      f.logger,
	})
	return f.dispatcher, nil
}

// Activity wires the service for the configured delivery mode.
func (f *Factory) Activity(ctx context.Context) (*activity.Service, error) {
	if f.service != nil {
		return f.service, nil
	}
	events, err := f.Events(ctx)
	if err != nil {
		return nil, err
	}

	deps := activity.Deps{
		Store:     events,
		Policy:    f.Policy(),
		Sensitive: f.cfg.Notifications.SensitiveFields,
		Env:       f.cfg.Env,
		AppName:   f.cfg.AppName,
		Logger:    f.logger,
	}

	if f.cfg.Notifications.Queue {
		broker, err := f.Queue(ctx)
		if err != nil {
			return nil, err
		}
		deps.Queue = broker
	} else {
		d, err := f.Dispatcher(ctx)
		if err != nil {
			return nil, err
		}
		deps.Dispatcher = d
	}

	f.service = activity.New(deps)
	return f.service, nil
}

// WorkerPool builds the delivery pool on the configured queue connection.
func (f *Factory) WorkerPool(ctx context.Context) (*dispatch.Pool, error) {
	broker, err := f.Queue(ctx)
	if err != nil {
		return nil, err
	}
	backend, err := broker.Connection(f.cfg.Notifications.QueueConnection)
	if err != nil {
		return nil, err
	}
	d, err := f.Dispatcher(ctx)
	if err != nil {
		return nil, err
	}

	return dispatch.NewPool(dispatch.PoolDeps{
		Queue:        backend,
		QueueName:    f.cfg.Notifications.QueueName,
		Processor:    d,
		Workers:      f.cfg.Delivery.Workers,
		PollInterval: f.cfg.Delivery.PollInterval,
		Logger:       f.logger,
	}), nil
}

func (f *Factory) Close() {
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.closeQueue != nil {
		f.closeQueue()
	}
}
