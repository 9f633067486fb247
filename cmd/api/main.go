// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/activity-relay/internal/app"
	"github.com/adiadia/activity-relay/internal/config"
	"github.com/adiadia/activity-relay/internal/logging"
	"github.com/adiadia/activity-relay/internal/persistence/postgres"
	httptransport "github.com/adiadia/activity-relay/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, cfg.AppName)

	factory := app.NewFactory(cfg, logger)
	defer factory.Close()

	pool, err := factory.Postgres(ctx)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	events, err := factory.Events(ctx)
	if err != nil {
		log.Fatalf("event repository: %v", err)
	}
	service, err := factory.Activity(ctx)
	if err != nil {
		log.Fatalf("activity service: %v", err)
	}

	deps := httptransport.Deps{
		Activity:        service,
		Events:          events,
		Webhook:         factory.Webhook(),
		QueueConnection: cfg.Notifications.QueueConnection,
		QueueName:       cfg.Notifications.QueueName,
		HealthCheckers:  []httptransport.HealthChecker{postgres.NewSchemaHealthChecker(pool)},
		Logger:          logger,
		AdminToken:      cfg.AdminToken,
		EventsPerMinute: cfg.EventsPerMinute,
		Env:             cfg.Env,
		Version:         Version,
		Commit:          Commit,
		BuildDate:       BuildDate,
	}
	if broker, err := factory.Queue(ctx); err == nil {
		deps.Queue = broker
		deps.HealthCheckers = append(deps.HealthCheckers, httptransport.HealthCheckFunc(broker.Ping))
	} else if !errors.Is(err, app.ErrQueueDisabled) {
		log.Fatalf("queue connect failed: %v", err)
	}

	if cfg.Notifications.SendBootup {
		service.Bootup(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
			"delivery", factory.Policy().DeliveryMode().String(),
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
