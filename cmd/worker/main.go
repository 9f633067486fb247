// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/adiadia/activity-relay/internal/app"
	"github.com/adiadia/activity-relay/internal/config"
	"github.com/adiadia/activity-relay/internal/logging"
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

	pool, err := factory.WorkerPool(ctx)
	if err != nil {
		log.Fatalf("worker init failed: %v", err)
	}

	logger.Info("worker started",
		"connection", cfg.Notifications.QueueConnection,
		"queue", cfg.Notifications.QueueName,
		"workers", cfg.Delivery.Workers,
	)
	pool.Run(ctx)
}
