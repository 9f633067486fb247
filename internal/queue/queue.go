// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adiadia/activity-relay/internal/domain"
)

const DefaultConnection = "default"

var (
	ErrUnknownConnection = errors.New("unknown queue connection")
	ErrClaimLost         = errors.New("queue claim lost")
)

// Claimed is a task handed to a single worker until it is acknowledged.
type Claimed struct {
	Task    domain.DeliveryTask
	receipt string
}

// Options select where and when a task is delivered.
type Options struct {
	Connection string
	Queue      string
	Delay      time.Duration
}

// Backend is one queue connection.
type Backend interface {
	Enqueue(ctx context.Context, queue string, task domain.DeliveryTask, delay time.Duration) error
	Claim(ctx context.Context, queue string) (Claimed, bool, error)
	Ack(ctx context.Context, queue string, c Claimed) error
}

// Broker routes tasks to named connections.
type Broker struct {
	backends map[string]Backend
}

func NewBroker(backends map[string]Backend) *Broker {
	b := &Broker{backends: make(map[string]Backend, len(backends))}
	for name, backend := range backends {
		b.backends[name] = backend
	}
	return b
}

func (b *Broker) Enqueue(ctx context.Context, task domain.DeliveryTask, opts Options) error {
	backend, err := b.Connection(opts.Connection)
	if err != nil {
		return err
	}
	return backend.Enqueue(ctx, opts.Queue, task, opts.Delay)
}

// Connection returns the backend for name; an empty name means default.
func (b *Broker) Connection(name string) (Backend, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultConnection
	}
	backend, ok := b.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}
	return backend, nil
}
