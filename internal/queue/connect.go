// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/adiadia/activity-relay/internal/config"
)

// Connect opens one Redis client per configured connection and returns a
// broker over them. The default connection always uses cfg.Addr. The
// returned close func releases every client.
func Connect(ctx context.Context, cfg config.Redis, opts ...RedisOption) (*Broker, func(), error) {
	addrs := map[string]string{DefaultConnection: cfg.Addr}
	for name, addr := range cfg.Connections {
		if name == DefaultConnection || addr == "" {
			continue
		}
		addrs[name] = addr
	}

	clients := make([]*redis.Client, 0, len(addrs))
	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}

	backends := make(map[string]Backend, len(addrs))
	for name, addr := range addrs {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		clients = append(clients, client)

		if err := client.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("redis connection %q: %w", name, err)
		}
		backends[name] = NewRedisQueue(client, opts...)
	}

	return NewBroker(backends), closeAll, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks every connection that supports it.
func (b *Broker) Ping(ctx context.Context) error {
	var errs []error
	for name, backend := range b.backends {
		p, ok := backend.(pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("queue connection %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

type statser interface {
	Stats(ctx context.Context, queue string) (Stats, error)
}

// Stats reports queue depth on the named connection.
func (b *Broker) Stats(ctx context.Context, connection, queue string) (Stats, error) {
	backend, err := b.Connection(connection)
	if err != nil {
		return Stats{}, err
	}
	s, ok := backend.(statser)
	if !ok {
		return Stats{}, fmt.Errorf("queue connection %q does not report stats", connection)
	}
	return s.Stats(ctx, queue)
}
