// Package redis provides a conversation.Store and a distributed
// conversation.Locker on top of Redis, for deployments that run more than one
// taskvox replica.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papercomputeco/taskvox/pkg/conversation"
)

// DefaultKeyPrefix namespaces every key this package writes.
const DefaultKeyPrefix = "taskvox:"

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix is prepended to every key. Empty means DefaultKeyPrefix.
	KeyPrefix string

	// TTL expires idle conversations. Zero keeps them forever.
	TTL time.Duration
}

// Driver stores each conversation as a JSON string value.
type Driver struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewDriver connects to Redis and verifies the connection.
func NewDriver(ctx context.Context, cfg Config) (*Driver, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &Driver{
		client:    client,
		keyPrefix: prefix,
		ttl:       cfg.TTL,
	}, nil
}

// Client returns the underlying client, shared with the Locker.
func (d *Driver) Client() *redis.Client {
	return d.client
}

// KeyPrefix returns the namespace used for keys.
func (d *Driver) KeyPrefix() string {
	return d.keyPrefix
}

func (d *Driver) key(id string) string {
	return d.keyPrefix + "conversation:" + id
}

func (d *Driver) Get(ctx context.Context, id string) (*conversation.State, error) {
	data, err := d.client.Get(ctx, d.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, conversation.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var state conversation.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", id, err)
	}
	if state.PendingQuestions == nil {
		state.PendingQuestions = []string{}
	}
	return &state, nil
}

func (d *Driver) Create(ctx context.Context, state *conversation.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	ok, err := d.client.SetNX(ctx, d.key(state.ID), data, d.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return conversation.ErrAlreadyExists
	}
	return nil
}

func (d *Driver) Update(ctx context.Context, state *conversation.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	if err := d.client.Set(ctx, d.key(state.ID), data, d.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, d.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (d *Driver) Close() error {
	return d.client.Close()
}
