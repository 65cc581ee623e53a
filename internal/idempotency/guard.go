// Package idempotency remembers which Idempotency-Key values have already
// produced an order so a retried POST does not place a second one.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "idempotency:order:"
	pendingValue = "pending"
)

var ErrInProgress = errors.New("a request with this idempotency key is still in progress")

// Result describes what a key was already used for. OrderID is zero while the
// first request is still running.
type Result struct {
	OrderID int64
	Pending bool
}

// Guard is backed by Redis. A nil *Guard admits every request and records
// nothing.
type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	return &Guard{client: client, ttl: ttl}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func key(userID int64, idemKey string) string {
	return keyPrefix + strconv.FormatInt(userID, 10) + ":" + idemKey
}

// Reserve claims the key for userID. It returns (nil, nil) when the caller
// owns the key and should go on to place the order. Otherwise it returns what
// the earlier request recorded.
func (g *Guard) Reserve(ctx context.Context, userID int64, idemKey string) (*Result, error) {
	if g == nil || idemKey == "" {
		return nil, nil
	}

	ok, err := g.client.SetNX(ctx, key(userID, idemKey), pendingValue, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	existing, err := g.Lookup(ctx, userID, idemKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// expired between SETNX and GET
		return g.Reserve(ctx, userID, idemKey)
	}
	return existing, nil
}

func (g *Guard) Lookup(ctx context.Context, userID int64, idemKey string) (*Result, error) {
	if g == nil || idemKey == "" {
		return nil, nil
	}

	value, err := g.client.Get(ctx, key(userID, idemKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	if value == pendingValue {
		return &Result{Pending: true}, nil
	}

	orderID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt idempotency value %q: %w", value, err)
	}
	return &Result{OrderID: orderID}, nil
}

// Complete binds the key to the order that was placed under it.
func (g *Guard) Complete(ctx context.Context, userID int64, idemKey string, orderID int64) error {
	if g == nil || idemKey == "" {
		return nil
	}

	if err := g.client.Set(ctx, key(userID, idemKey), orderID, g.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release frees a key whose request failed, so the client may retry it.
func (g *Guard) Release(ctx context.Context, userID int64, idemKey string) error {
	if g == nil || idemKey == "" {
		return nil
	}

	if err := g.client.Del(ctx, key(userID, idemKey)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
