// Package cache keeps short-lived request bookkeeping in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-redis/redis/v8"
	"time"
)

const (
	IdempotentKeyTTL = 24 * time.Hour
	WebhookEventTTL  = 72 * time.Hour
	ShipmentLockTTL  = 2 * time.Minute
)

type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// ClaimIdempotentKey returns false when the key was already claimed within the last 24 hours.
func (s *Store) ClaimIdempotentKey(ctx context.Context, key string) (bool, error) {
	return s.rdb.SetNX(ctx, fmt.Sprintf("idempotent-key:%s", key), "exists", IdempotentKeyTTL).Result()
}

// ReleaseIdempotentKey frees a key whose request failed before doing any work.
func (s *Store) ReleaseIdempotentKey(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, fmt.Sprintf("idempotent-key:%s", key)).Err()
}

func (s *Store) WebhookEventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, fmt.Sprintf("webhook-event:%s", eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) MarkWebhookEvent(ctx context.Context, eventID string) error {
	return s.rdb.Set(ctx, fmt.Sprintf("webhook-event:%s", eventID), "processed", WebhookEventTTL).Err()
}

// ClaimShipment takes the per-order lock held while a carrier booking is in flight.
// The TTL frees the lock if the holder dies mid-call.
func (s *Store) ClaimShipment(ctx context.Context, orderID int64) (bool, error) {
	return s.rdb.SetNX(ctx, fmt.Sprintf("shipment-lock:%d", orderID), "locked", ShipmentLockTTL).Result()
}

func (s *Store) ReleaseShipment(ctx context.Context, orderID int64) error {
	return s.rdb.Del(ctx, fmt.Sprintf("shipment-lock:%d", orderID)).Err()
}

// GetToken returns "" when no token is cached.
func (s *Store) GetToken(ctx context.Context, name string) (string, error) {
	token, err := s.rdb.Get(ctx, fmt.Sprintf("token:%s", name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

func (s *Store) SetToken(ctx context.Context, name, token string, ttl time.Duration) error {
	return s.rdb.Set(ctx, fmt.Sprintf("token:%s", name), token, ttl).Err()
}
