// Package redisstore keeps signed mandates in Redis so several gate
// instances can share decisions. Entries expire with their mandate.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces mandate keys
const DefaultKeyPrefix = "authority-gate:mandate:"

// Connect parses a redis:// URL and verifies the server is reachable
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// MandateStore is a Redis-backed shared mandate store.
// Callers must verify the signature of anything returned by Get.
type MandateStore struct {
	client    redis.Cmdable
	keyPrefix string
	clock     clock.Clock
	logger    *zap.Logger
}

// NewMandateStore creates a store over an existing client
func NewMandateStore(client redis.Cmdable, keyPrefix string, clk clock.Clock, logger *zap.Logger) *MandateStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &MandateStore{
		client:    client,
		keyPrefix: keyPrefix,
		clock:     clk,
		logger:    logger,
	}
}

func (s *MandateStore) key(fingerprint string) string {
	return s.keyPrefix + fingerprint
}

// Get returns the mandate stored under fingerprint, or nil on a miss
func (s *MandateStore) Get(ctx context.Context, fingerprint string) (*models.Mandate, error) {
	data, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get mandate: %w", err)
	}

	var m models.Mandate
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode mandate: %w", err)
	}
	if m.Expired(s.clock.Now()) {
		return nil, nil
	}
	return &m, nil
}

// Set stores m for the rest of its lifetime. Expired mandates are skipped.
func (s *MandateStore) Set(ctx context.Context, fingerprint string, m *models.Mandate) error {
	ttl := m.TTL(s.clock.Now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode mandate: %w", err)
	}
	if err := s.client.Set(ctx, s.key(fingerprint), data, ttl).Err(); err != nil {
		return fmt.Errorf("set mandate: %w", err)
	}
	s.logger.Debug("mandate shared",
		zap.String("mandate_id", m.MandateID),
		zap.Duration("ttl", ttl))
	return nil
}

// Delete removes the mandate stored under fingerprint
func (s *MandateStore) Delete(ctx context.Context, fingerprint string) error {
	return s.client.Del(ctx, s.key(fingerprint)).Err()
}
