package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/integration-service/internal/transport"
)

// RedisDedupStore shares the request dedup cache between service replicas.
type RedisDedupStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisDedupStore builds a store writing keys under prefix.
func NewRedisDedupStore(client redis.Cmdable, prefix string) *RedisDedupStore {
	return &RedisDedupStore{client: client, prefix: prefix}
}

type storedResponse struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
}

// Load implements transport.DedupStore.
func (s *RedisDedupStore) Load(ctx context.Context, key string) (*transport.Response, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get dedup entry: %w", err)
	}
	var stored storedResponse
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, false, fmt.Errorf("decode dedup entry: %w", err)
	}
	return &transport.Response{
		StatusCode: stored.StatusCode,
		Header:     stored.Header,
		Body:       stored.Body,
	}, true, nil
}

// Save implements transport.DedupStore.
func (s *RedisDedupStore) Save(ctx context.Context, key string, resp *transport.Response, ttl time.Duration) error {
	data, err := json.Marshal(storedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	})
	if err != nil {
		return fmt.Errorf("encode dedup entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set dedup entry: %w", err)
	}
	return nil
}
