package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"lecture-ingest/internal/ingest"
)

// IngestionStatusCache stores the latest state of each upload request.
type IngestionStatusCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewIngestionStatusCache(client *redisv9.Client, ttl time.Duration) *IngestionStatusCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IngestionStatusCache{client: client, ttl: ttl}
}

// Record overwrites the stored status and refreshes its TTL.
func (c *IngestionStatusCache) Record(ctx context.Context, status ingest.Status) error {
	if status.RequestID == "" {
		return fmt.Errorf("ingestion status has no request id")
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal ingestion status failed: %w", err)
	}
	if err := c.client.Set(ctx, statusKey(status.RequestID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set ingestion status failed: %w", err)
	}
	return nil
}

// Get returns the last recorded status; ok is false when none is stored.
func (c *IngestionStatusCache) Get(ctx context.Context, requestID string) (*ingest.Status, bool, error) {
	raw, err := c.client.Get(ctx, statusKey(requestID)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get ingestion status failed: %w", err)
	}

	var status ingest.Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, false, fmt.Errorf("unmarshal ingestion status failed: %w", err)
	}
	return &status, true, nil
}

func statusKey(requestID string) string {
	return "ingest:status:" + requestID
}
