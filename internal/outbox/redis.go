// Package outbox publishes completed complaints to downstream consumers.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ThauanSilva03/Resolve-ja/internal/domain"
)

const (
	// DefaultStream is the Redis stream complaints are appended to.
	DefaultStream = "resolveja:complaints"
	// DefaultMaxLen caps the stream length (approximate trimming).
	DefaultMaxLen = 10000
)

// Config holds Redis publisher configuration.
type Config struct {
	URL    string
	Stream string
	MaxLen int64
}

// RedisPublisher appends complaints to a Redis stream with XADD.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedis connects to cfg.URL and verifies the connection.
func NewRedis(ctx context.Context, cfg Config, logger *slog.Logger) (*RedisPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisWithClient(client, cfg.Stream, cfg.MaxLen, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, stream string, maxLen int64, logger *slog.Logger) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

// Stream returns the target stream name.
func (p *RedisPublisher) Stream() string {
	return p.stream
}

// Record implements the dispatcher's Recorder.
func (p *RedisPublisher) Record(ctx context.Context, c *domain.Complaint) error {
	values, err := Fields(c)
	if err != nil {
		return err
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	p.logger.Info("Complaint published", "complaint_id", c.ID, "stream", p.stream, "entry_id", id)
	return nil
}

// Ping checks the Redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Fields encodes a complaint as stream entry fields. Media bytes are never
// published; only their metadata travels inside the payload.
func Fields(c *domain.Complaint) (map[string]any, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal complaint: %w", err)
	}
	return map[string]any{
		"id":         c.ID,
		"user_id":    c.UserID,
		"channel":    c.Channel,
		"department": c.Department,
		"has_media":  strconv.FormatBool(c.HasMedia()),
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
		"payload":    string(payload),
	}, nil
}
