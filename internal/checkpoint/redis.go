// internal/checkpoint/redis.go
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/config"
)

const defaultKeyPrefix = "webpilot:checkpoint:"

var errMissingRunID = errors.New("checkpoint has no run id")

// RedisStore persists checkpoints as JSON strings so a suspended run can be
// resumed by a different process.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg config.CheckpointConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
	}

	return NewRedisStoreFromClient(client, cfg.Redis.KeyPrefix, cfg.TTL, logger), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.Named("checkpoint_redis"),
	}
}

func (s *RedisStore) key(runID string) string {
	return s.keyPrefix + runID
}

func (s *RedisStore) Save(ctx context.Context, cp agent.Checkpoint) error {
	if cp.RunID == "" {
		return errMissingRunID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key(cp.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", cp.RunID, err)
	}
	s.logger.Debug("Checkpoint saved.", zap.String("run_id", cp.RunID), zap.Int("bytes", len(data)))
	return nil
}

func (s *RedisStore) Load(ctx context.Context, runID string) (agent.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return agent.Checkpoint{}, agent.ErrCheckpointMiss
	}
	if err != nil {
		return agent.Checkpoint{}, fmt.Errorf("failed to load checkpoint %s: %w", runID, err)
	}

	var cp agent.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return agent.Checkpoint{}, fmt.Errorf("failed to decode checkpoint %s: %w", runID, err)
	}
	return cp, nil
}

func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, s.key(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", runID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
