package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var errNilRedis = errors.New("redis client is nil")

// NewRedisClient accepts either a redis:// URL or a bare host:port.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if !strings.Contains(cfg.Address, "://") {
		return redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}), nil
	}

	opts, err := redis.ParseURL(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return redis.NewClient(opts), nil
}

func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// RedisStateRepository stores each user's chat state as a JSON string under
// chat_state:<user id>, refreshed to ttl on every write.
type RedisStateRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStateRepository(client *redis.Client, ttl time.Duration) *RedisStateRepository {
	return &RedisStateRepository{client: client, ttl: ttl}
}

func (r *RedisStateRepository) key(kind string, userID uuid.UUID) string {
	return kind + ":" + userID.String()
}

func (r *RedisStateRepository) GetState(ctx context.Context, userID uuid.UUID) (*models.ChatState, error) {
	if r.client == nil {
		return nil, errNilRedis
	}
	raw, err := r.client.Get(ctx, r.key("chat_state", userID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get chat state: %w", err)
	}

	state := &models.ChatState{}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("decode chat state: %w", err)
	}
	return state, nil
}

func (r *RedisStateRepository) SetState(ctx context.Context, state *models.ChatState) error {
	if r.client == nil {
		return errNilRedis
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode chat state: %w", err)
	}
	if err := r.client.Set(ctx, r.key("chat_state", state.UserID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set chat state: %w", err)
	}
	return nil
}

func (r *RedisStateRepository) ClearState(ctx context.Context, userID uuid.UUID) error {
	if r.client == nil {
		return errNilRedis
	}
	if err := r.client.Del(ctx, r.key("chat_state", userID)).Err(); err != nil {
		return fmt.Errorf("redis clear chat state: %w", err)
	}
	return nil
}

// CheckRateLimit counts requests in a fixed window. The counter and its TTL
// are read in one transaction so a key that lost its expiry is repaired.
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, userID uuid.UUID, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNilRedis
	}
	key := r.key("rate_limit", userID)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	}); err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}

	if ttl.Val() < 0 {
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("redis rate limit expiry: %w", err)
		}
	}
	return incr.Val() <= int64(limit), nil
}
