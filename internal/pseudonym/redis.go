package pseudonym

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/logger"
)

// RedisStore shares one translation table between processes. Originals
// live in a hash, pseudonym usage counts in a second hash, and insertion
// order in a list.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *logger.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, log *logger.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    log,
	}

	log.Info("Redis pseudonym store initialized",
		zap.String("redis_url", maskURL(cfg.URL)),
		zap.String("key_prefix", cfg.KeyPrefix),
	)

	return store, nil
}

func (s *RedisStore) originalsKey() string  { return s.keyPrefix + ":originals" }
func (s *RedisStore) pseudonymsKey() string { return s.keyPrefix + ":pseudonyms" }
func (s *RedisStore) orderKey() string      { return s.keyPrefix + ":order" }

func (s *RedisStore) Lookup(ctx context.Context, original string) (string, bool, error) {
	p, err := s.client.HGet(ctx, s.originalsKey(), original).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis lookup failed: %w", err)
	}
	return p, true, nil
}

func (s *RedisStore) PseudonymInUse(ctx context.Context, pseudonym string) (bool, error) {
	inUse, err := s.client.HExists(ctx, s.pseudonymsKey(), pseudonym).Result()
	if err != nil {
		return false, fmt.Errorf("redis check failed: %w", err)
	}
	return inUse, nil
}

func (s *RedisStore) Insert(ctx context.Context, original, pseudonym string) error {
	// HSetNX makes the original the point of truth even when two
	// processes race on the same key.
	ok, err := s.client.HSetNX(ctx, s.originalsKey(), original, pseudonym).Result()
	if err != nil {
		return fmt.Errorf("redis insert failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRecord, original)
	}

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, s.pseudonymsKey(), pseudonym, 1)
	pipe.RPush(ctx, s.orderKey(), original)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis insert failed: %w", err)
	}
	return nil
}

func (s *RedisStore) All(ctx context.Context) ([]Record, error) {
	originals, err := s.client.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read failed: %w", err)
	}
	if len(originals) == 0 {
		return nil, nil
	}

	pseudonyms, err := s.client.HMGet(ctx, s.originalsKey(), originals...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read failed: %w", err)
	}

	records := make([]Record, 0, len(originals))
	for i, original := range originals {
		p, _ := pseudonyms[i].(string)
		records = append(records, Record{Original: original, Pseudonym: p})
	}
	return records, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.originalsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count failed: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// maskURL masks credentials in a connection URL for logging.
func maskURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
