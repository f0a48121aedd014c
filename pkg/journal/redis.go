package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis is a Journal backed by a capped Redis list of msgpack-encoded entries.
type Redis struct {
	client   redis.UniversalClient
	key      string
	capacity int64

	log *slog.Logger
}

// RedisConfig configures the Redis journal.
type RedisConfig struct {
	// Addr is the Redis server address (default: "localhost:6379").
	Addr string

	// Addrs is a list of addresses for cluster mode.
	Addrs []string

	// Password for authentication.
	Password string

	// DB is the database number (ignored in cluster mode).
	DB int

	// KeyPrefix is prepended to the list key (default: "mqttwire:").
	KeyPrefix string

	// Capacity is the number of entries kept (default: 1000).
	Capacity int

	// Client allows providing a pre-configured Redis client.
	Client redis.UniversalClient

	// Logger for logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// NewRedis creates a new Redis-backed journal.
func NewRedis(cfg *RedisConfig) *Redis {
	if cfg == nil {
		cfg = &RedisConfig{}
	}
	if cfg.Addr == "" && len(cfg.Addrs) == 0 {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mqttwire:"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var client redis.UniversalClient
	if cfg.Client != nil {
		client = cfg.Client
	} else if len(cfg.Addrs) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	return &Redis{
		client:   client,
		key:      cfg.KeyPrefix + "handshakes",
		capacity: int64(cfg.Capacity),
		log:      cfg.Logger,
	}
}

// Start checks that Redis is reachable.
func (r *Redis) Start(ctx context.Context) error {
	testCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(testCtx).Err(); err != nil {
		return errors.Wrap(err, "redis connection failed")
	}

	r.log.Info("redis journal started", "key", r.key, "capacity", r.capacity)
	return nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Record(ctx context.Context, e Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return errors.Wrap(err, "encode entry")
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, r.capacity-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "record entry")
	}
	return nil
}

func (r *Redis) Recent(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(limit) - 1
	if limit <= 0 || int64(limit) > r.capacity {
		stop = r.capacity - 1
	}

	raw, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read entries")
	}

	entries := make([]Entry, 0, len(raw))
	for _, s := range raw {
		e, err := decodeEntry([]byte(s))
		if err != nil {
			r.log.Warn("skipping undecodable journal entry", "key", r.key, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

var _ Journal = (*Redis)(nil)
