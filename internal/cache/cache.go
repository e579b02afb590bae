// Package cache keeps Redis copies of per-profile aggregate lists so
// dashboards and reports skip the database until the ledger changes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/studyledger/internal/model"
)

const (
	keyPrefix = "studyledger:aggregates:"
	genPrefix = "studyledger:aggregates:gen:"
)

var errStale = errors.New("generation changed during fill")

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DefaultConfig returns settings for a local Redis.
func DefaultConfig() Config {
	return Config{
		Addr: "localhost:6379",
		TTL:  10 * time.Minute,
	}
}

// Dashboard is a read-through cache of ListAggregates results. It implements
// ledger.Observer so committed mutations drop the profile's entry.
type Dashboard struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Dashboard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultConfig().TTL
	}
	return &Dashboard{client: client, ttl: ttl, log: slog.Default()}, nil
}

func (d *Dashboard) Close() error {
	return d.client.Close()
}

func key(profileID string) string {
	return keyPrefix + profileID
}

// genKey counts invalidations of a profile. A fill only lands if the count
// is unchanged since before load ran.
func genKey(profileID string) string {
	return genPrefix + profileID
}

// Aggregates returns the cached list for profileID, calling load and storing
// its result on a miss. Redis failures fall back to load. A fill that races
// with an invalidation is dropped rather than stored.
func (d *Dashboard) Aggregates(ctx context.Context, profileID string,
	load func(context.Context, string) ([]model.AggregateEntry, error),
) ([]model.AggregateEntry, error) {
	raw, err := d.client.Get(ctx, key(profileID)).Bytes()
	switch {
	case err == nil:
		var entries []model.AggregateEntry
		if err := json.Unmarshal(raw, &entries); err == nil {
			return entries, nil
		}
		d.log.Warn("discarding unreadable cache entry", "profile", profileID)
	case !errors.Is(err, redis.Nil):
		d.log.Warn("cache read failed", "profile", profileID, "error", err)
	}

	gen, genErr := d.generation(ctx, d.client, profileID)
	entries, err := load(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		d.log.Warn("cache generation read failed", "profile", profileID, "error", genErr)
		return entries, nil
	}
	raw, err = json.Marshal(entries)
	if err != nil {
		return entries, nil
	}
	err = d.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := d.generation(ctx, tx, profileID)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key(profileID), raw, d.ttl)
			return nil
		})
		return err
	}, genKey(profileID))
	switch {
	case err == nil:
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		d.log.Debug("skipping stale cache fill", "profile", profileID)
	default:
		d.log.Warn("cache write failed", "profile", profileID, "error", err)
	}
	return entries, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (d *Dashboard) generation(ctx context.Context, c getter, profileID string) (int64, error) {
	n, err := c.Get(ctx, genKey(profileID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Invalidate drops the cached list of profileID and bumps its generation so
// fills started before the call are discarded.
func (d *Dashboard) Invalidate(ctx context.Context, profileID string) error {
	_, err := d.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey(profileID))
		p.Del(ctx, key(profileID))
		return nil
	})
	return err
}

// LedgerChanged implements ledger.Observer.
func (d *Dashboard) LedgerChanged(ctx context.Context, profileID string, _ int64) {
	if err := d.Invalidate(context.WithoutCancel(ctx), profileID); err != nil {
		d.log.Warn("cache invalidation failed", "profile", profileID, "error", err)
	}
}
