package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"signal-intel/internal/storage"
)

const (
	defaultCacheTTL    = 72 * time.Hour
	defaultCachePrefix = "signalintel:move:"
)

// CacheOptions parameterise the move cache.
type CacheOptions struct {
	Prefix string
	TTL    time.Duration
}

// Cached memoizes resolved moves in redis and collapses concurrent lookups
// for the same window. A closed window's move never changes, so entries
// only expire to bound memory. Unavailable results are not cached.
type Cached struct {
	next   MoveProvider
	rdb    redis.Cmdable
	opts   CacheOptions
	group  singleflight.Group
	logger zerolog.Logger
}

// NewCached wraps next. A nil rdb keeps only the in-flight deduplication.
func NewCached(next MoveProvider, rdb redis.Cmdable, opts CacheOptions, logger zerolog.Logger) *Cached {
	if opts.TTL <= 0 {
		opts.TTL = defaultCacheTTL
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultCachePrefix
	}
	return &Cached{
		next:   next,
		rdb:    rdb,
		opts:   opts,
		logger: logger.With().Str("component", "move_cache").Logger(),
	}
}

func (c *Cached) Move(ctx context.Context, inst storage.Instrument, from, to time.Time) (Move, error) {
	key := c.key(inst.Symbol, from, to)

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		if move, ok := c.lookup(ctx, key); ok {
			return move, nil
		}
		move, err := c.next.Move(ctx, inst, from, to)
		if err != nil {
			return Move{}, err
		}
		c.store(ctx, key, move)
		return move, nil
	})
	if err != nil {
		return Move{}, err
	}
	if shared {
		c.logger.Debug().Str("key", key).Msg("move lookup shared")
	}
	return v.(Move), nil
}

func (c *Cached) key(symbol string, from, to time.Time) string {
	return fmt.Sprintf("%s%s:%d:%d", c.opts.Prefix, symbol, from.Unix(), to.Unix())
}

func (c *Cached) lookup(ctx context.Context, key string) (Move, bool) {
	if c.rdb == nil {
		return Move{}, false
	}
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Move{}, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("move cache read failed")
		return Move{}, false
	}
	var move Move
	if err := json.Unmarshal([]byte(raw), &move); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding corrupt cached move")
		return Move{}, false
	}
	return move, true
}

func (c *Cached) store(ctx context.Context, key string, move Move) {
	if c.rdb == nil {
		return
	}
	payload, err := json.Marshal(move)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, string(payload), c.opts.TTL).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("move cache write failed")
	}
}

var _ MoveProvider = (*Cached)(nil)
