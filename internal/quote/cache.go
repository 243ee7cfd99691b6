package quote

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v8"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/models"
)

// cachedQuote is the stored form; the price travels as a string so it
// round-trips exactly.
type cachedQuote struct {
	Symbol string
	Name   string
	Price  string
}

// Cached memoizes successful lookups of another provider for a short TTL.
// Failures are never cached.
type Cached struct {
	next  ledger.QuoteProvider
	cache *cache.Cache
	ttl   time.Duration
	log   logrus.FieldLogger
}

// NewCache builds a cache backed by a Redis ring when redisAddr is set and by
// an in-process TinyLFU otherwise.
func NewCache(redisAddr string, size int, ttl time.Duration) *cache.Cache {
	opts := &cache.Options{LocalCache: cache.NewTinyLFU(size, ttl)}
	if redisAddr != "" {
		opts.Redis = redis.NewRing(&redis.RingOptions{Addrs: map[string]string{"quotes": redisAddr}})
	}
	return cache.New(opts)
}

// NewCached wraps next. A non-positive ttl disables caching and returns next.
func NewCached(next ledger.QuoteProvider, c *cache.Cache, ttl time.Duration, log logrus.FieldLogger) ledger.QuoteProvider {
	if ttl <= 0 || c == nil {
		return next
	}
	return &Cached{next: next, cache: c, ttl: ttl, log: log}
}

func (c *Cached) Lookup(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = models.NormalizeSymbol(symbol)
	key := "quote:" + symbol

	var hit cachedQuote
	err := c.cache.Get(ctx, key, &hit)
	if err == nil {
		if price, perr := decimal.NewFromString(hit.Price); perr == nil {
			return &models.Quote{Symbol: hit.Symbol, Name: hit.Name, Price: price}, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.log.WithError(err).WithField("symbol", symbol).Warn("quote cache read failed")
	}

	q, err := c.next.Lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}

	err = c.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: &cachedQuote{Symbol: q.Symbol, Name: q.Name, Price: q.Price.String()},
		TTL:   c.ttl,
	})
	if err != nil {
		c.log.WithError(err).WithField("symbol", symbol).Warn("quote cache write failed")
	}
	return q, nil
}
