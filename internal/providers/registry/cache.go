package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/zap"
)

const redisKeyPrefix = "auditfile:taxpayer:"

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditfile_registry_cache_hits_total",
		Help: "Taxpayer lookups served from cache.",
	}, []string{"layer"})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditfile_registry_cache_misses_total",
		Help: "Taxpayer lookups that reached the registry.",
	})
)

// CachedRegistry serves lookups from a per-instance LRU, then from redis
// when configured, then from the registry itself.
type CachedRegistry struct {
	next   reportdomain.ClientRegistry
	local  *expirable.LRU[string, reportdomain.Taxpayer]
	remote *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedRegistry(next reportdomain.ClientRegistry, size int, ttl time.Duration, remote *redis.Client, log *zap.Logger) *CachedRegistry {
	if size <= 0 {
		size = 1024
	}
	return &CachedRegistry{
		next:   next,
		local:  expirable.NewLRU[string, reportdomain.Taxpayer](size, nil, ttl),
		remote: remote,
		ttl:    ttl,
		log:    log.Named("registry.cache"),
	}
}

func (c *CachedRegistry) Lookup(ctx context.Context, clientID string) (reportdomain.Taxpayer, error) {
	if tp, ok := c.local.Get(clientID); ok {
		cacheHitsTotal.WithLabelValues("local").Inc()
		return tp, nil
	}

	if c.remote != nil {
		if tp, ok := c.getRemote(ctx, clientID); ok {
			cacheHitsTotal.WithLabelValues("redis").Inc()
			c.local.Add(clientID, tp)
			return tp, nil
		}
	}

	cacheMissesTotal.Inc()
	tp, err := c.next.Lookup(ctx, clientID)
	if err != nil {
		return reportdomain.Taxpayer{}, err
	}

	c.local.Add(clientID, tp)
	if c.remote != nil {
		c.setRemote(ctx, clientID, tp)
	}
	return tp, nil
}

// Invalidate drops a client from both cache layers.
func (c *CachedRegistry) Invalidate(ctx context.Context, clientID string) {
	c.local.Remove(clientID)
	if c.remote != nil {
		if err := c.remote.Del(ctx, redisKeyPrefix+clientID).Err(); err != nil {
			c.log.Warn("redis delete failed", zap.String("client_id", clientID), zap.Error(err))
		}
	}
}

func (c *CachedRegistry) getRemote(ctx context.Context, clientID string) (reportdomain.Taxpayer, bool) {
	raw, err := c.remote.Get(ctx, redisKeyPrefix+clientID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("redis get failed", zap.String("client_id", clientID), zap.Error(err))
		}
		return reportdomain.Taxpayer{}, false
	}
	var tp reportdomain.Taxpayer
	if err := json.Unmarshal(raw, &tp); err != nil {
		c.log.Warn("discarding malformed cache entry", zap.String("client_id", clientID), zap.Error(err))
		return reportdomain.Taxpayer{}, false
	}
	return tp, true
}

func (c *CachedRegistry) setRemote(ctx context.Context, clientID string, tp reportdomain.Taxpayer) {
	raw, err := json.Marshal(tp)
	if err != nil {
		return
	}
	if err := c.remote.Set(ctx, redisKeyPrefix+clientID, raw, c.ttl).Err(); err != nil {
		c.log.Warn("redis set failed", zap.String("client_id", clientID), zap.Error(err))
	}
}
