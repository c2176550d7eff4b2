package registry

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/auditfile/internal/config"
	"github.com/smallbiznis/auditfile/internal/providers/upstream"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("provider.registry",
	fx.Provide(NewRegistry),
)

// NewRegistry builds the cached registry client. Redis is used as a shared
// second cache layer when a client is configured.
func NewRegistry(cfg config.Config, remote *redis.Client, log *zap.Logger) reportdomain.ClientRegistry {
	base := NewHTTPRegistry(upstream.NewClient("registry", cfg.Registry.URL, cfg.Registry.Timeout, log))
	return NewCachedRegistry(base, cfg.Registry.CacheSize, cfg.Registry.CacheTTL, remote, log)
}
