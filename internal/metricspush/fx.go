package metricspush

import (
	"context"
	"time"

	"github.com/smallbiznis/auditfile/internal/clock"
	"github.com/smallbiznis/auditfile/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(startPushLoop),
)

func startPushLoop(lc fx.Lifecycle, cfg config.Config, pusher Pusher, db *gorm.DB, c clock.Clock, log *zap.Logger) {
	if pusher == nil {
		return
	}
	log = log.Named("metricspush")
	backlog := NewBacklog(c, cfg.Environment)
	interval := cfg.MetricsPush.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					if err := PushOnce(ctx, backlog, db, pusher); err != nil {
						log.Warn("backlog push failed", zap.Error(err))
					}
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

// PushOnce refreshes the backlog gauges and pushes them.
func PushOnce(ctx context.Context, backlog *Backlog, db *gorm.DB, pusher Pusher) error {
	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := backlog.Refresh(pushCtx, db); err != nil {
		return err
	}
	return pusher.Push(pushCtx, backlog.Registry())
}
