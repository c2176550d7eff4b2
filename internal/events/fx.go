package events

import (
	"context"

	"cloud.google.com/go/pubsub"
	"github.com/smallbiznis/auditfile/internal/config"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// NewPublisher publishes to Pub/Sub when EVENTS_PUBSUB_PROJECT is set.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (reportdomain.EventPublisher, error) {
	if cfg.Events.PubSubProject == "" {
		log.Info("event publishing disabled")
		return NewNoopPublisher(log), nil
	}

	client, err := pubsub.NewClient(context.Background(), cfg.Events.PubSubProject)
	if err != nil {
		return nil, err
	}
	publisher := NewPubSubPublisher(client, cfg.Events.PubSubTopic, log)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			publisher.Stop()
			return client.Close()
		},
	})
	return publisher, nil
}
