// Package events publishes report lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/zap"
)

// NoopPublisher logs events at debug level and drops them.
type NoopPublisher struct {
	log *zap.Logger
}

func NewNoopPublisher(log *zap.Logger) *NoopPublisher {
	return &NoopPublisher{log: log.Named("events.noop")}
}

func (p *NoopPublisher) PublishStatusChanged(_ context.Context, event reportdomain.StatusChangedEvent) error {
	p.log.Debug("status change not published",
		zap.String("report_id", event.ReportID),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
	)
	return nil
}

// PubSubPublisher publishes events to a Google Pub/Sub topic. Messages for
// one report share an ordering key so subscribers see transitions in order.
type PubSubPublisher struct {
	topic *pubsub.Topic
	log   *zap.Logger
}

func NewPubSubPublisher(client *pubsub.Client, topicName string, log *zap.Logger) *PubSubPublisher {
	topic := client.Topic(topicName)
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic, log: log.Named("events.pubsub")}
}

func (p *PubSubPublisher) PublishStatusChanged(ctx context.Context, event reportdomain.StatusChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.ReportID,
		Attributes: map[string]string{
			"type":      reportdomain.EventStatusChanged,
			"report_id": event.ReportID,
			"client_id": event.ClientID,
			"to":        string(event.To),
		},
	})
	id, err := res.Get(ctx)
	if err != nil {
		// Publishing for this key is paused after a failure until resumed.
		p.topic.ResumePublish(event.ReportID)
		return fmt.Errorf("publish %s: %w", reportdomain.EventStatusChanged, err)
	}
	p.log.Debug("event published", zap.String("message_id", id), zap.String("report_id", event.ReportID))
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}
