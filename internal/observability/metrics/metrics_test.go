package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("kind", "JPK_V7M"),
		attribute.String("report_id", "456"),
		attribute.String("severity", "ERROR"),
	)
	assert.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("kind"))
	assert.Contains(t, keys, attribute.Key("severity"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordReportCreated(ctx, "JPK_V7M", "FIRST")
		m.RecordStatusTransition(ctx, "DRAFT", "GENERATED")
		m.RecordValidationIssue(ctx, "INVALID_NIP", "ERROR")
		m.RecordImport(ctx, 3, 1)
		m.RecordUpstreamCall(ctx, "gateway", "submit", time.Second, errors.New("boom"))
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "auditfile"}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordStatusTransition(context.Background(), "GENERATED", "VALIDATED")
	})
}
