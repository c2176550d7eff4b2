package metricspush

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/auditfile/internal/config"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const (
	ExporterRemoteWrite = "prometheus_remote_write"
	ExporterPushgateway = "prometheus_pushgateway"

	pushTimeout = 10 * time.Second
)

var ErrMissingEndpoint = errors.New("metrics_push_endpoint_required")

// Pusher ships the series of one registry.
type Pusher interface {
	Push(ctx context.Context, registry *prometheus.Registry) error
}

// NewPusher returns nil when pushing is disabled. A misconfigured exporter
// is logged and disabled rather than failing startup.
func NewPusher(cfg config.Config, log *zap.Logger) Pusher {
	pc := cfg.MetricsPush
	if pc.Exporter == "" {
		return nil
	}
	log = log.Named("metricspush")
	if pc.Endpoint == "" {
		log.Warn("metrics push disabled", zap.Error(ErrMissingEndpoint))
		return nil
	}

	switch pc.Exporter {
	case ExporterRemoteWrite:
		if _, err := url.ParseRequestURI(pc.Endpoint); err != nil {
			log.Warn("metrics push disabled", zap.String("endpoint", pc.Endpoint), zap.Error(err))
			return nil
		}
		return NewRemoteWritePusher(pc.Endpoint, pc.AuthToken, nil)
	case ExporterPushgateway:
		// env travels as a constant label on every series; grouping by it
		// as well is rejected by the Pushgateway client.
		host, _ := os.Hostname()
		return NewPushgatewayPusher(pc.Endpoint, cfg.AppName, map[string]string{"instance": host})
	default:
		log.Warn("metrics push disabled", zap.String("exporter", pc.Exporter))
		return nil
	}
}

// RemoteWritePusher posts a snappy-compressed prompb.WriteRequest.
type RemoteWritePusher struct {
	endpoint string
	token    string
	http     *http.Client
	now      func() time.Time
}

func NewRemoteWritePusher(endpoint, token string, client *http.Client) *RemoteWritePusher {
	if client == nil {
		client = &http.Client{Timeout: pushTimeout}
	}
	return &RemoteWritePusher{endpoint: endpoint, token: token, http: client, now: time.Now}
}

func (p *RemoteWritePusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	series := toTimeSeries(families, p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	payload, err := proto.Marshal(protoadapt.MessageV2Of(&prompb.WriteRequest{Timeseries: series}))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(snappy.Encode(nil, payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write: %s", resp.Status)
	}
	return nil
}

// PushgatewayPusher replaces the job's group on a Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	if job == "" {
		job = "auditfile"
	}
	return &PushgatewayPusher{endpoint: endpoint, job: job, grouping: grouping}
}

func (p *PushgatewayPusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	pusher := push.New(p.endpoint, p.job).Gatherer(registry)
	for key, value := range p.grouping {
		if key != "" && value != "" {
			pusher = pusher.Grouping(key, value)
		}
	}
	return pusher.PushContext(ctx)
}

// toTimeSeries converts counters and gauges; other metric types are not
// part of the backlog registry.
func toTimeSeries(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	series := make([]prompb.TimeSeries, 0, len(families))
	for _, family := range families {
		for _, m := range family.GetMetric() {
			var value float64
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value = m.GetGauge().GetValue()
			default:
				continue
			}

			labels := make([]prompb.Label, 0, len(m.GetLabel())+1)
			labels = append(labels, prompb.Label{Name: "__name__", Value: family.GetName()})
			for _, pair := range m.GetLabel() {
				labels = append(labels, prompb.Label{Name: pair.GetName(), Value: pair.GetValue()})
			}
			sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })

			series = append(series, prompb.TimeSeries{
				Labels:  labels,
				Samples: []prompb.Sample{{Value: value, Timestamp: timestampMs}},
			})
		}
	}
	return series
}
