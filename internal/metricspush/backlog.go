// Package metricspush ships filing backlog gauges to a central Prometheus
// via remote_write or a Pushgateway.
package metricspush

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/auditfile/internal/clock"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"gorm.io/gorm"
)

// Backlog owns a private registry so pushes carry only backlog series,
// not the whole process registry served on /metrics.
type Backlog struct {
	registry    *prometheus.Registry
	byStatus    *prometheus.GaugeVec
	oldestDraft prometheus.Gauge
	lastRefresh prometheus.Gauge
	clock       clock.Clock
}

func NewBacklog(c clock.Clock, env string) *Backlog {
	if env == "" {
		env = "unknown"
	}
	labels := prometheus.Labels{"env": env}
	b := &Backlog{
		registry: prometheus.NewRegistry(),
		byStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "auditfile_reports",
			Help:        "Reports by lifecycle status.",
			ConstLabels: labels,
		}, []string{"status"}),
		oldestDraft: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "auditfile_oldest_unfiled_report_age_seconds",
			Help:        "Age of the oldest report that has not reached the gateway.",
			ConstLabels: labels,
		}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "auditfile_backlog_refreshed_timestamp_seconds",
			Help:        "Unix time of the last backlog refresh.",
			ConstLabels: labels,
		}),
		clock: c,
	}
	b.registry.MustRegister(b.byStatus, b.oldestDraft, b.lastRefresh)
	return b
}

func (b *Backlog) Registry() *prometheus.Registry {
	return b.registry
}

// Refresh recomputes the gauges from the reports table.
func (b *Backlog) Refresh(ctx context.Context, db *gorm.DB) error {
	var rows []struct {
		Status reportdomain.Status
		Total  int64
	}
	err := db.WithContext(ctx).
		Model(&reportdomain.Report{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	counts := make(map[reportdomain.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	for _, status := range reportdomain.AllStatuses() {
		b.byStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	var oldest reportdomain.Report
	res := db.WithContext(ctx).
		Select("id", "created_at").
		Where("status NOT IN ?", filedStatuses()).
		Order("created_at ASC").
		Limit(1).
		Find(&oldest)
	if res.Error != nil {
		return res.Error
	}
	now := b.clock.Now()
	age := 0.0
	if res.RowsAffected > 0 {
		age = max(now.Sub(oldest.CreatedAt), 0).Seconds()
	}
	b.oldestDraft.Set(age)
	b.lastRefresh.Set(float64(now.Unix()))
	return nil
}

func filedStatuses() []reportdomain.Status {
	filed := make([]reportdomain.Status, 0, 4)
	for _, status := range reportdomain.AllStatuses() {
		if status.IsFiled() {
			filed = append(filed, status)
		}
	}
	return filed
}
