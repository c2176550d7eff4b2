package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/auditfile/internal/audit/domain"
	"github.com/smallbiznis/auditfile/internal/audit/repository"
	"github.com/smallbiznis/auditfile/internal/auditcontext"
	"github.com/smallbiznis/auditfile/internal/clock"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/internal/testutil"
	"github.com/smallbiznis/auditfile/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var auditEpoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	clk := clock.NewFakeClock(auditEpoch)
	return NewService(Params{
		DB:    testutil.NewDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: clk,
		Repo:  repository.Provide(),
	}), clk
}

func TestLogUsesContextActorAndMasksTaxIDs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := auditcontext.WithActor(context.Background(), "user-7")
	ctx = auditcontext.WithRequestID(ctx, "req-1")

	err := svc.Log(ctx, reportdomain.AuditEntry{
		Action:       "report.created",
		ResourceType: "report",
		ResourceID:   "42",
		Metadata:     map[string]any{"filer_tax_id": "5213017228"},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{ResourceID: "42"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	entry := resp.AuditLogs[0]
	assert.Equal(t, "user-7", entry.ActorID)
	assert.True(t, entry.CreatedAt.Equal(auditEpoch))
	assert.Equal(t, "****7228", entry.Metadata["filer_tax_id"])
	require.NotNil(t, entry.RequestID)
	assert.Equal(t, "req-1", *entry.RequestID)
}

func TestLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Log(context.Background(), reportdomain.AuditEntry{ResourceType: "report"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Log(ctx, reportdomain.AuditEntry{Action: "report.generated", ResourceType: "report", ResourceID: "1"}))
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

func TestLogTakesReportFromContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := auditcontext.WithReport(context.Background(), "77")

	require.NoError(t, svc.Log(ctx, reportdomain.AuditEntry{Action: "report.signed", ResourceType: "report"}))
	require.NoError(t, svc.Log(ctx, reportdomain.AuditEntry{Action: "rules.reloaded", ResourceType: "rules"}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{ResourceID: "77"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "report.signed", resp.AuditLogs[0].Action)
}

func TestListFiltersByActorAndWindow(t *testing.T) {
	svc, clk := newTestService(t)
	alice := auditcontext.WithActor(context.Background(), "alice")
	bob := auditcontext.WithActor(context.Background(), "bob")

	require.NoError(t, svc.Log(alice, reportdomain.AuditEntry{Action: "report.created", ResourceType: "report", ResourceID: "1"}))
	clk.Advance(time.Hour)
	require.NoError(t, svc.Log(bob, reportdomain.AuditEntry{Action: "report.signed", ResourceType: "report", ResourceID: "1"}))
	clk.Advance(time.Hour)
	require.NoError(t, svc.Log(alice, reportdomain.AuditEntry{Action: "report.submitted", ResourceType: "report", ResourceID: "1"}))

	ctx := context.Background()
	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{ActorID: "alice"})
	require.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 2)

	since := auditEpoch.Add(30 * time.Minute)
	until := auditEpoch.Add(90 * time.Minute)
	resp, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "report.signed", resp.AuditLogs[0].Action)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Since: &until, Until: &since})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
