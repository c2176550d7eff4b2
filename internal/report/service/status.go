package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/auditfile/internal/observability/tracing"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.opentelemetry.io/otel/attribute"
)

// CheckStatus polls the gateway for a submitted report. Concurrent checks
// for the same report share one poll, which runs detached from any single
// caller's cancellation and is bounded by the gateway timeout.
func (s *Service) CheckStatus(ctx context.Context, id snowflake.ID) (reportdomain.StatusResult, error) {
	if id == 0 {
		return reportdomain.StatusResult{}, reportdomain.ErrInvalidReportID
	}
	v, err, _ := s.polls.Do(id.String(), func() (any, error) {
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pollTimeout)
		defer cancel()
		return s.checkStatus(pollCtx, id)
	})
	if err != nil {
		return reportdomain.StatusResult{}, err
	}
	return v.(reportdomain.StatusResult), nil
}

func (s *Service) checkStatus(ctx context.Context, id snowflake.ID) (result reportdomain.StatusResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "report.check_status", attribute.String("report.id", id.String()))
	defer func() { tracing.EndSpan(span, err) }()

	report, err := s.load(ctx, s.db, id)
	if err != nil {
		return result, err
	}
	if report.ReferenceID == "" {
		return reportdomain.StatusResult{Status: report.Status, Message: "not yet submitted"}, nil
	}
	if err := reportdomain.CheckOperation(report.Status, reportdomain.OpCheckStatus); err != nil {
		return result, err
	}

	switch report.Status {
	case reportdomain.StatusAccepted, reportdomain.StatusRejected:
		return storedOutcome(report), nil
	case reportdomain.StatusCorrected:
		if report.ReceiptID != "" || report.RejectionReason != "" {
			return storedOutcome(report), nil
		}
	}

	start := time.Now()
	poll, err := s.gateway.Poll(ctx, report.ReferenceID, report.TestMode)
	s.observe(ctx, "gateway", "poll", start, err)
	if err != nil {
		return result, err
	}

	switch poll.Status {
	case reportdomain.GatewayPending:
		result = storedOutcome(report)
		result.Message = "processing"
		return result, nil

	case reportdomain.GatewayAccepted:
		receiptID := strings.TrimSpace(poll.ReceiptID)
		if receiptID == "" {
			return result, reportdomain.NewUpstreamError("gateway", reportdomain.CategoryInvalid, errors.New("accepted without receipt id"))
		}
		receivedAt := s.clock.Now()
		if poll.ReceivedAt != nil {
			receivedAt = poll.ReceivedAt.UTC()
		}
		err = s.applyOutcome(ctx, report, reportdomain.StatusAccepted, map[string]any{
			"receipt_id":          receiptID,
			"receipt_received_at": receivedAt,
			"last_error":          "",
		})
		return s.outcomeResult(ctx, id, "report.accepted", err)

	case reportdomain.GatewayRejected:
		reason := strings.TrimSpace(poll.Reason)
		if reason == "" {
			reason = "rejected without reason"
		}
		err = s.applyOutcome(ctx, report, reportdomain.StatusRejected, map[string]any{
			"rejection_reason": truncate(reason),
			"last_error":       truncate(reason),
		})
		return s.outcomeResult(ctx, id, "report.rejected", err)

	default:
		return result, reportdomain.NewUpstreamError("gateway", reportdomain.CategoryInvalid,
			fmt.Errorf("unknown processing status %q", poll.Status))
	}
}

// applyOutcome records the gateway decision. A report corrected while its
// outcome was pending keeps CORRECTED and only stores the late outcome.
func (s *Service) applyOutcome(ctx context.Context, report *reportdomain.Report, to reportdomain.Status, fields map[string]any) error {
	if report.Status == reportdomain.StatusCorrected {
		return s.repo.UpdateIfStatus(ctx, s.db, report.ID, reportdomain.StatusCorrected, fields)
	}
	return s.settle(ctx, report, report.Status, report.Status, to, fields)
}

func (s *Service) outcomeResult(ctx context.Context, id snowflake.ID, action string, err error) (reportdomain.StatusResult, error) {
	changed := true
	if err != nil {
		// Another caller recorded the outcome first.
		if !errors.Is(err, reportdomain.ErrStaleStatus) {
			return reportdomain.StatusResult{}, err
		}
		changed = false
	}

	report, err := s.load(ctx, s.db, id)
	if err != nil {
		return reportdomain.StatusResult{}, err
	}
	if changed {
		s.emitAudit(ctx, action, report, map[string]any{
			"reference_id": report.ReferenceID,
			"receipt_id":   report.ReceiptID,
		})
	}

	result := storedOutcome(report)
	result.Changed = changed
	return result, nil
}

func storedOutcome(report *reportdomain.Report) reportdomain.StatusResult {
	return reportdomain.StatusResult{
		Status:      report.Status,
		ReferenceID: report.ReferenceID,
		ReceiptID:   report.ReceiptID,
		ReceivedAt:  report.ReceiptReceivedAt,
		Reason:      report.RejectionReason,
	}
}

func (s *Service) DownloadReceipt(ctx context.Context, id snowflake.ID) (reportdomain.Receipt, error) {
	report, err := s.load(ctx, s.db, id)
	if err != nil {
		return reportdomain.Receipt{}, err
	}
	if !reportdomain.Allowed(report.Status, reportdomain.OpDownloadReceipt) || report.ReceiptID == "" {
		return reportdomain.Receipt{}, &reportdomain.TransitionError{
			Op:       reportdomain.OpDownloadReceipt,
			Current:  report.Status,
			Required: reportdomain.RequiredStatuses(reportdomain.OpDownloadReceipt),
			Message:  "receipt not yet available",
		}
	}

	pdf, err := s.receipts.RenderReceipt(ctx, report)
	if err != nil {
		return reportdomain.Receipt{}, err
	}

	receipt := reportdomain.Receipt{
		ReportID:    report.ID,
		ReferenceID: report.ReferenceID,
		ReceiptID:   report.ReceiptID,
		PDF:         pdf,
	}
	if report.ReceiptReceivedAt != nil {
		receipt.ReceivedAt = *report.ReceiptReceivedAt
	}
	return receipt, nil
}
