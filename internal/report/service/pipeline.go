package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/auditfile/internal/observability/tracing"
	"github.com/smallbiznis/auditfile/internal/report/document"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/internal/report/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func (s *Service) GenerateXML(ctx context.Context, id snowflake.ID, regenerate bool) (result reportdomain.GenerateResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "report.generate", attribute.String("report.id", id.String()))
	defer func() { tracing.EndSpan(span, err) }()

	report, err := s.load(ctx, s.db, id)
	if err != nil {
		return result, err
	}
	origin := report.Status
	if origin.IsFiled() || origin == reportdomain.StatusSubmitting {
		return result, fmt.Errorf("%w: report is already %s", reportdomain.ErrConflict, origin)
	}
	if err := reportdomain.CheckOperation(origin, reportdomain.OpGenerate); err != nil {
		return result, err
	}
	if report.XMLPath != "" && !regenerate {
		return result, fmt.Errorf("%w: document already generated, pass regenerate to rebuild it", reportdomain.ErrAlreadyExists)
	}

	inflight, err := s.begin(ctx, report, reportdomain.OpGenerate)
	if err != nil {
		return result, err
	}

	records, err := s.repo.ListRecords(ctx, s.db, report.ID)
	if err != nil {
		s.revert(ctx, report, inflight, origin, err)
		return result, err
	}
	if len(records) != report.TotalRecords {
		return result, s.fail(ctx, report, inflight, origin,
			fmt.Errorf("report counts %d records but %d are stored", report.TotalRecords, len(records)))
	}

	now := s.clock.Now()
	content, totals, err := document.Assemble(document.Input{
		Report:      report,
		Records:     records,
		GeneratedAt: now,
		SystemName:  s.systemName,
	})
	if err != nil {
		if errors.Is(err, reportdomain.ErrFatal) {
			return result, s.fail(ctx, report, inflight, origin, err)
		}
		s.revert(ctx, report, inflight, origin, err)
		return result, err
	}
	if totals.SaleCount != report.SaleCount || totals.PurchaseCount != report.PurchaseCount {
		return result, s.fail(ctx, report, inflight, origin,
			fmt.Errorf("assembled %d/%d sale/purchase rows, report counts %d/%d",
				totals.SaleCount, totals.PurchaseCount, report.SaleCount, report.PurchaseCount))
	}

	info, err := s.artifacts.Put(ctx, artifactName(report, "xml"), content)
	if err != nil {
		s.revert(ctx, report, inflight, origin, err)
		return result, err
	}
	hash := document.Hash(content)

	err = s.settle(ctx, report, origin, inflight, reportdomain.StatusGenerated, map[string]any{
		"xml_path":       info.Path,
		"xml_size":       int64(len(content)),
		"xml_hash":       hash,
		"generated_at":   now,
		"net_total":      totals.Net,
		"vat_total":      totals.Vat,
		"signed_path":    "",
		"signature_type": "",
		"signed_at":      nil,
		"last_error":     "",
	})
	if err != nil {
		s.removeArtifacts(ctx, info.Path)
		if errors.Is(err, reportdomain.ErrStaleStatus) {
			return result, s.staleError(ctx, id, reportdomain.OpGenerate)
		}
		return result, err
	}

	if report.XMLPath != info.Path {
		s.removeArtifacts(ctx, report.XMLPath)
	}
	s.removeArtifacts(ctx, report.SignedPath)

	s.emitAudit(ctx, "report.generated", report, map[string]any{
		"xml_hash":   hash,
		"xml_size":   len(content),
		"records":    len(records),
		"regenerate": regenerate,
	})

	return reportdomain.GenerateResult{
		Path:        info.Path,
		Size:        int64(len(content)),
		Hash:        hash,
		RecordCount: len(records),
		GeneratedAt: now,
	}, nil
}

func (s *Service) DownloadXML(ctx context.Context, id snowflake.ID) (reportdomain.Document, error) {
	report, err := s.load(ctx, s.db, id)
	if err != nil {
		return reportdomain.Document{}, err
	}
	if err := reportdomain.CheckOperation(report.Status, reportdomain.OpDownloadXML); err != nil {
		return reportdomain.Document{}, err
	}

	content, err := s.readDocument(ctx, report)
	if err != nil {
		if errors.Is(err, reportdomain.ErrFatal) {
			return reportdomain.Document{}, s.fail(ctx, report, report.Status, report.Status, err)
		}
		return reportdomain.Document{}, err
	}

	return reportdomain.Document{
		Name:    downloadName(report, "xml"),
		Content: content,
		Hash:    report.XMLHash,
	}, nil
}

func (s *Service) ValidateReport(ctx context.Context, req reportdomain.ValidateRequest) (result reportdomain.ValidationResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "report.validate", attribute.String("report.id", req.ReportID.String()))
	defer func() { tracing.EndSpan(span, err) }()

	if !req.Structural && !req.Business {
		req.Structural, req.Business = true, true
	}

	report, err := s.load(ctx, s.db, req.ReportID)
	if err != nil {
		return result, err
	}
	if report.Status == reportdomain.StatusError {
		return result, reportdomain.CheckOperation(report.Status, reportdomain.OpValidate)
	}
	if report.XMLPath == "" {
		return reportdomain.NewValidationResult([]reportdomain.ValidationIssue{{
			Code:     reportdomain.IssueXMLNotGenerated,
			Message:  "generate the document before validating it",
			Severity: reportdomain.SeverityError,
		}}), nil
	}
	if err := reportdomain.CheckOperation(report.Status, reportdomain.OpValidate); err != nil {
		return result, err
	}

	origin := report.Status
	inflight, err := s.begin(ctx, report, reportdomain.OpValidate)
	if err != nil {
		return result, err
	}

	content, err := s.artifacts.Get(ctx, report.XMLPath)
	if err != nil {
		if errors.Is(err, reportdomain.ErrNotFound) {
			return result, s.fail(ctx, report, inflight, origin, fmt.Errorf("document %s is missing", report.XMLPath))
		}
		s.revert(ctx, report, inflight, origin, err)
		return result, err
	}
	records, err := s.repo.ListRecords(ctx, s.db, report.ID)
	if err != nil {
		s.revert(ctx, report, inflight, origin, err)
		return result, err
	}

	result = s.engine.Validate(validation.Input{
		Report:     report,
		Records:    records,
		Content:    content,
		Structural: req.Structural,
		Business:   req.Business,
	})
	for _, issue := range result.Issues {
		s.metrics.RecordValidationIssue(ctx, issue.Code, string(issue.Severity))
	}

	final := origin
	fields := map[string]any{"last_error": ""}
	if result.IsValid {
		final = reportdomain.StatusValidated
	} else {
		fields["last_error"] = fmt.Sprintf("validation found %d error(s)", result.ErrorCount)
	}
	if err := s.settle(ctx, report, origin, inflight, final, fields); err != nil {
		if errors.Is(err, reportdomain.ErrStaleStatus) {
			return result, s.staleError(ctx, report.ID, reportdomain.OpValidate)
		}
		return result, err
	}

	s.emitAudit(ctx, "report.validated", report, map[string]any{
		"is_valid":     result.IsValid,
		"errors":       result.ErrorCount,
		"warnings":     result.WarningCount,
		"rule_version": result.RuleVersion,
	})
	return result, nil
}

func (s *Service) SignReport(ctx context.Context, id snowflake.ID, signatureType reportdomain.SignatureType) (report *reportdomain.Report, err error) {
	ctx, span := tracing.StartSpan(ctx, "report.sign", attribute.String("report.id", id.String()))
	defer func() { tracing.EndSpan(span, err) }()

	if !signatureType.Valid() {
		return nil, reportdomain.ErrInvalidSignatureType
	}

	report, err = s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if report.Status == reportdomain.StatusSigned {
		return nil, fmt.Errorf("%w: document already signed, regenerate it to sign again", reportdomain.ErrAlreadyExists)
	}
	if err := reportdomain.CheckOperation(report.Status, reportdomain.OpSign); err != nil {
		return nil, err
	}

	origin := report.Status
	inflight, err := s.begin(ctx, report, reportdomain.OpSign)
	if err != nil {
		return nil, err
	}

	content, err := s.readDocument(ctx, report)
	if err != nil {
		if errors.Is(err, reportdomain.ErrFatal) {
			return nil, s.fail(ctx, report, inflight, origin, err)
		}
		s.revert(ctx, report, inflight, origin, err)
		return nil, err
	}

	start := time.Now()
	signed, err := s.signer.Sign(ctx, content, signatureType)
	if err == nil && len(signed) == 0 {
		err = reportdomain.NewUpstreamError("signer", reportdomain.CategoryInvalid, errors.New("empty signed document"))
	}
	s.observe(ctx, "signer", "sign", start, err)
	if err != nil {
		s.revert(ctx, report, inflight, origin, err)
		return nil, err
	}

	info, err := s.artifacts.Put(ctx, artifactName(report, "signed.xml"), signed)
	if err != nil {
		s.revert(ctx, report, inflight, origin, err)
		return nil, err
	}

	err = s.settle(ctx, report, origin, inflight, reportdomain.StatusSigned, map[string]any{
		"signed_path":    info.Path,
		"signature_type": signatureType,
		"signed_at":      s.clock.Now(),
		"last_error":     "",
	})
	if err != nil {
		s.removeArtifacts(ctx, info.Path)
		if errors.Is(err, reportdomain.ErrStaleStatus) {
			return nil, s.staleError(ctx, id, reportdomain.OpSign)
		}
		return nil, err
	}

	s.emitAudit(ctx, "report.signed", report, map[string]any{
		"signature_type": signatureType,
	})
	return s.load(ctx, s.db, id)
}

func (s *Service) SubmitReport(ctx context.Context, id snowflake.ID, testMode bool) (report *reportdomain.Report, err error) {
	ctx, span := tracing.StartSpan(ctx, "report.submit",
		attribute.String("report.id", id.String()),
		attribute.Bool("report.test_mode", testMode),
	)
	defer func() { tracing.EndSpan(span, err) }()

	report, err = s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := reportdomain.CheckOperation(report.Status, reportdomain.OpSubmit); err != nil {
		var statusErr *reportdomain.TransitionError
		if errors.As(err, &statusErr) {
			statusErr.Message = "report must be signed before submission"
		}
		return nil, err
	}

	origin := report.Status
	inflight, err := s.begin(ctx, report, reportdomain.OpSubmit)
	if err != nil {
		return nil, err
	}

	if report.SignedPath == "" {
		return nil, s.fail(ctx, report, inflight, origin, errors.New("signed report has no signed document"))
	}
	signed, err := s.artifacts.Get(ctx, report.SignedPath)
	if err != nil {
		if errors.Is(err, reportdomain.ErrNotFound) {
			return nil, s.fail(ctx, report, inflight, origin, fmt.Errorf("signed document %s is missing", report.SignedPath))
		}
		s.revert(ctx, report, inflight, origin, err)
		return nil, err
	}

	// The key is stable for the same report and signed bytes, so a retried
	// submission maps to the reference the gateway already issued.
	start := time.Now()
	referenceID, err := s.gateway.Submit(ctx, reportdomain.SubmitRequest{
		Document:       signed,
		Sandbox:        testMode,
		IdempotencyKey: fmt.Sprintf("%s:%s", report.ID, document.Hash(signed)),
	})
	referenceID = strings.TrimSpace(referenceID)
	if err == nil && referenceID == "" {
		err = reportdomain.NewUpstreamError("gateway", reportdomain.CategoryInvalid, errors.New("empty reference id"))
	}
	s.observe(ctx, "gateway", "submit", start, err)
	if err != nil {
		s.revert(ctx, report, inflight, origin, err)
		return nil, err
	}

	err = s.settle(ctx, report, origin, inflight, reportdomain.StatusSubmitted, map[string]any{
		"reference_id":     referenceID,
		"submitted_at":     s.clock.Now(),
		"test_mode":        testMode,
		"rejection_reason": "",
		"last_error":       "",
	})
	if err != nil {
		s.reportLogger(ctx, report).Error("gateway accepted submission but the report could not be updated",
			zap.String("reference_id", referenceID),
			zap.Error(err),
		)
		if errors.Is(err, reportdomain.ErrStaleStatus) {
			return nil, s.staleError(ctx, id, reportdomain.OpSubmit)
		}
		return nil, err
	}

	s.emitAudit(ctx, "report.submitted", report, map[string]any{
		"reference_id": referenceID,
		"test_mode":    testMode,
	})
	return s.load(ctx, s.db, id)
}

// readDocument loads the generated document and checks it against the
// stored hash. A missing or altered artifact is reported as ErrFatal.
func (s *Service) readDocument(ctx context.Context, report *reportdomain.Report) ([]byte, error) {
	if report.XMLPath == "" {
		return nil, fmt.Errorf("%w: report has no generated document", reportdomain.ErrFatal)
	}
	content, err := s.artifacts.Get(ctx, report.XMLPath)
	if err != nil {
		if errors.Is(err, reportdomain.ErrNotFound) {
			return nil, fmt.Errorf("%w: document %s is missing", reportdomain.ErrFatal, report.XMLPath)
		}
		return nil, err
	}
	if document.Hash(content) != report.XMLHash {
		return nil, fmt.Errorf("%w: document %s does not match its recorded hash", reportdomain.ErrFatal, report.XMLPath)
	}
	return content, nil
}

func artifactName(report *reportdomain.Report, ext string) string {
	return fmt.Sprintf("%s/%s.%s", report.ID, baseName(report), ext)
}

func downloadName(report *reportdomain.Report, ext string) string {
	return fmt.Sprintf("%s.%s", baseName(report), ext)
}

func baseName(report *reportdomain.Report) string {
	name := fmt.Sprintf("%s_%s_%s", report.Kind, report.ClientID, report.PeriodKey)
	if report.IsCorrection() && report.CorrectionNumber != nil {
		name += fmt.Sprintf("_K%d", *report.CorrectionNumber)
	}
	return name
}
