package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/bwmarrin/snowflake"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxCorrectionReason = 1000

// CreateCorrection opens a DRAFT correction of a filed report. The new
// report starts from the records and declaration of the most recent filing
// in the chain and links back to the first filing.
func (s *Service) CreateCorrection(ctx context.Context, originalID snowflake.ID, reason string) (*reportdomain.Report, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxCorrectionReason {
		return nil, fmt.Errorf("%w: longer than %d characters", reportdomain.ErrInvalidCorrectionReason, maxCorrectionReason)
	}

	target, err := s.load(ctx, s.db, originalID)
	if err != nil {
		return nil, err
	}
	if err := reportdomain.CheckOperation(target.Status, reportdomain.OpCorrect); err != nil {
		return nil, err
	}

	root := target
	if target.IsCorrection() && target.OriginalReportID != nil {
		root, err = s.load(ctx, s.db, *target.OriginalReportID)
		if err != nil {
			return nil, err
		}
	}
	rootOrigin := root.Status

	var (
		correction *reportdomain.Report
		superseded []*reportdomain.Report
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		superseded = superseded[:0]
		count, err := s.repo.CountCorrections(ctx, tx, root.ID)
		if err != nil {
			return err
		}

		source, err := s.repo.LatestCorrection(ctx, tx, root.ID)
		if err != nil {
			return err
		}
		if source == nil {
			source = root
		}
		records, err := s.repo.ListRecords(ctx, tx, source.ID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		number := int(count) + 1
		rootID := root.ID
		declaration := datatypes.JSONMap{}
		maps.Copy(declaration, source.Declaration)

		correction = &reportdomain.Report{
			ID:               s.genID.Generate(),
			ClientID:         root.ClientID,
			FilerTaxID:       source.FilerTaxID,
			FilerName:        source.FilerName,
			Kind:             root.Kind,
			Status:           reportdomain.StatusDraft,
			Year:             root.Year,
			Month:            root.Month,
			Quarter:          root.Quarter,
			PeriodKey:        root.PeriodKey,
			Purpose:          reportdomain.PurposeCorrection,
			CorrectionNumber: &number,
			OriginalReportID: &rootID,
			CorrectionReason: reason,
			Declaration:      declaration,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.repo.Insert(ctx, tx, correction); err != nil {
			return err
		}

		copies := make([]*reportdomain.Record, 0, len(records))
		for i := range records {
			rec := records[i]
			rec.ID = s.genID.Generate()
			rec.CreatedAt = now
			copies = append(copies, &rec)
		}
		if err := s.repo.AppendRecords(ctx, tx, correction.ID, copies); err != nil {
			return err
		}
		correction.TotalRecords = len(copies)
		for _, rec := range copies {
			if rec.Kind == reportdomain.RecordSale {
				correction.SaleCount++
			} else {
				correction.PurchaseCount++
			}
		}
		correction.LastRecordNumber = len(copies)

		if rootOrigin != reportdomain.StatusCorrected {
			if err := s.repo.CompareAndSetStatus(ctx, tx, root.ID, rootOrigin, reportdomain.StatusCorrected, nil); err != nil {
				return err
			}
		}
		// Filed corrections earlier in the chain are replaced by the new one.
		for _, prior := range []*reportdomain.Report{target, source} {
			if !supersedable(prior, root, superseded) {
				continue
			}
			if err := s.repo.CompareAndSetStatus(ctx, tx, prior.ID, prior.Status, reportdomain.StatusCorrected, nil); err != nil {
				return err
			}
			superseded = append(superseded, prior)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, reportdomain.ErrStaleStatus) {
			return nil, s.staleError(ctx, root.ID, reportdomain.OpCorrect)
		}
		if db.IsDuplicateKeyErr(err) {
			return nil, fmt.Errorf("%w: correction of report %s created concurrently", reportdomain.ErrConflict, root.ID)
		}
		return nil, err
	}

	if rootOrigin != reportdomain.StatusCorrected {
		root.Status = reportdomain.StatusCorrected
		s.announce(ctx, root, rootOrigin, reportdomain.StatusCorrected)
	}
	for _, prior := range superseded {
		from := prior.Status
		prior.Status = reportdomain.StatusCorrected
		s.announce(ctx, prior, from, reportdomain.StatusCorrected)
	}
	s.metrics.RecordReportCreated(ctx, string(correction.Kind), string(correction.Purpose))
	s.emitAudit(ctx, "report.correction_created", correction, map[string]any{
		"original_report_id": root.ID.String(),
		"correction_number":  *correction.CorrectionNumber,
		"records":            correction.TotalRecords,
	})
	s.reportLogger(ctx, correction).Info("correction created",
		zap.String("original_report_id", root.ID.String()),
		zap.Int("correction_number", *correction.CorrectionNumber),
	)
	return correction, nil
}

func supersedable(prior, root *reportdomain.Report, done []*reportdomain.Report) bool {
	if prior == nil || prior.ID == root.ID || !prior.IsCorrection() {
		return false
	}
	if prior.Status != reportdomain.StatusSubmitted && prior.Status != reportdomain.StatusAccepted {
		return false
	}
	for _, r := range done {
		if r.ID == prior.ID {
			return false
		}
	}
	return true
}
