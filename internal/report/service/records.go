package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var declarationCodePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (s *Service) AddSaleRecord(ctx context.Context, id snowflake.ID, in reportdomain.RecordInput) (*reportdomain.Record, error) {
	return s.addRecord(ctx, id, reportdomain.RecordSale, in)
}

func (s *Service) AddPurchaseRecord(ctx context.Context, id snowflake.ID, in reportdomain.RecordInput) (*reportdomain.Record, error) {
	return s.addRecord(ctx, id, reportdomain.RecordPurchase, in)
}

func (s *Service) addRecord(ctx context.Context, id snowflake.ID, kind reportdomain.RecordKind, in reportdomain.RecordInput) (*reportdomain.Record, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, recordInputError(err)
	}

	report, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := reportdomain.CheckOperation(report.Status, reportdomain.OpAddRecord); err != nil {
		return nil, err
	}

	record := s.newRecord(kind, in)
	if err := s.repo.AppendRecords(ctx, s.db, report.ID, []*reportdomain.Record{record}); err != nil {
		if errors.Is(err, reportdomain.ErrStaleStatus) {
			return nil, s.staleError(ctx, id, reportdomain.OpAddRecord)
		}
		return nil, err
	}

	s.emitAudit(ctx, "report.record_added", report, map[string]any{
		"record_kind":    kind,
		"record_number":  record.RecordNumber,
		"counterpart_id": record.CounterpartID,
	})
	return record, nil
}

func recordInputError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%w: %s %s", reportdomain.ErrInvalidRecord, verrs[0].Field(), verrs[0].Tag())
	}
	return fmt.Errorf("%w: %v", reportdomain.ErrInvalidRecord, err)
}

func (s *Service) newRecord(kind reportdomain.RecordKind, in reportdomain.RecordInput) *reportdomain.Record {
	return &reportdomain.Record{
		ID:                 s.genID.Generate(),
		Kind:               kind,
		DocumentNumber:     strings.TrimSpace(in.DocumentNumber),
		DocumentDate:       in.DocumentDate.UTC(),
		OperationDate:      utcPtr(in.OperationDate),
		CounterpartID:      strings.TrimSpace(in.CounterpartID),
		CounterpartName:    strings.TrimSpace(in.CounterpartName),
		CounterpartCountry: strings.ToUpper(strings.TrimSpace(in.CounterpartCountry)),
		NetStandard:        in.NetStandard,
		VatStandard:        in.VatStandard,
		NetReduced:         in.NetReduced,
		VatReduced:         in.VatReduced,
		NetSuperReduced:    in.NetSuperReduced,
		VatSuperReduced:    in.VatSuperReduced,
		NetZero:            in.NetZero,
		NetExempt:          in.NetExempt,
		GTUCodes:           normalizeCodes(in.GTUCodes),
		ProcedureCodes:     normalizeCodes(in.ProcedureCodes),
		CreatedAt:          s.clock.Now(),
	}
}

func (s *Service) ListRecords(ctx context.Context, id snowflake.ID) ([]reportdomain.Record, error) {
	report, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRecords(ctx, s.db, report.ID)
}

func (s *Service) ImportFromLedger(ctx context.Context, req reportdomain.ImportRequest) (reportdomain.ImportResult, error) {
	report, err := s.load(ctx, s.db, req.ReportID)
	if err != nil {
		return reportdomain.ImportResult{}, err
	}
	if err := reportdomain.CheckOperation(report.Status, reportdomain.OpImportRecords); err != nil {
		return reportdomain.ImportResult{}, err
	}

	from, to := report.Period().Window()
	if req.PeriodFrom != nil {
		from = req.PeriodFrom.UTC()
	}
	if req.PeriodTo != nil {
		to = req.PeriodTo.UTC()
	}
	if !from.Before(to) {
		return reportdomain.ImportResult{}, fmt.Errorf("%w: import window is empty", reportdomain.ErrInvalidPeriod)
	}

	start := time.Now()
	transactions, err := s.ledger.ListTransactions(ctx, report.ClientID, from, to)
	s.observe(ctx, "ledger", "list_transactions", start, err)
	if err != nil {
		return reportdomain.ImportResult{}, err
	}

	result := reportdomain.ImportResult{Errors: []reportdomain.ImportError{}}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.Overwrite {
			if err := s.repo.ClearRecords(ctx, tx, report.ID); err != nil {
				return err
			}
		}

		for i, txn := range transactions {
			record, err := s.recordFromLedger(txn, from, to)
			if err == nil {
				// Each record commits on its own savepoint so one bad row
				// does not undo the rest of the batch.
				err = s.repo.AppendRecords(ctx, tx, report.ID, []*reportdomain.Record{record})
				if errors.Is(err, reportdomain.ErrStaleStatus) {
					return err
				}
			}
			if err != nil {
				result.Skipped++
				result.Errors = append(result.Errors, reportdomain.ImportError{
					ExternalID: txn.ExternalID,
					Index:      i,
					Message:    err.Error(),
				})
				continue
			}
			result.Imported++
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, reportdomain.ErrStaleStatus) {
			return reportdomain.ImportResult{}, s.staleError(ctx, report.ID, reportdomain.OpImportRecords)
		}
		return reportdomain.ImportResult{}, err
	}

	refreshed, err := s.load(ctx, s.db, report.ID)
	if err != nil {
		return reportdomain.ImportResult{}, err
	}
	result.Report = refreshed

	s.metrics.RecordImport(ctx, result.Imported, result.Skipped)
	s.emitAudit(ctx, "report.records_imported", refreshed, map[string]any{
		"imported":  result.Imported,
		"skipped":   result.Skipped,
		"overwrite": req.Overwrite,
	})
	s.reportLogger(ctx, report).Info("ledger import finished",
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *Service) recordFromLedger(txn reportdomain.LedgerTransaction, from, to time.Time) (*reportdomain.Record, error) {
	if !txn.Direction.Valid() {
		return nil, fmt.Errorf("unknown direction %q", txn.Direction)
	}
	if txn.DocumentDate.IsZero() {
		return nil, errors.New("document date is required")
	}
	// The operation date places a transaction in the period when present.
	effective := txn.DocumentDate
	if txn.OperationDate != nil {
		effective = *txn.OperationDate
	}
	if effective.Before(from) || !effective.Before(to) {
		return nil, fmt.Errorf("transaction dated %s is outside the import window", effective.Format(time.DateOnly))
	}
	if len(txn.Amounts) == 0 {
		return nil, errors.New("transaction carries no amounts")
	}

	in := reportdomain.RecordInput{
		DocumentNumber:     txn.DocumentNumber,
		DocumentDate:       txn.DocumentDate,
		OperationDate:      txn.OperationDate,
		CounterpartID:      txn.CounterpartID,
		CounterpartName:    txn.CounterpartName,
		CounterpartCountry: strings.ToUpper(strings.TrimSpace(txn.CounterpartCountry)),
		GTUCodes:           txn.GTUCodes,
		ProcedureCodes:     txn.ProcedureCodes,
	}
	for _, amount := range txn.Amounts {
		switch amount.Bracket {
		case "standard":
			in.NetStandard = in.NetStandard.Add(amount.Net)
			in.VatStandard = in.VatStandard.Add(amount.Vat)
		case "reduced":
			in.NetReduced = in.NetReduced.Add(amount.Net)
			in.VatReduced = in.VatReduced.Add(amount.Vat)
		case "superReduced":
			in.NetSuperReduced = in.NetSuperReduced.Add(amount.Net)
			in.VatSuperReduced = in.VatSuperReduced.Add(amount.Vat)
		case "zero":
			if !amount.Vat.IsZero() {
				return nil, errors.New("zero-rated amount carries VAT")
			}
			in.NetZero = in.NetZero.Add(amount.Net)
		case "exempt":
			if !amount.Vat.IsZero() {
				return nil, errors.New("exempt amount carries VAT")
			}
			in.NetExempt = in.NetExempt.Add(amount.Net)
		default:
			return nil, fmt.Errorf("unknown rate bracket %q", amount.Bracket)
		}
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, recordInputError(err)
	}

	record := s.newRecord(txn.Direction, in)
	record.ExternalID = strings.TrimSpace(txn.ExternalID)
	return record, nil
}

func (s *Service) UpdateDeclaration(ctx context.Context, id snowflake.ID, fields map[string]string) (*reportdomain.Report, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields given", reportdomain.ErrInvalidDeclaration)
	}
	for code := range fields {
		if !declarationCodePattern.MatchString(code) {
			return nil, fmt.Errorf("%w: field code %q", reportdomain.ErrInvalidDeclaration, code)
		}
	}

	report, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	origin := report.Status
	if err := reportdomain.CheckOperation(origin, reportdomain.OpUpdateDeclaration); err != nil {
		return nil, err
	}

	declaration := datatypes.JSONMap{}
	maps.Copy(declaration, report.Declaration)
	for code, value := range fields {
		value = strings.TrimSpace(value)
		if value == "" {
			delete(declaration, code)
			continue
		}
		declaration[code] = value
	}

	if origin == reportdomain.StatusDraft {
		err = s.repo.UpdateIfStatus(ctx, s.db, report.ID, origin, map[string]any{"declaration": declaration})
	} else {
		// A changed declaration invalidates the generated document.
		err = s.settle(ctx, report, origin, origin, reportdomain.StatusDraft, map[string]any{
			"declaration":  declaration,
			"xml_path":     "",
			"xml_size":     0,
			"xml_hash":     "",
			"generated_at": nil,
			"last_error":   "",
		})
	}
	if err != nil {
		if errors.Is(err, reportdomain.ErrStaleStatus) {
			return nil, s.staleError(ctx, id, reportdomain.OpUpdateDeclaration)
		}
		return nil, err
	}

	if origin != reportdomain.StatusDraft {
		s.removeArtifacts(ctx, report.XMLPath)
	}

	updated, err := s.load(ctx, s.db, report.ID)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, "report.declaration_updated", updated, map[string]any{
		"fields":      len(fields),
		"from_status": origin,
	})
	return updated, nil
}

func normalizeCodes(codes []string) datatypes.JSONSlice[string] {
	if len(codes) == 0 {
		return nil
	}
	out := make(datatypes.JSONSlice[string], 0, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			out = append(out, code)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
