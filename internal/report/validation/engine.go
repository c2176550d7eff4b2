// Package validation runs structural and business checks on assembled reports.
package validation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/auditfile/internal/config"
	"github.com/smallbiznis/auditfile/internal/report/document"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/internal/taxid"
	"go.uber.org/zap"
)

// Input is one validation run.
type Input struct {
	Report     *reportdomain.Report
	Records    []reportdomain.Record
	Content    []byte
	Structural bool
	Business   bool
}

// Engine validates reports against the current rule table.
type Engine struct {
	rules config.RuleSource
	log   *zap.Logger
}

func NewEngine(rules config.RuleSource, log *zap.Logger) *Engine {
	return &Engine{rules: rules, log: log.Named("report.validation")}
}

// Validate never returns an error; problems are reported as issues.
func (e *Engine) Validate(in Input) reportdomain.ValidationResult {
	table := e.rules.Rules()

	var issues []reportdomain.ValidationIssue
	if in.Structural {
		issues = append(issues, e.Structural(in.Report, in.Content)...)
	}
	if in.Business {
		issues = append(issues, e.Business(table, in.Report, in.Records)...)
	}

	res := reportdomain.NewValidationResult(issues)
	res.RuleVersion = table.Version
	return res
}

// Structural confirms the artifact is well-formed, matches its stored hash
// and agrees with the report it belongs to.
func (e *Engine) Structural(report *reportdomain.Report, content []byte) []reportdomain.ValidationIssue {
	var issues []reportdomain.ValidationIssue

	if report.XMLHash != "" && document.Hash(content) != report.XMLHash {
		issues = append(issues, issue(reportdomain.IssueHashMismatch, "xml_hash", reportdomain.SeverityError,
			"stored document does not match its recorded hash"))
	}

	file, err := document.Parse(content)
	if err != nil {
		return append(issues, issue(reportdomain.IssueMalformedXML, "", reportdomain.SeverityError, err.Error()))
	}

	want := document.Expectation{
		Kind:          string(report.Kind),
		Year:          report.Year,
		Correction:    report.IsCorrection(),
		FilerTaxID:    report.FilerTaxID,
		SaleCount:     report.SaleCount,
		PurchaseCount: report.PurchaseCount,
	}
	if report.Month != nil {
		want.Month = *report.Month
	}
	if report.Quarter != nil {
		want.Quarter = *report.Quarter
	}

	for _, p := range document.CheckStructure(file, want) {
		code := reportdomain.IssueStructure
		if p.Control {
			code = reportdomain.IssueControlMismatch
		}
		issues = append(issues, issue(code, p.Path, reportdomain.SeverityError, p.Message))
	}
	return issues
}

// Business applies the cross-field rules to the stored records and declaration.
func (e *Engine) Business(table config.RuleTable, report *reportdomain.Report, records []reportdomain.Record) []reportdomain.ValidationIssue {
	var issues []reportdomain.ValidationIssue

	if !taxid.ValidNIP(report.FilerTaxID) {
		issues = append(issues, issue(reportdomain.IssueInvalidFilerNIP, "filer_tax_id", reportdomain.SeverityError,
			fmt.Sprintf("filer tax id %q fails the checksum", report.FilerTaxID)))
	}

	declaration := report.DeclarationFields()
	for _, code := range table.RequiredDeclarationFields {
		if strings.TrimSpace(declaration[code]) == "" {
			issues = append(issues, issue(reportdomain.IssueMissingDeclarationField, code, reportdomain.SeverityError,
				fmt.Sprintf("declaration field %s is required", code)))
		}
	}

	for i := range records {
		issues = append(issues, checkRecord(table, &records[i])...)
	}
	return issues
}

func checkRecord(table config.RuleTable, rec *reportdomain.Record) []reportdomain.ValidationIssue {
	var issues []reportdomain.ValidationIssue
	add := func(code, field string, severity reportdomain.Severity, format string, args ...any) {
		n := rec.RecordNumber
		issues = append(issues, reportdomain.ValidationIssue{
			Code:         code,
			Field:        field,
			RecordKind:   rec.Kind,
			RecordNumber: &n,
			Message:      fmt.Sprintf(format, args...),
			Severity:     severity,
		})
	}

	if strings.TrimSpace(rec.DocumentNumber) == "" {
		add(reportdomain.IssueMissingDocumentNumber, "document_number", reportdomain.SeverityError,
			"record %d has no document number", rec.RecordNumber)
	}

	switch {
	case strings.TrimSpace(rec.CounterpartID) == "":
		add(reportdomain.IssueMissingCounterpartID, "counterpart_id", reportdomain.SeverityWarning,
			"record %d has no counterpart tax id", rec.RecordNumber)
	case rec.Foreign():
		// foreign identifiers follow their own country's format
	case !taxid.ValidNIP(rec.CounterpartID):
		add(reportdomain.IssueInvalidNIP, "counterpart_id", reportdomain.SeverityError,
			"record %d: counterpart tax id %q fails the checksum", rec.RecordNumber, rec.CounterpartID)
	}

	for _, code := range rec.GTUCodes {
		if !containsFold(table.GTUCodes, code) {
			add(reportdomain.IssueUnknownGTUCode, "gtu_codes", reportdomain.SeverityError,
				"record %d: unknown commodity code %q", rec.RecordNumber, code)
		}
	}
	for _, code := range rec.ProcedureCodes {
		if !containsFold(table.ProcedureCodes, code) {
			add(reportdomain.IssueUnknownProcedureCode, "procedure_codes", reportdomain.SeverityError,
				"record %d: unknown procedure code %q", rec.RecordNumber, code)
		}
	}

	tolerance := decimal.NewFromFloat(table.AmountTolerance)
	for _, b := range rec.TaxedBrackets() {
		if b.Net.Sign()*b.Vat.Sign() < 0 {
			add(reportdomain.IssueAmountSignMismatch, "net_"+b.Name, reportdomain.SeverityWarning,
				"record %d: %s net %s and VAT %s have opposite signs", rec.RecordNumber, b.Name, document.Amount(b.Net), document.Amount(b.Vat))
			continue
		}
		rate, ok := vatRate(table.VATRates, b.Name)
		if !ok || b.Net.IsZero() {
			continue
		}
		expected := b.Net.Mul(decimal.NewFromFloat(rate)).Div(decimal.NewFromInt(100)).Round(2)
		if expected.Sub(b.Vat).Abs().GreaterThan(tolerance) {
			add(reportdomain.IssueVATAmountMismatch, "vat_"+b.Name, reportdomain.SeverityWarning,
				"record %d: %s VAT %s differs from expected %s", rec.RecordNumber, b.Name, document.Amount(b.Vat), document.Amount(expected))
		}
	}

	return issues
}

// vatRate matches bracket names case-insensitively; viper lowercases map
// keys read from the rules file.
func vatRate(rates map[string]float64, bracket string) (float64, bool) {
	if rate, ok := rates[bracket]; ok {
		return rate, true
	}
	for name, rate := range rates {
		if strings.EqualFold(name, bracket) {
			return rate, true
		}
	}
	return 0, false
}

func containsFold(list []string, value string) bool {
	value = strings.TrimSpace(value)
	return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, value) })
}

func issue(code, field string, severity reportdomain.Severity, msg string) reportdomain.ValidationIssue {
	return reportdomain.ValidationIssue{Code: code, Field: field, Message: msg, Severity: severity}
}
