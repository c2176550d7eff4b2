package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const transactionsSheet = "Transactions"

// Workbook columns, matched by header name.
const (
	colID                 = "id"
	colDirection          = "direction"
	colDocumentNumber     = "document_number"
	colDocumentDate       = "document_date"
	colOperationDate      = "operation_date"
	colCounterpartyID     = "counterparty_id"
	colCounterpartyName   = "counterparty_name"
	colCounterpartyCounty = "counterparty_country"
	colBracket            = "bracket"
	colNet                = "net"
	colVat                = "vat"
	colGTUCodes           = "gtu_codes"
	colProcedureCodes     = "procedure_codes"
)

var requiredColumns = []string{colID, colDirection, colDocumentDate, colBracket, colNet}

// XLSXLedger reads one workbook per client from a directory, named
// <client id>.xlsx. Rows sharing an id are one transaction with several
// rate brackets.
type XLSXLedger struct {
	dir string
	log *zap.Logger
}

func NewXLSXLedger(dir string, log *zap.Logger) *XLSXLedger {
	return &XLSXLedger{dir: dir, log: log.Named("ledger.xlsx")}
}

func (l *XLSXLedger) ListTransactions(_ context.Context, clientID string, from, to time.Time) ([]reportdomain.LedgerTransaction, error) {
	if clientID == "" || filepath.Base(clientID) != clientID || strings.HasPrefix(clientID, ".") {
		return nil, fmt.Errorf("%w: client id %q", reportdomain.ErrInvalidClient, clientID)
	}

	path := filepath.Join(l.dir, clientID+".xlsx")
	f, err := excelize.OpenFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.log.Info("no ledger workbook for client", zap.String("client_id", clientID))
			return []reportdomain.LedgerTransaction{}, nil
		}
		return nil, invalidWorkbook(path, err)
	}
	defer f.Close()

	sheet := transactionsSheet
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, invalidWorkbook(path, err)
	}
	if len(rows) == 0 {
		return []reportdomain.LedgerTransaction{}, nil
	}

	columns := headerIndex(rows[0])
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, invalidWorkbook(path, fmt.Errorf("missing column %q", name))
		}
	}

	var (
		order []string
		byID  = map[string]*reportdomain.LedgerTransaction{}
	)
	for i, row := range rows[1:] {
		cell := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if cell(colID) == "" {
			continue
		}

		rowNumber := i + 2
		amount, err := parseAmount(cell(colBracket), cell(colNet), cell(colVat))
		if err != nil {
			return nil, invalidWorkbook(path, fmt.Errorf("row %d: %w", rowNumber, err))
		}

		id := cell(colID)
		if txn, ok := byID[id]; ok {
			txn.Amounts = append(txn.Amounts, amount)
			continue
		}

		txn, err := parseTransaction(cell)
		if err != nil {
			return nil, invalidWorkbook(path, fmt.Errorf("row %d: %w", rowNumber, err))
		}
		txn.Amounts = []reportdomain.BracketAmount{amount}
		byID[id] = txn
		order = append(order, id)
	}

	out := make([]reportdomain.LedgerTransaction, 0, len(order))
	for _, id := range order {
		txn := byID[id]
		effective := txn.DocumentDate
		if txn.OperationDate != nil {
			effective = *txn.OperationDate
		}
		if effective.Before(from) || !effective.Before(to) {
			continue
		}
		out = append(out, *txn)
	}
	return out, nil
}

func parseTransaction(cell func(string) string) (*reportdomain.LedgerTransaction, error) {
	docDate, err := parseDate(cell(colDocumentDate))
	if err != nil {
		return nil, fmt.Errorf("document_date: %w", err)
	}
	txn := &reportdomain.LedgerTransaction{
		ExternalID:         cell(colID),
		Direction:          reportdomain.RecordKind(strings.ToUpper(cell(colDirection))),
		DocumentNumber:     cell(colDocumentNumber),
		DocumentDate:       docDate,
		CounterpartID:      cell(colCounterpartyID),
		CounterpartName:    cell(colCounterpartyName),
		CounterpartCountry: strings.ToUpper(cell(colCounterpartyCounty)),
		GTUCodes:           splitCodes(cell(colGTUCodes)),
		ProcedureCodes:     splitCodes(cell(colProcedureCodes)),
	}
	if raw := cell(colOperationDate); raw != "" {
		opDate, err := parseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("operation_date: %w", err)
		}
		txn.OperationDate = &opDate
	}
	return txn, nil
}

func parseAmount(bracket, net, vat string) (reportdomain.BracketAmount, error) {
	amount := reportdomain.BracketAmount{Bracket: bracket}
	var err error
	if amount.Net, err = decimal.NewFromString(net); err != nil {
		return amount, fmt.Errorf("net %q: %w", net, err)
	}
	if vat != "" {
		if amount.Vat, err = decimal.NewFromString(vat); err != nil {
			return amount, fmt.Errorf("vat %q: %w", vat, err)
		}
	}
	return amount, nil
}

func parseDate(v string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, "02.01.2006", "01-02-06"} {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", v)
}

func splitCodes(v string) []string {
	if v == "" {
		return nil
	}
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' || r == ' ' })
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if key != "" {
			idx[key] = i
		}
	}
	return idx
}

func invalidWorkbook(path string, err error) error {
	return reportdomain.NewUpstreamError("ledger", reportdomain.CategoryInvalid,
		fmt.Errorf("workbook %s: %w", filepath.Base(path), err))
}
