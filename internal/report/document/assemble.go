package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
)

const dateLayout = "2006-01-02"

// Input is everything the assembler needs for one report.
type Input struct {
	Report      *reportdomain.Report
	Records     []reportdomain.Record
	GeneratedAt time.Time
	SystemName  string
}

// Totals are the aggregates computed while assembling.
type Totals struct {
	SaleCount     int
	PurchaseCount int
	Net           decimal.Decimal
	Vat           decimal.Decimal
	SaleVat       decimal.Decimal
	PurchaseVat   decimal.Decimal
}

// Assemble serializes the report into the canonical layout. Output is
// deterministic for the same input.
func Assemble(in Input) ([]byte, Totals, error) {
	if in.Report == nil {
		return nil, Totals{}, fmt.Errorf("%w: report is required", reportdomain.ErrFatal)
	}
	r := in.Report

	file := File{
		Xmlns: Namespace,
		Header: Header{
			FormCode: FormCodeElem{
				SystemCode:    fmt.Sprintf("%s (%s)", r.Kind, FormVariant),
				SchemaVersion: SchemaVer,
				Value:         FormCode,
			},
			Variant:    FormVariant,
			CreatedAt:  in.GeneratedAt.UTC().Format(time.RFC3339),
			SystemName: in.SystemName,
			Purpose:    PurposeFirst,
			Year:       r.Year,
		},
		Filer: Filer{
			Role:     "Podatnik",
			TaxID:    r.FilerTaxID,
			FullName: r.FilerName,
		},
	}
	if r.Kind == reportdomain.KindQuarterly && r.Quarter != nil {
		file.Header.Quarter = *r.Quarter
	} else if r.Month != nil {
		file.Header.Month = *r.Month
	}
	if r.IsCorrection() {
		file.Header.Purpose = PurposeFix
		if r.CorrectionNumber != nil {
			file.Header.Correction = *r.CorrectionNumber
		}
		file.Header.Description = r.CorrectionReason
	}

	if fields := r.DeclarationFields(); len(fields) > 0 {
		decl := &Declaration{}
		for _, code := range SortFieldCodes(fields) {
			decl.Positions.Fields = append(decl.Positions.Fields, Flag{
				XMLName: xml.Name{Local: code},
				Value:   fields[code],
			})
		}
		file.Declaration = decl
	}

	records := make([]reportdomain.Record, len(in.Records))
	copy(records, in.Records)
	sort.SliceStable(records, func(i, j int) bool { return records[i].RecordNumber < records[j].RecordNumber })

	totals := Totals{Net: decimal.Zero, Vat: decimal.Zero, SaleVat: decimal.Zero, PurchaseVat: decimal.Zero}
	for i := range records {
		rec := &records[i]
		if err := checkFlagCodes(rec); err != nil {
			return nil, Totals{}, err
		}
		totals.Net = totals.Net.Add(rec.NetTotal())
		totals.Vat = totals.Vat.Add(rec.VatTotal())

		switch rec.Kind {
		case reportdomain.RecordSale:
			totals.SaleCount++
			totals.SaleVat = totals.SaleVat.Add(rec.VatTotal())
			file.Registry.Sales = append(file.Registry.Sales, saleRow(totals.SaleCount, rec))
		case reportdomain.RecordPurchase:
			totals.PurchaseCount++
			totals.PurchaseVat = totals.PurchaseVat.Add(rec.VatTotal())
			file.Registry.Purchases = append(file.Registry.Purchases, purchaseRow(totals.PurchaseCount, rec))
		default:
			return nil, Totals{}, fmt.Errorf("%w: record %d has unknown kind %q", reportdomain.ErrFatal, rec.RecordNumber, rec.Kind)
		}
	}
	file.Registry.SaleCtrl = SaleCtrl{Rows: totals.SaleCount, Tax: Amount(totals.SaleVat)}
	file.Registry.PurchaseCtrl = PurchaseCtrl{Rows: totals.PurchaseCount, Tax: Amount(totals.PurchaseVat)}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(file); err != nil {
		return nil, Totals{}, fmt.Errorf("encode document: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), totals, nil
}

func saleRow(lp int, rec *reportdomain.Record) SaleRow {
	row := SaleRow{
		Lp:              lp,
		CountryCode:     foreignCountry(rec),
		CounterpartID:   counterpartID(rec),
		CounterpartName: orDash(rec.CounterpartName),
		DocumentNumber:  rec.DocumentNumber,
		IssueDate:       rec.DocumentDate.UTC().Format(dateLayout),
		Flags:           flags(rec),
		K10:             optionalAmount(rec.NetExempt),
		K13:             optionalAmount(rec.NetZero),
	}
	if rec.OperationDate != nil {
		row.SaleDate = rec.OperationDate.UTC().Format(dateLayout)
	}
	if !rec.NetSuperReduced.IsZero() || !rec.VatSuperReduced.IsZero() {
		row.K15, row.K16 = Amount(rec.NetSuperReduced), Amount(rec.VatSuperReduced)
	}
	if !rec.NetReduced.IsZero() || !rec.VatReduced.IsZero() {
		row.K17, row.K18 = Amount(rec.NetReduced), Amount(rec.VatReduced)
	}
	if !rec.NetStandard.IsZero() || !rec.VatStandard.IsZero() {
		row.K19, row.K20 = Amount(rec.NetStandard), Amount(rec.VatStandard)
	}
	return row
}

func purchaseRow(lp int, rec *reportdomain.Record) PurchaseRow {
	row := PurchaseRow{
		Lp:              lp,
		CountryCode:     foreignCountry(rec),
		CounterpartID:   counterpartID(rec),
		CounterpartName: orDash(rec.CounterpartName),
		DocumentNumber:  rec.DocumentNumber,
		PurchaseDate:    rec.DocumentDate.UTC().Format(dateLayout),
		Flags:           procedureFlags(rec),
		K42:             Amount(rec.NetTotal()),
		K43:             Amount(rec.VatTotal()),
	}
	if rec.OperationDate != nil {
		row.ReceiptDate = rec.OperationDate.UTC().Format(dateLayout)
	}
	return row
}

func checkFlagCodes(rec *reportdomain.Record) error {
	for _, codes := range [][]string{rec.GTUCodes, rec.ProcedureCodes} {
		for _, code := range codes {
			if !reportdomain.ValidFlagCode(code) {
				return fmt.Errorf("%w: record %d has code %q that is not a valid element name",
					reportdomain.ErrInvalidRecord, rec.RecordNumber, code)
			}
		}
	}
	return nil
}

func flags(rec *reportdomain.Record) []Flag {
	out := make([]Flag, 0, len(rec.GTUCodes)+len(rec.ProcedureCodes))
	for _, code := range sortedUnique(rec.GTUCodes) {
		out = append(out, Flag{XMLName: xml.Name{Local: code}, Value: "1"})
	}
	return append(out, procedureFlags(rec)...)
}

func procedureFlags(rec *reportdomain.Record) []Flag {
	codes := sortedUnique(rec.ProcedureCodes)
	out := make([]Flag, 0, len(codes))
	for _, code := range codes {
		out = append(out, Flag{XMLName: xml.Name{Local: code}, Value: "1"})
	}
	return out
}

func sortedUnique(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func foreignCountry(rec *reportdomain.Record) string {
	if rec.Foreign() {
		return rec.CounterpartCountry
	}
	return ""
}

func counterpartID(rec *reportdomain.Record) string {
	if strings.TrimSpace(rec.CounterpartID) == "" {
		return "brak"
	}
	if rec.Foreign() {
		return strings.TrimSpace(rec.CounterpartID)
	}
	return normalizeDigits(rec.CounterpartID)
}

func normalizeDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.TrimSpace(value)
	}
	return b.String()
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

// Amount formats a monetary value with two decimals.
func Amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func optionalAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return Amount(d)
}

// SortFieldCodes orders declaration codes naturally, so P_9 precedes P_10.
func SortFieldCodes(fields map[string]string) []string {
	codes := make([]string, 0, len(fields))
	for code := range fields {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		pi, ni := splitCode(codes[i])
		pj, nj := splitCode(codes[j])
		if pi != pj {
			return pi < pj
		}
		if ni != nj {
			return ni < nj
		}
		return codes[i] < codes[j]
	})
	return codes
}

func splitCode(code string) (string, int) {
	idx := strings.LastIndex(code, "_")
	if idx < 0 {
		return code, -1
	}
	n, err := strconv.Atoi(code[idx+1:])
	if err != nil {
		return code, -1
	}
	return code[:idx], n
}

// Hash returns the hex sha256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
