package document

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse decodes an assembled document. Trailing content after the root
// element is rejected.
func Parse(content []byte) (*File, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.Strict = true

	var file File
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("decode document: trailing content")
			}
		case xml.Comment, xml.ProcInst:
		default:
			return nil, fmt.Errorf("decode document: trailing element")
		}
	}
	return &file, nil
}

// Problem is a structural defect found in a parsed document.
type Problem struct {
	Path    string
	Message string
	Control bool
}

// Expectation is what the stored report says the document must contain.
type Expectation struct {
	Kind          string
	Year          int
	Month         int
	Quarter       int
	Correction    bool
	FilerTaxID    string
	SaleCount     int
	PurchaseCount int
}

// CheckStructure confirms the document matches the canonical layout and
// that control sections agree with the rows.
func CheckStructure(f *File, want Expectation) []Problem {
	var problems []Problem
	add := func(path, format string, args ...any) {
		problems = append(problems, Problem{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	addCtrl := func(path, format string, args ...any) {
		problems = append(problems, Problem{Path: path, Message: fmt.Sprintf(format, args...), Control: true})
	}

	h := f.Header
	if h.FormCode.Value != FormCode {
		add("Naglowek/KodFormularza", "expected %s, got %q", FormCode, h.FormCode.Value)
	}
	if !strings.HasPrefix(h.FormCode.SystemCode, want.Kind+" ") {
		add("Naglowek/KodFormularza@kodSystemowy", "expected kind %s, got %q", want.Kind, h.FormCode.SystemCode)
	}
	if strings.TrimSpace(h.CreatedAt) == "" {
		add("Naglowek/DataWytworzeniaJPK", "creation timestamp is required")
	}
	wantPurpose := PurposeFirst
	if want.Correction {
		wantPurpose = PurposeFix
	}
	if h.Purpose != wantPurpose {
		add("Naglowek/CelZlozenia", "expected %s, got %q", wantPurpose, h.Purpose)
	}
	if h.Year != want.Year {
		add("Naglowek/Rok", "expected %d, got %d", want.Year, h.Year)
	}
	if h.Month != want.Month {
		add("Naglowek/Miesiac", "expected %d, got %d", want.Month, h.Month)
	}
	if h.Quarter != want.Quarter {
		add("Naglowek/Kwartal", "expected %d, got %d", want.Quarter, h.Quarter)
	}
	if strings.TrimSpace(f.Filer.TaxID) == "" {
		add("Podmiot1/NIP", "filer tax id is required")
	} else if want.FilerTaxID != "" && f.Filer.TaxID != want.FilerTaxID {
		add("Podmiot1/NIP", "filer tax id does not match the report")
	}
	if strings.TrimSpace(f.Filer.FullName) == "" {
		add("Podmiot1/PelnaNazwa", "filer name is required")
	}

	saleTax := decimal.Zero
	for i, row := range f.Registry.Sales {
		path := fmt.Sprintf("Ewidencja/SprzedazWiersz[%d]", i+1)
		if row.Lp != i+1 {
			add(path+"/LpSprzedazy", "expected %d, got %d", i+1, row.Lp)
		}
		if row.IssueDate == "" {
			add(path+"/DataWystawienia", "issue date is required")
		}
		for _, v := range []string{row.K16, row.K18, row.K20} {
			amt, err := parseAmount(v)
			if err != nil {
				add(path, "malformed amount %q", v)
				continue
			}
			saleTax = saleTax.Add(amt)
		}
		for _, v := range []string{row.K10, row.K13, row.K15, row.K17, row.K19} {
			if _, err := parseAmount(v); err != nil {
				add(path, "malformed amount %q", v)
			}
		}
	}
	if f.Registry.SaleCtrl.Rows != len(f.Registry.Sales) {
		addCtrl("Ewidencja/SprzedazCtrl/LiczbaWierszySprzedazy", "declares %d rows, found %d", f.Registry.SaleCtrl.Rows, len(f.Registry.Sales))
	}
	if declared, err := parseAmount(f.Registry.SaleCtrl.Tax); err != nil || !declared.Equal(saleTax) {
		addCtrl("Ewidencja/SprzedazCtrl/PodatekNalezny", "declares %q, rows sum to %s", f.Registry.SaleCtrl.Tax, Amount(saleTax))
	}

	purchaseTax := decimal.Zero
	for i, row := range f.Registry.Purchases {
		path := fmt.Sprintf("Ewidencja/ZakupWiersz[%d]", i+1)
		if row.Lp != i+1 {
			add(path+"/LpZakupu", "expected %d, got %d", i+1, row.Lp)
		}
		if row.PurchaseDate == "" {
			add(path+"/DataZakupu", "purchase date is required")
		}
		if _, err := parseAmount(row.K42); err != nil {
			add(path+"/K_42", "malformed amount %q", row.K42)
		}
		amt, err := parseAmount(row.K43)
		if err != nil {
			add(path+"/K_43", "malformed amount %q", row.K43)
			continue
		}
		purchaseTax = purchaseTax.Add(amt)
	}
	if f.Registry.PurchaseCtrl.Rows != len(f.Registry.Purchases) {
		addCtrl("Ewidencja/ZakupCtrl/LiczbaWierszyZakupow", "declares %d rows, found %d", f.Registry.PurchaseCtrl.Rows, len(f.Registry.Purchases))
	}
	if declared, err := parseAmount(f.Registry.PurchaseCtrl.Tax); err != nil || !declared.Equal(purchaseTax) {
		addCtrl("Ewidencja/ZakupCtrl/PodatekNaliczony", "declares %q, rows sum to %s", f.Registry.PurchaseCtrl.Tax, Amount(purchaseTax))
	}

	if len(f.Registry.Sales) != want.SaleCount {
		addCtrl("Ewidencja/SprzedazWiersz", "report holds %d sale records, document has %d", want.SaleCount, len(f.Registry.Sales))
	}
	if len(f.Registry.Purchases) != want.PurchaseCount {
		addCtrl("Ewidencja/ZakupWiersz", "report holds %d purchase records, document has %d", want.PurchaseCount, len(f.Registry.Purchases))
	}

	return problems
}

func parseAmount(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}
