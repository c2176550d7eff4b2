// Package domain contains the report lifecycle models, the lifecycle table
// and the collaborator ports used by the report service.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Kind identifies the audit-file variant.
type Kind string

const (
	KindMonthly   Kind = "JPK_V7M"
	KindQuarterly Kind = "JPK_V7K"
)

func (k Kind) Valid() bool {
	return k == KindMonthly || k == KindQuarterly
}

// Purpose distinguishes a first filing from a correction.
type Purpose string

const (
	PurposeFirst      Purpose = "FIRST"
	PurposeCorrection Purpose = "CORRECTION"
)

// SignatureType is the credential used to sign the assembled document.
type SignatureType string

const (
	SignatureTrustedProfile SignatureType = "TRUSTED_PROFILE"
	SignatureQualified      SignatureType = "QUALIFIED"
)

func (t SignatureType) Valid() bool {
	return t == SignatureTrustedProfile || t == SignatureQualified
}

// RecordKind tells sale and purchase lines apart.
type RecordKind string

const (
	RecordSale     RecordKind = "SALE"
	RecordPurchase RecordKind = "PURCHASE"
)

func (k RecordKind) Valid() bool {
	return k == RecordSale || k == RecordPurchase
}

// Report is one compliance filing for one client and one period.
type Report struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	ClientID         string        `gorm:"type:text;not null;index" json:"client_id"`
	FilerTaxID       string        `gorm:"type:text;not null" json:"filer_tax_id"`
	FilerName        string        `gorm:"type:text;not null" json:"filer_name"`
	Kind             Kind          `gorm:"type:text;not null" json:"kind"`
	Status           Status        `gorm:"type:text;not null;default:'DRAFT';index" json:"status"`
	Year             int           `gorm:"not null" json:"year"`
	Month            *int          `json:"month,omitempty"`
	Quarter          *int          `json:"quarter,omitempty"`
	PeriodKey        string        `gorm:"type:text;not null" json:"period"`
	Purpose          Purpose       `gorm:"type:text;not null;default:'FIRST'" json:"purpose"`
	CorrectionNumber *int          `gorm:"uniqueIndex:ux_report_correction,priority:2" json:"correction_number,omitempty"`
	OriginalReportID *snowflake.ID `gorm:"index;uniqueIndex:ux_report_correction,priority:1" json:"original_report_id,omitempty"`
	CorrectionReason string        `gorm:"type:text" json:"correction_reason,omitempty"`

	TotalRecords     int             `gorm:"not null;default:0" json:"total_records"`
	SaleCount        int             `gorm:"not null;default:0" json:"sale_count"`
	PurchaseCount    int             `gorm:"not null;default:0" json:"purchase_count"`
	LastRecordNumber int             `gorm:"not null;default:0" json:"-"`
	NetTotal         decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"net_total"`
	VatTotal         decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"vat_total"`

	XMLPath     string     `gorm:"type:text" json:"xml_path,omitempty"`
	XMLSize     int64      `gorm:"not null;default:0" json:"xml_size"`
	XMLHash     string     `gorm:"type:text" json:"xml_hash,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`

	SignedPath    string        `gorm:"type:text" json:"signed_path,omitempty"`
	SignatureType SignatureType `gorm:"type:text" json:"signature_type,omitempty"`
	SignedAt      *time.Time    `json:"signed_at,omitempty"`

	ReferenceID       string     `gorm:"type:text;index" json:"reference_id,omitempty"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	TestMode          bool       `gorm:"not null;default:false" json:"test_mode"`
	ReceiptID         string     `gorm:"type:text" json:"receipt_id,omitempty"`
	ReceiptReceivedAt *time.Time `json:"receipt_received_at,omitempty"`
	RejectionReason   string     `gorm:"type:text" json:"rejection_reason,omitempty"`
	LastError         string     `gorm:"type:text" json:"last_error,omitempty"`

	Declaration datatypes.JSONMap `gorm:"type:jsonb" json:"declaration"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Report) TableName() string { return "reports" }

// DeclarationFields returns the declaration as a string map.
func (r *Report) DeclarationFields() map[string]string {
	fields := make(map[string]string, len(r.Declaration))
	for k, v := range r.Declaration {
		switch cast := v.(type) {
		case string:
			fields[k] = cast
		case nil:
			fields[k] = ""
		default:
			fields[k] = fmt.Sprint(cast)
		}
	}
	return fields
}

// Period returns the calendar window covered by the report.
func (r *Report) Period() Period {
	return Period{Kind: r.Kind, Year: r.Year, Month: derefInt(r.Month), Quarter: derefInt(r.Quarter)}
}

// IsCorrection reports whether the report supersedes an earlier filing.
func (r *Report) IsCorrection() bool {
	return r.Purpose == PurposeCorrection
}

// Record is one sale or purchase line belonging to a report.
type Record struct {
	ID                 snowflake.ID                `gorm:"primaryKey" json:"id"`
	ReportID           snowflake.ID                `gorm:"not null;index;uniqueIndex:ux_report_record_number,priority:1" json:"report_id"`
	Kind               RecordKind                  `gorm:"type:text;not null" json:"kind"`
	RecordNumber       int                         `gorm:"not null;uniqueIndex:ux_report_record_number,priority:2" json:"record_number"`
	ExternalID         string                      `gorm:"type:text" json:"external_id,omitempty"`
	DocumentNumber     string                      `gorm:"type:text" json:"document_number"`
	DocumentDate       time.Time                   `gorm:"not null" json:"document_date"`
	OperationDate      *time.Time                  `json:"operation_date,omitempty"`
	CounterpartID      string                      `gorm:"type:text" json:"counterpart_id"`
	CounterpartName    string                      `gorm:"type:text" json:"counterpart_name"`
	CounterpartCountry string                      `gorm:"type:text" json:"counterpart_country,omitempty"`
	NetStandard        decimal.Decimal             `gorm:"type:numeric(18,2);not null;default:0" json:"net_standard"`
	VatStandard        decimal.Decimal             `gorm:"type:numeric(18,2);not null;default:0" json:"vat_standard"`
	NetReduced         decimal.Decimal             `gorm:"type:numeric(18,2);not null;default:0" json:"net_reduced"`
	VatReduced         decimal.Decimal             `gorm:"type:numeric(18,2);not null;default:0" json:"vat_reduced"`
	NetSuperReduced    decimal.Decimal             `gorm:"type:numeric(18,2);not null;default:0" json:"net_super_reduced"`
	VatSuperReduced    decimal.Decimal             `gorm:"type:numeric(18,2);not null;default:0" json:"vat_super_reduced"`
	NetZero            decimal.Decimal             `gorm:"type:numeric(18,2);not null;default:0" json:"net_zero"`
	NetExempt          decimal.Decimal             `gorm:"type:numeric(18,2);not null;default:0" json:"net_exempt"`
	GTUCodes           datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"gtu_codes,omitempty"`
	ProcedureCodes     datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"procedure_codes,omitempty"`
	CreatedAt          time.Time                   `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "report_records" }

// NetTotal sums net amounts across all rate brackets.
func (r *Record) NetTotal() decimal.Decimal {
	return decimal.Sum(r.NetStandard, r.NetReduced, r.NetSuperReduced, r.NetZero, r.NetExempt)
}

// VatTotal sums VAT across the taxed brackets.
func (r *Record) VatTotal() decimal.Decimal {
	return decimal.Sum(r.VatStandard, r.VatReduced, r.VatSuperReduced)
}

// Foreign reports whether the counterpart is registered outside Poland.
func (r *Record) Foreign() bool {
	return r.CounterpartCountry != "" && r.CounterpartCountry != "PL"
}

// Bracket pairs a net amount with its VAT for one rate.
type Bracket struct {
	Name string
	Net  decimal.Decimal
	Vat  decimal.Decimal
}

// TaxedBrackets returns the brackets that carry VAT, keyed by rule-table name.
func (r *Record) TaxedBrackets() []Bracket {
	return []Bracket{
		{Name: "standard", Net: r.NetStandard, Vat: r.VatStandard},
		{Name: "reduced", Net: r.NetReduced, Vat: r.VatReduced},
		{Name: "superReduced", Net: r.NetSuperReduced, Vat: r.VatSuperReduced},
	}
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
