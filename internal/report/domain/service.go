package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/auditfile/pkg/db/pagination"
)

type CreateReportRequest struct {
	ClientID string `json:"client_id" validate:"required,max=64"`
	Kind     Kind   `json:"kind" validate:"required,oneof=JPK_V7M JPK_V7K"`
	Year     int    `json:"year" validate:"required,gte=2020,lte=9999"`
	Month    int    `json:"month" validate:"omitempty,gte=1,lte=12"`
	Quarter  int    `json:"quarter" validate:"omitempty,gte=1,lte=4"`
}

type ListReportRequest struct {
	pagination.Pagination
	ClientID string
	Kind     Kind
	Status   Status
	Purpose  Purpose
}

type ListReportResponse struct {
	pagination.PageInfo
	Reports []Report `json:"reports"`
}

// RecordInput is a manually entered sale or purchase line.
type RecordInput struct {
	DocumentNumber     string          `json:"document_number" validate:"max=256"`
	DocumentDate       time.Time       `json:"document_date" validate:"required"`
	OperationDate      *time.Time      `json:"operation_date"`
	CounterpartID      string          `json:"counterpart_id" validate:"max=32"`
	CounterpartName    string          `json:"counterpart_name" validate:"max=256"`
	CounterpartCountry string          `json:"counterpart_country" validate:"omitempty,len=2,uppercase"`
	NetStandard        decimal.Decimal `json:"net_standard"`
	VatStandard        decimal.Decimal `json:"vat_standard"`
	NetReduced         decimal.Decimal `json:"net_reduced"`
	VatReduced         decimal.Decimal `json:"vat_reduced"`
	NetSuperReduced    decimal.Decimal `json:"net_super_reduced"`
	VatSuperReduced    decimal.Decimal `json:"vat_super_reduced"`
	NetZero            decimal.Decimal `json:"net_zero"`
	NetExempt          decimal.Decimal `json:"net_exempt"`
	GTUCodes           []string        `json:"gtu_codes" validate:"dive,max=16,flagcode"`
	ProcedureCodes     []string        `json:"procedure_codes" validate:"dive,max=16,flagcode"`
}

type ImportRequest struct {
	ReportID   snowflake.ID
	PeriodFrom *time.Time
	PeriodTo   *time.Time
	Overwrite  bool
}

type ImportError struct {
	ExternalID string `json:"external_id,omitempty"`
	Index      int    `json:"index"`
	Message    string `json:"message"`
}

type ImportResult struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
	Report   *Report       `json:"report"`
}

type GenerateResult struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	RecordCount int       `json:"record_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Document is a retrieved artifact.
type Document struct {
	Name    string
	Content []byte
	Hash    string
}

type ValidateRequest struct {
	ReportID   snowflake.ID
	Structural bool
	Business   bool
}

// StatusResult is returned by CheckStatus. Message explains results that
// did not reach the gateway.
type StatusResult struct {
	Status      Status     `json:"status"`
	ReferenceID string     `json:"reference_id,omitempty"`
	ReceiptID   string     `json:"receipt_id,omitempty"`
	ReceivedAt  *time.Time `json:"receipt_received_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Message     string     `json:"message,omitempty"`
	Changed     bool       `json:"changed"`
}

type Receipt struct {
	ReportID    snowflake.ID `json:"report_id"`
	ReferenceID string       `json:"reference_id"`
	ReceiptID   string       `json:"receipt_id"`
	ReceivedAt  time.Time    `json:"receipt_received_at"`
	PDF         []byte       `json:"-"`
}

type Service interface {
	Create(ctx context.Context, req CreateReportRequest) (*Report, error)
	Get(ctx context.Context, id snowflake.ID) (*Report, error)
	List(ctx context.Context, req ListReportRequest) (ListReportResponse, error)
	Delete(ctx context.Context, id snowflake.ID) error

	AddSaleRecord(ctx context.Context, id snowflake.ID, in RecordInput) (*Record, error)
	AddPurchaseRecord(ctx context.Context, id snowflake.ID, in RecordInput) (*Record, error)
	ListRecords(ctx context.Context, id snowflake.ID) ([]Record, error)
	ImportFromLedger(ctx context.Context, req ImportRequest) (ImportResult, error)
	UpdateDeclaration(ctx context.Context, id snowflake.ID, fields map[string]string) (*Report, error)

	GenerateXML(ctx context.Context, id snowflake.ID, regenerate bool) (GenerateResult, error)
	DownloadXML(ctx context.Context, id snowflake.ID) (Document, error)
	ValidateReport(ctx context.Context, req ValidateRequest) (ValidationResult, error)
	SignReport(ctx context.Context, id snowflake.ID, signatureType SignatureType) (*Report, error)
	SubmitReport(ctx context.Context, id snowflake.ID, testMode bool) (*Report, error)
	CheckStatus(ctx context.Context, id snowflake.ID) (StatusResult, error)
	DownloadReceipt(ctx context.Context, id snowflake.ID) (Receipt, error)

	CreateCorrection(ctx context.Context, originalID snowflake.ID, reason string) (*Report, error)
}
