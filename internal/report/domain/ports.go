package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Taxpayer is the registry view of a client.
type Taxpayer struct {
	ClientID  string `json:"client_id"`
	TaxID     string `json:"tax_id"`
	LegalName string `json:"legal_name"`
	Email     string `json:"email,omitempty"`
}

// ClientRegistry resolves clients to taxpayer details. Unknown clients
// yield an error wrapping ErrNotFound.
type ClientRegistry interface {
	Lookup(ctx context.Context, clientID string) (Taxpayer, error)
}

// BracketAmount is the net and VAT amount of a ledger entry for one rate bracket.
// Bracket is one of standard, reduced, superReduced, zero, exempt.
type BracketAmount struct {
	Bracket string          `json:"bracket"`
	Net     decimal.Decimal `json:"net"`
	Vat     decimal.Decimal `json:"vat"`
}

// LedgerTransaction is an economic transaction offered for import.
type LedgerTransaction struct {
	ExternalID         string          `json:"id"`
	Direction          RecordKind      `json:"direction"`
	DocumentNumber     string          `json:"document_number"`
	DocumentDate       time.Time       `json:"document_date"`
	OperationDate      *time.Time      `json:"operation_date,omitempty"`
	CounterpartID      string          `json:"counterparty_id"`
	CounterpartName    string          `json:"counterparty_name"`
	CounterpartCountry string          `json:"counterparty_country,omitempty"`
	Amounts            []BracketAmount `json:"amounts"`
	GTUCodes           []string        `json:"gtu_codes,omitempty"`
	ProcedureCodes     []string        `json:"procedure_codes,omitempty"`
}

// TransactionLedger lists transactions dated in [from, to).
type TransactionLedger interface {
	ListTransactions(ctx context.Context, clientID string, from, to time.Time) ([]LedgerTransaction, error)
}

// SignatureProvider signs assembled documents.
type SignatureProvider interface {
	Sign(ctx context.Context, document []byte, signatureType SignatureType) ([]byte, error)
}

// GatewayStatus is the processing state reported by the submission gateway.
type GatewayStatus string

const (
	GatewayPending  GatewayStatus = "PENDING"
	GatewayAccepted GatewayStatus = "ACCEPTED"
	GatewayRejected GatewayStatus = "REJECTED"
)

// SubmitRequest carries a signed document to the gateway. IdempotencyKey is
// stable for the same report and document content.
type SubmitRequest struct {
	Document       []byte
	Sandbox        bool
	IdempotencyKey string
}

// PollResult is the gateway's answer for a reference id.
type PollResult struct {
	Status     GatewayStatus
	ReceiptID  string
	Reason     string
	ReceivedAt *time.Time
}

// SubmissionGateway is the government ingestion endpoint.
type SubmissionGateway interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, referenceID string, sandbox bool) (PollResult, error)
}

// AuditEntry is a fire-and-forget audit record.
type AuditEntry struct {
	Action       string
	ActorID      string
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
}

type AuditLogger interface {
	Log(ctx context.Context, entry AuditEntry) error
}

// StatusChangedEvent is published after every committed status change.
type StatusChangedEvent struct {
	ReportID   string    `json:"report_id"`
	ClientID   string    `json:"client_id"`
	Kind       Kind      `json:"kind"`
	Period     string    `json:"period"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
}

const EventStatusChanged = "report.status_changed"

type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error
}

// ArtifactInfo describes a stored artifact.
type ArtifactInfo struct {
	Path string
	Size int64
	Hash string
}

// ArtifactStore persists generated and signed documents.
type ArtifactStore interface {
	Put(ctx context.Context, name string, content []byte) (ArtifactInfo, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// ReceiptRenderer renders the human-readable confirmation of an accepted filing.
type ReceiptRenderer interface {
	RenderReceipt(ctx context.Context, report *Report) ([]byte, error)
}
