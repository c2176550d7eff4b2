package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ErrStaleStatus is returned by conditional writes when the stored status
// no longer matches the expected one.
var ErrStaleStatus = errors.New("stale_status")

// ListFilter narrows report listings.
type ListFilter struct {
	ClientID string
	Kind     Kind
	Status   Status
	Purpose  Purpose
	CursorID snowflake.ID
	Limit    int
}

// Repository persists reports and their records. Every method takes the
// handle to run on so callers can compose them inside one transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, report *Report) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Report, error)
	FindActiveFirst(ctx context.Context, db *gorm.DB, clientID string, kind Kind, periodKey string) (*Report, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Report, error)

	// CompareAndSetStatus moves id from -> to and applies fields in the same
	// statement. It returns ErrStaleStatus when the report is not in from.
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, fields map[string]any) error
	// UpdateIfStatus applies fields only while the report is in status.
	UpdateIfStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, fields map[string]any) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status) error

	// AppendRecords numbers and inserts records, bumping the report counters
	// atomically. The report must be in DRAFT.
	AppendRecords(ctx context.Context, db *gorm.DB, reportID snowflake.ID, records []*Record) error
	ClearRecords(ctx context.Context, db *gorm.DB, reportID snowflake.ID) error
	ListRecords(ctx context.Context, db *gorm.DB, reportID snowflake.ID) ([]Record, error)

	CountCorrections(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (int64, error)
	LatestCorrection(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (*Report, error)
}
