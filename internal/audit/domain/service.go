package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog is one persisted audit entry.
type AuditLog struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorID      string            `gorm:"type:text;not null;index" json:"actor_id"`
	Action       string            `gorm:"type:text;not null;index" json:"action"`
	ResourceType string            `gorm:"type:text;not null" json:"resource_type"`
	// ResourceID holds the report id for report actions.
	ResourceID   string            `gorm:"type:text;index" json:"resource_id"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	IPAddress    *string           `gorm:"type:text" json:"ip_address,omitempty"`
	RequestID    *string           `gorm:"type:text" json:"request_id,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// ListAuditLogRequest filters the trail. Since is inclusive and Until
// exclusive.
type ListAuditLogRequest struct {
	pagination.Pagination
	Action       string
	ResourceType string
	ResourceID   string
	ActorID      string
	Since        *time.Time
	Until        *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type ListFilter struct {
	Action       string
	ResourceType string
	ResourceID   string
	ActorID      string
	Since        *time.Time
	Until        *time.Time
	CursorID     snowflake.ID
	Limit        int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

type Service interface {
	reportdomain.AuditLogger
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
