package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() reportdomain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, report *reportdomain.Report) error {
	if report == nil {
		return nil
	}
	return db.WithContext(ctx).Create(report).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*reportdomain.Report, error) {
	var report reportdomain.Report
	err := db.WithContext(ctx).Where("id = ?", id).Take(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

func (r *repository) FindActiveFirst(ctx context.Context, db *gorm.DB, clientID string, kind reportdomain.Kind, periodKey string) (*reportdomain.Report, error) {
	var report reportdomain.Report
	err := db.WithContext(ctx).
		Where("client_id = ? AND kind = ? AND period_key = ? AND purpose = ?",
			clientID, kind, periodKey, reportdomain.PurposeFirst).
		Take(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

func (r *repository) List(ctx context.Context, db *gorm.DB, filter reportdomain.ListFilter) ([]*reportdomain.Report, error) {
	var reports []*reportdomain.Report
	stmt := db.WithContext(ctx).Model(&reportdomain.Report{})

	if filter.ClientID != "" {
		stmt = stmt.Where("client_id = ?", filter.ClientID)
	}
	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Purpose != "" {
		stmt = stmt.Where("purpose = ?", filter.Purpose)
	}
	if filter.CursorID != 0 {
		stmt = stmt.Where("id < ?", filter.CursorID)
	}

	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}

func (r *repository) CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to reportdomain.Status, fields map[string]any) error {
	if !reportdomain.CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", reportdomain.ErrFatal, from, to)
	}
	updates := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to
	return r.conditionalUpdate(ctx, db, id, from, updates)
}

func (r *repository) UpdateIfStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status reportdomain.Status, fields map[string]any) error {
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	return r.conditionalUpdate(ctx, db, id, status, updates)
}

func (r *repository) conditionalUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID, status reportdomain.Status, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&reportdomain.Report{}).
		Where("id = ? AND status = ?", id, status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return reportdomain.ErrStaleStatus
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID, status reportdomain.Status) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status = ?", id, status).Delete(&reportdomain.Report{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return reportdomain.ErrStaleStatus
		}
		return tx.Where("report_id = ?", id).Delete(&reportdomain.Record{}).Error
	})
}

func (r *repository) AppendRecords(ctx context.Context, db *gorm.DB, reportID snowflake.ID, records []*reportdomain.Record) error {
	if len(records) == 0 {
		return nil
	}

	sales, purchases := 0, 0
	for _, rec := range records {
		if rec.Kind == reportdomain.RecordSale {
			sales++
		} else {
			purchases++
		}
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The counter bump is the row lock that serializes concurrent inserts.
		res := tx.Exec(
			`UPDATE reports
			 SET last_record_number = last_record_number + ?,
			     total_records = total_records + ?,
			     sale_count = sale_count + ?,
			     purchase_count = purchase_count + ?,
			     updated_at = ?
			 WHERE id = ? AND status = ?`,
			len(records), len(records), sales, purchases, time.Now().UTC(),
			reportID, reportdomain.StatusDraft,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return reportdomain.ErrStaleStatus
		}

		var last int
		if err := tx.Raw(`SELECT last_record_number FROM reports WHERE id = ?`, reportID).Scan(&last).Error; err != nil {
			return err
		}

		next := last - len(records) + 1
		for i, rec := range records {
			rec.ReportID = reportID
			rec.RecordNumber = next + i
		}
		return tx.Create(records).Error
	})
}

func (r *repository) ClearRecords(ctx context.Context, db *gorm.DB, reportID snowflake.ID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE reports
			 SET last_record_number = 0, total_records = 0, sale_count = 0, purchase_count = 0, updated_at = ?
			 WHERE id = ? AND status = ?`,
			time.Now().UTC(), reportID, reportdomain.StatusDraft,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return reportdomain.ErrStaleStatus
		}
		return tx.Where("report_id = ?", reportID).Delete(&reportdomain.Record{}).Error
	})
}

func (r *repository) ListRecords(ctx context.Context, db *gorm.DB, reportID snowflake.ID) ([]reportdomain.Record, error) {
	var records []reportdomain.Record
	err := db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("record_number asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) CountCorrections(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&reportdomain.Report{}).
		Where("original_report_id = ? AND purpose = ?", originalID, reportdomain.PurposeCorrection).
		Count(&count).Error
	return count, err
}

func (r *repository) LatestCorrection(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (*reportdomain.Report, error) {
	var report reportdomain.Report
	err := db.WithContext(ctx).
		Where("original_report_id = ? AND purpose = ?", originalID, reportdomain.PurposeCorrection).
		Order("correction_number desc").
		Take(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}
