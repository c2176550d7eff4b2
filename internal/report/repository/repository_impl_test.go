package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newReport(t *testing.T) *reportdomain.Report {
	t.Helper()
	month := 3
	now := time.Now().UTC()
	return &reportdomain.Report{
		ClientID:    "client-1",
		FilerTaxID:  "5213017228",
		FilerName:   "Acme",
		Kind:        reportdomain.KindMonthly,
		Status:      reportdomain.StatusDraft,
		Year:        2024,
		Month:       &month,
		PeriodKey:   "2024-03",
		Purpose:     reportdomain.PurposeFirst,
		Declaration: datatypes.JSONMap{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCompareAndSetStatus(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	repo := NewRepository()
	ctx := context.Background()

	report := newReport(t)
	report.ID = node.Generate()
	require.NoError(t, repo.Insert(ctx, db, report))

	err := repo.CompareAndSetStatus(ctx, db, report.ID, reportdomain.StatusDraft, reportdomain.StatusGenerating, nil)
	require.NoError(t, err)

	// the second writer expected DRAFT and loses
	err = repo.CompareAndSetStatus(ctx, db, report.ID, reportdomain.StatusDraft, reportdomain.StatusGenerating, nil)
	assert.ErrorIs(t, err, reportdomain.ErrStaleStatus)

	err = repo.CompareAndSetStatus(ctx, db, report.ID, reportdomain.StatusGenerating, reportdomain.StatusAccepted, nil)
	assert.ErrorIs(t, err, reportdomain.ErrFatal)

	err = repo.CompareAndSetStatus(ctx, db, report.ID, reportdomain.StatusGenerating, reportdomain.StatusGenerated,
		map[string]any{"xml_hash": "abc"})
	require.NoError(t, err)

	stored, err := repo.FindByID(ctx, db, report.ID)
	require.NoError(t, err)
	assert.Equal(t, reportdomain.StatusGenerated, stored.Status)
	assert.Equal(t, "abc", stored.XMLHash)

	missing, err := repo.FindByID(ctx, db, node.Generate())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAppendRecordsAssignsUniqueNumbers(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	repo := NewRepository()
	ctx := context.Background()

	report := newReport(t)
	report.ID = node.Generate()
	require.NoError(t, repo.Insert(ctx, db, report))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := reportdomain.RecordSale
			if i%2 == 1 {
				kind = reportdomain.RecordPurchase
			}
			errs <- repo.AppendRecords(ctx, db, report.ID, []*reportdomain.Record{{
				ID:           node.Generate(),
				Kind:         kind,
				DocumentDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				NetStandard:  decimal.NewFromInt(int64(i)),
				CreatedAt:    time.Now().UTC(),
			}})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records, err := repo.ListRecords(ctx, db, report.ID)
	require.NoError(t, err)
	require.Len(t, records, writers)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.RecordNumber)
	}

	stored, err := repo.FindByID(ctx, db, report.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, stored.TotalRecords)
	assert.Equal(t, writers/2, stored.SaleCount)
	assert.Equal(t, writers/2, stored.PurchaseCount)

	require.NoError(t, repo.ClearRecords(ctx, db, report.ID))
	stored, err = repo.FindByID(ctx, db, report.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.TotalRecords)
	assert.Zero(t, stored.LastRecordNumber)
}

func TestAppendRecordsRequiresDraft(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	repo := NewRepository()
	ctx := context.Background()

	report := newReport(t)
	report.ID = node.Generate()
	report.Status = reportdomain.StatusGenerated
	require.NoError(t, repo.Insert(ctx, db, report))

	err := repo.AppendRecords(ctx, db, report.ID, []*reportdomain.Record{{
		ID:           node.Generate(),
		Kind:         reportdomain.RecordSale,
		DocumentDate: time.Now().UTC(),
		CreatedAt:    time.Now().UTC(),
	}})
	assert.ErrorIs(t, err, reportdomain.ErrStaleStatus)

	records, err := repo.ListRecords(ctx, db, report.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteRequiresExpectedStatus(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	repo := NewRepository()
	ctx := context.Background()

	report := newReport(t)
	report.ID = node.Generate()
	require.NoError(t, repo.Insert(ctx, db, report))

	assert.ErrorIs(t, repo.Delete(ctx, db, report.ID, reportdomain.StatusError), reportdomain.ErrStaleStatus)
	require.NoError(t, repo.Delete(ctx, db, report.ID, reportdomain.StatusDraft))

	stored, err := repo.FindByID(ctx, db, report.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}
