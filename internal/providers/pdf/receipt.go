// Package pdf renders the human-readable confirmation of an accepted filing.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/auditfile/internal/clock"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("provider.pdf",
	fx.Provide(NewReceiptRenderer),
)

const timestampLayout = "2006-01-02 15:04 MST"

// ReceiptRenderer lays out the acceptance confirmation as a one-page PDF.
type ReceiptRenderer struct {
	clock clock.Clock
}

func NewReceiptRenderer(c clock.Clock) reportdomain.ReceiptRenderer {
	return &ReceiptRenderer{clock: c}
}

func (r *ReceiptRenderer) RenderReceipt(_ context.Context, report *reportdomain.Report) ([]byte, error) {
	if report == nil {
		return nil, errors.New("pdf: nil report")
	}
	if report.ReceiptID == "" {
		return nil, fmt.Errorf("pdf: report %s has no receipt", report.ID)
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Filing confirmation", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, string(report.Kind), props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New(report.FilerName, props.Text{Style: fontstyle.Bold}),
			text.New("Tax id: "+report.FilerTaxID, props.Text{Top: 5}),
			text.New("Client: "+report.ClientID, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Period: "+report.PeriodKey, props.Text{Align: align.Right}),
			text.New("Purpose: "+purposeLabel(report), props.Text{Top: 5, Align: align.Right}),
			text.New("Environment: "+environmentLabel(report.TestMode), props.Text{Top: 10, Align: align.Right}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, "Accepted under receipt "+report.ReceiptID, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	rows := [][2]string{
		{"Reference id", report.ReferenceID},
		{"Submitted at", formatTime(report.SubmittedAt)},
		{"Receipt received at", formatTime(report.ReceiptReceivedAt)},
		{"Signature", string(report.SignatureType)},
		{"Document hash (SHA-256)", report.XMLHash},
		{"Sale records", fmt.Sprintf("%d", report.SaleCount)},
		{"Purchase records", fmt.Sprintf("%d", report.PurchaseCount)},
		{"Net total", report.NetTotal.StringFixed(2)},
		{"VAT total", report.VatTotal.StringFixed(2)},
	}
	for _, row := range rows {
		m.AddRow(8,
			text.NewCol(4, row[0], props.Text{Size: 9, Style: fontstyle.Bold}),
			text.NewCol(8, row[1], props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(15,
		text.NewCol(12, "Generated "+r.clock.Now().UTC().Format(timestampLayout), props.Text{
			Size: 8,
			Top:  7,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generate receipt: %w", err)
	}
	return doc.GetBytes(), nil
}

func purposeLabel(report *reportdomain.Report) string {
	if report.IsCorrection() && report.CorrectionNumber != nil {
		return fmt.Sprintf("correction %d", *report.CorrectionNumber)
	}
	return "first filing"
}

func environmentLabel(testMode bool) string {
	if testMode {
		return "sandbox"
	}
	return "production"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(timestampLayout)
}
