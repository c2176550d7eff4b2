package ledger

import (
	"fmt"

	"github.com/smallbiznis/auditfile/internal/config"
	"github.com/smallbiznis/auditfile/internal/providers/upstream"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("provider.ledger",
	fx.Provide(NewLedger),
)

// NewLedger selects the source configured by LEDGER_SOURCE.
func NewLedger(cfg config.Config, log *zap.Logger) (reportdomain.TransactionLedger, error) {
	switch cfg.Ledger.Source {
	case config.LedgerSourceHTTP, "":
		return NewHTTPLedger(upstream.NewClient("ledger", cfg.Ledger.URL, cfg.Ledger.Timeout, log)), nil
	case config.LedgerSourceXLSX:
		return NewXLSXLedger(cfg.Ledger.XLSXDir, log), nil
	default:
		return nil, fmt.Errorf("unknown ledger source %q", cfg.Ledger.Source)
	}
}
