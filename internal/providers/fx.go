// Package providers bundles the adapters for the collaborators a report
// depends on but does not own.
package providers

import (
	"github.com/smallbiznis/auditfile/internal/providers/gateway"
	"github.com/smallbiznis/auditfile/internal/providers/ledger"
	"github.com/smallbiznis/auditfile/internal/providers/pdf"
	"github.com/smallbiznis/auditfile/internal/providers/registry"
	"github.com/smallbiznis/auditfile/internal/providers/signature"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	gateway.Module,
	ledger.Module,
	pdf.Module,
	registry.Module,
	signature.Module,
)
