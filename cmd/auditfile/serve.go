package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/auditfile/internal/artifact"
	"github.com/smallbiznis/auditfile/internal/audit"
	"github.com/smallbiznis/auditfile/internal/clock"
	"github.com/smallbiznis/auditfile/internal/config"
	"github.com/smallbiznis/auditfile/internal/events"
	"github.com/smallbiznis/auditfile/internal/lock"
	"github.com/smallbiznis/auditfile/internal/metricspush"
	"github.com/smallbiznis/auditfile/internal/migration"
	"github.com/smallbiznis/auditfile/internal/observability"
	"github.com/smallbiznis/auditfile/internal/providers"
	"github.com/smallbiznis/auditfile/internal/report"
	"github.com/smallbiznis/auditfile/internal/scheduler"
	"github.com/smallbiznis/auditfile/internal/server"
	"github.com/smallbiznis/auditfile/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			// Core infrastructure
			config.Module,
			observability.Module,
			fx.Provide(RegisterSnowflake),
			db.Module,
			clock.Module,
			migration.Module,
			lock.Module,

			// Collaborators
			artifact.Module,
			providers.Module,
			events.Module,
			audit.Module,

			// Domain and transport
			report.Module,
			server.Module,
			scheduler.Module,
			metricspush.Module,
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
