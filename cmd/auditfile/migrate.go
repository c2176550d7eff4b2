package main

import (
	"fmt"

	"github.com/smallbiznis/auditfile/internal/config"
	"github.com/smallbiznis/auditfile/internal/migration"
	"github.com/smallbiznis/auditfile/internal/observability/logger"
	"github.com/smallbiznis/auditfile/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		log, err := logger.New(nil, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		conn, err := db.Open(db.FromAppConfig(cfg), log)
		if err != nil {
			return err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		if migrateStatus {
			if conn.Dialector.Name() != "postgres" {
				return fmt.Errorf("migration status is only tracked on postgres, got %s", conn.Dialector.Name())
			}
			version, dirty, err := migration.Version(sqlDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		}

		if err := migration.Apply(conn); err != nil {
			return err
		}
		log.Info("migrations applied", zap.String("dialect", conn.Dialector.Name()))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print the applied migration version instead of migrating")
}
