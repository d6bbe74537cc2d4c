package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/service"
	"github.com/garyjia/club-treasury/internal/container"
)

var (
	reconcileDryRun bool
	reconcileActor  string
	importActor     string
)

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "Compute the plan without linking anything")
	reconcileCmd.Flags().StringVar(&reconcileActor, "actor", service.SystemActor, "Member id recorded on the links")
	importStatementCmd.Flags().StringVar(&importActor, "actor", service.SystemActor, "Member id recorded on the import")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		bundle, err := container.ProvideDatabase(&cfg.Database, logger)
		if err != nil {
			return err
		}
		defer bundle.Conn.Close()

		logger.Info("Migrations complete", zap.Int("applied", bundle.Applied))
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Link unmatched bank transactions to approved claims",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := startContainer(cmd.Context())
		if err != nil {
			return err
		}
		defer closeContainer(c)

		report, err := c.Services().Reconciliation.PerformAutoReconciliation(cmd.Context(), service.ReconciliationOptions{
			Actor:  reconcileActor,
			DryRun: reconcileDryRun,
		})
		if report != nil {
			if perr := printJSON(report); perr != nil {
				return perr
			}
		}
		return err
	},
}

var importStatementCmd = &cobra.Command{
	Use:   "import-statement FILE",
	Short: "Import a bank statement spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := startContainer(cmd.Context())
		if err != nil {
			return err
		}
		defer closeContainer(c)

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open statement: %w", err)
		}
		defer f.Close()

		rows, err := c.StatementParser().Parse(f)
		if err != nil {
			return err
		}

		report, err := c.Services().Transactions.Import(cmd.Context(), importActor, rows)
		if report != nil {
			if perr := printJSON(report); perr != nil {
				return perr
			}
		}
		return err
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill-digests",
	Short: "Compute content digests for documents stored without one",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := startContainer(cmd.Context())
		if err != nil {
			return err
		}
		defer closeContainer(c)

		result, err := c.Services().Documents.BackfillDigests(cmd.Context())
		if result != nil {
			if perr := printJSON(result); perr != nil {
				return perr
			}
		}
		return err
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
