package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"proofplus-coordinator/internal/app"
	"proofplus-coordinator/internal/db"
	"proofplus-coordinator/internal/repository"
)

func newVerifyDBCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-db",
		Short: "Open and migrate the task store, then report its record count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := app.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			logger.SetOutput(cmd.ErrOrStderr())

			database, err := db.Open(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close(database)

			count, err := repository.NewFinalizedTaskRepository(database).Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("counting finalized tasks: %w", err)
			}
			fmt.Fprintf(stdout, "driver: %s\nfinalized tasks: %d\n", database.Dialector.Name(), count) //nolint:errcheck
			return nil
		},
	}
}
