package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conventio/outbox/internal/config"
	"github.com/conventio/outbox/storage/sqlstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the outbox tables if they do not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		db, err := openDB(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		store := sqlstore.NewSQLStore(db, nil, nil, nil)
		if err := store.EnsureTables(cmd.Context()); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}

		fmt.Println("outbox tables are in place")
		return nil
	},
}
