package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chimeworks/chime/config"
	"github.com/chimeworks/chime/db"
	"github.com/chimeworks/chime/logger"
)

// DbCmd groups database maintenance commands
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Chime database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		conn, err := db.Open(cfg.Database.Path, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(conn, logger.Logger); err != nil {
			return err
		}
		fmt.Println("Migrations applied")
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
}
