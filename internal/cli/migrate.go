package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/membank/membank/internal/config"
	"github.com/membank/membank/internal/store"
)

var migrateVerify bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Apply pending schema migrations. A file backup is taken before any
migration runs, and --verify runs each migration's integrity check
inside its transaction so a failed check rolls the step back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			applied, err := store.NewMigrator(a.db, a.logger).Migrate(migrateVerify)
			if err != nil {
				return err
			}
			if applied == 0 {
				fmt.Printf("schema up to date (version %d)\n", store.LatestVersion())
				return nil
			}
			fmt.Printf("applied %d migrations, now at version %d\n", applied, store.LatestVersion())
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current and latest schema versions, and available backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			version, err := store.NewMigrator(a.db, a.logger).Version()
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d (latest %d)\n", version, store.LatestVersion())

			backups, err := store.ListBackups(a.cfg.DBPath())
			if err != nil {
				return err
			}
			for _, b := range backups {
				fmt.Println("  backup:", b)
			}
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the database with the most recent backup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Deliberately does not open the database first: restore must
		// work when the live file is corrupted.
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		restored, err := store.RestoreLatestBackup(cfg.DBPath())
		if err != nil {
			return err
		}
		fmt.Printf("restored %s from %s\n", cfg.DBPath(), restored)
		fmt.Println("run `membank rebuild` to reconcile the vector index")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateVerify, "verify", true, "run integrity checks inside each migration")
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd, restoreCmd)
}
