package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tmorland/vaultkeep/crypto"
	"github.com/tmorland/vaultkeep/vault"
)

var migrateAsAdmin string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage username hash algorithm migrations",
	Long: `A migration switches the vault's username hash algorithm in place. Each
user's key slot is rehashed on their next successful login; confirm once
every slot has migrated.`,
}

var migrateBeginCmd = &cobra.Command{
	Use:   "begin <algorithm>",
	Short: "Start migrating to a new username hash algorithm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alg, err := crypto.ParseAlgorithm(args[0])
		if err != nil {
			return err
		}

		v, session, err := openVault(cmd, migrateAsAdmin)
		if err != nil {
			return err
		}
		defer v.Close()
		defer session.Close()

		if err := session.BeginAlgorithmMigration(cmd.Context(), alg); err != nil {
			return err
		}
		fmt.Printf("migration to %s started, slots rehash as users log in\n", alg)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, session, err := openVault(cmd, migrateAsAdmin)
		if err != nil {
			return err
		}
		defer v.Close()
		defer session.Close()

		report, err := session.MigrationStatus()
		if err != nil {
			return err
		}
		switch report.Phase {
		case vault.MigrationInactive:
			fmt.Printf("no migration in progress (current algorithm %s)\n", report.To)
		case vault.MigrationInProgress:
			fmt.Printf("migrating %s -> %s: %d of %d slots done\n",
				report.From, report.To, report.Migrated, report.Total)
		case vault.MigrationComplete:
			fmt.Printf("migration %s -> %s complete, run 'vaultkeep migrate confirm'\n",
				report.From, report.To)
		}
		return nil
	},
}

var migrateConfirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Finalize a completed migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, session, err := openVault(cmd, migrateAsAdmin)
		if err != nil {
			return err
		}
		defer v.Close()
		defer session.Close()

		if err := session.ConfirmMigration(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("migration confirmed")
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVarP(&migrateAsAdmin, "as", "a", "", "username to authenticate as")
	migrateCmd.MarkPersistentFlagRequired("as")
	migrateCmd.AddCommand(migrateBeginCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateConfirmCmd)
	rootCmd.AddCommand(migrateCmd)
}
