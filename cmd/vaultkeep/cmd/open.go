package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tmorland/vaultkeep/vault"
)

var openUser string

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Authenticate against the vault and report session details",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, session, err := openVault(cmd, openUser)
		if err != nil {
			return err
		}
		defer v.Close()
		defer session.Close()

		fmt.Printf("authenticated as %q (%s)\n", session.Username(), session.Role())
		if session.PasswordChangeRequired() {
			fmt.Println("password change required")
		}
		if session.TokenEnrollmentRequired() {
			fmt.Println("hardware token enrollment required")
		}

		report, err := session.MigrationStatus()
		if err != nil {
			return err
		}
		if report.Phase != vault.MigrationInactive {
			fmt.Printf("algorithm migration %s: %d of %d slots\n",
				report.Phase, report.Migrated, report.Total)
		}
		return nil
	},
}

func init() {
	openCmd.Flags().StringVarP(&openUser, "user", "u", "", "username to authenticate as")
	openCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(openCmd)
}
