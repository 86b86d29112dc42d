package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	userAsAdmin string
	userRole    string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage vault users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Provision a user with a temporary password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := parseRole(userRole)
		if err != nil {
			return err
		}

		v, session, err := openVault(cmd, userAsAdmin)
		if err != nil {
			return err
		}
		defer v.Close()
		defer session.Close()

		tempPassword, err := promptNewPassword(fmt.Sprintf("Temporary password for %s: ", args[0]))
		if err != nil {
			return err
		}
		if err := session.AddUser(cmd.Context(), args[0], tempPassword, role); err != nil {
			return err
		}
		fmt.Printf("user %q added (%s), password change required at first login\n", args[0], role)
		return nil
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove <username>",
	Short: "Deactivate a user's key slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, session, err := openVault(cmd, userAsAdmin)
		if err != nil {
			return err
		}
		defer v.Close()
		defer session.Close()

		if err := session.RemoveUser(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("user %q removed\n", args[0])
		return nil
	},
}

func init() {
	userCmd.PersistentFlags().StringVarP(&userAsAdmin, "as", "a", "", "administrator username to authenticate as")
	userCmd.MarkPersistentFlagRequired("as")
	userAddCmd.Flags().StringVarP(&userRole, "role", "r", "standard", "role for the new user (standard, admin)")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userRemoveCmd)
	rootCmd.AddCommand(userCmd)
}
