package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	passwdUser   string
	passwdTarget string
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change your password, or reset another user's as administrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptPassword(fmt.Sprintf("Current password for %s: ", passwdUser))
		if err != nil {
			return err
		}
		v, session, err := vaultOpen(cmd, passwdUser, password)
		if err != nil {
			return err
		}
		defer v.Close()
		defer session.Close()

		target := passwdTarget
		if target == "" {
			target = passwdUser
		}

		newPassword, err := promptNewPassword(fmt.Sprintf("New password for %s: ", target))
		if err != nil {
			return err
		}
		if err := session.ChangePassword(cmd.Context(), target, password, newPassword); err != nil {
			return err
		}
		if target == passwdUser {
			fmt.Println("password changed")
		} else {
			fmt.Printf("password for %q reset, change required at next login\n", target)
		}
		return nil
	},
}

func init() {
	passwdCmd.Flags().StringVarP(&passwdUser, "user", "u", "", "username to authenticate as")
	passwdCmd.Flags().StringVarP(&passwdTarget, "target", "t", "", "user whose password to reset (administrators only)")
	passwdCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(passwdCmd)
}
