package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tmorland/vaultkeep/crypto"
	"github.com/tmorland/vaultkeep/vault"
)

var (
	createAdmin        string
	createKEKAlg       string
	createUsernameAlg  string
	createMinLength    uint32
	createHistoryDepth uint32
	createRequireToken bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new vault container with a first administrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy := vault.DefaultSecurityPolicy()
		policy.MinPasswordLength = createMinLength
		policy.PasswordHistoryDepth = createHistoryDepth
		policy.RequireToken = createRequireToken

		var err error
		if policy.KEKAlgorithm, err = crypto.ParseAlgorithm(createKEKAlg); err != nil {
			return fmt.Errorf("--kek-algorithm: %w", err)
		}
		if policy.UsernameHashAlgorithm, err = crypto.ParseAlgorithm(createUsernameAlg); err != nil {
			return fmt.Errorf("--username-algorithm: %w", err)
		}

		password, err := promptNewPassword(fmt.Sprintf("Password for %s: ", createAdmin))
		if err != nil {
			return err
		}
		if score := vault.PasswordStrength(password, createAdmin); score < 2 {
			fmt.Fprintf(os.Stderr, "warning: password strength %d/4, consider something longer\n", score)
		}

		v, session, err := vault.CreateFile(cmd.Context(), vaultPath, createAdmin, password, policy)
		if err != nil {
			return err
		}
		session.Close()
		defer v.Close()

		fmt.Printf("vault created at %s (administrator %q)\n", vaultPath, createAdmin)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVarP(&createAdmin, "user", "u", "", "administrator username")
	createCmd.Flags().StringVar(&createKEKAlg, "kek-algorithm", "pbkdf2", "key derivation algorithm (pbkdf2, argon2id)")
	createCmd.Flags().StringVar(&createUsernameAlg, "username-algorithm", "sha3-256", "username hash algorithm")
	createCmd.Flags().Uint32Var(&createMinLength, "min-password-length", 10, "minimum password length")
	createCmd.Flags().Uint32Var(&createHistoryDepth, "history-depth", 5, "retained password history per user")
	createCmd.Flags().BoolVar(&createRequireToken, "require-token", false, "require hardware tokens for every login")
	createCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(createCmd)
}
