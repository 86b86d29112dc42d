package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tmorland/vaultkeep/vault"
)

var (
	vaultPath string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "vaultkeep",
	Short: "VaultKeep manages multi-user encrypted vault containers",
	Long: `VaultKeep is the key management engine for file-based credential vaults:
per-user key slots, hashed usernames, hardware token binding and in-place
hash algorithm migration.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&vaultPath, "vault", "f", "vaultkeep.vkp", "path to the vault container")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// promptNewPassword reads and confirms a new password.
func promptNewPassword(prompt string) (string, error) {
	pw, err := promptPassword(prompt)
	if err != nil {
		return "", err
	}
	again, err := promptPassword("Repeat: ")
	if err != nil {
		return "", err
	}
	if pw != again {
		return "", fmt.Errorf("passwords do not match")
	}
	return pw, nil
}

// openVault authenticates username against the container at --vault and
// returns the handle plus session. Callers close the session, then the
// handle.
func openVault(cmd *cobra.Command, username string) (*vault.Vault, *vault.Session, error) {
	password, err := promptPassword(fmt.Sprintf("Password for %s: ", username))
	if err != nil {
		return nil, nil, err
	}
	return vaultOpen(cmd, username, password)
}

// vaultOpen authenticates with an already-collected password.
func vaultOpen(cmd *cobra.Command, username, password string) (*vault.Vault, *vault.Session, error) {
	v, session, err := vault.OpenFile(cmd.Context(), vaultPath, username, password, nil)
	if err != nil {
		return nil, nil, err
	}
	if session.PasswordChangeRequired() {
		fmt.Fprintln(os.Stderr, "note: your password is temporary, change it with 'vaultkeep passwd'")
	}
	return v, session, nil
}

func parseRole(s string) (vault.Role, error) {
	switch strings.ToLower(s) {
	case "standard", "user":
		return vault.RoleStandard, nil
	case "admin", "administrator":
		return vault.RoleAdministrator, nil
	default:
		return 0, fmt.Errorf("unknown role %q (want standard or admin)", s)
	}
}
