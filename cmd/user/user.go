// Package user implements account management commands.
package user

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/datastore"
)

// Command creates the user command with its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage operator accounts",
	}
	cmd.AddCommand(createCommand(settings))
	return cmd
}

func createCommand(settings *conf.Settings) *cobra.Command {
	var username, password, role string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an operator account",
		Long:  "Create an account for the inspection UI. The password can also be passed via CONESCAN_USER_PASSWORD to keep it out of shell history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("CONESCAN_USER_PASSWORD")
			}
			if username == "" || password == "" {
				return fmt.Errorf("both --username and a password are required")
			}
			if role != "inspector" && role != "admin" {
				return fmt.Errorf("role must be inspector or admin, got %q", role)
			}
			return createUser(settings, username, password, role)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Account username")
	cmd.Flags().StringVar(&password, "password", "", "Account password (or set CONESCAN_USER_PASSWORD)")
	cmd.Flags().StringVar(&role, "role", "inspector", "Account role: inspector or admin")
	return cmd
}

func createUser(settings *conf.Settings, username, password, role string) error {
	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}
	defer func() { _ = store.Close() }()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := store.CreateUser(&datastore.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	}); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("Created %s account %q\n", role, username)
	return nil
}
