package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/luxmed-hunter/internal/hunt"
	"github.com/example/luxmed-hunter/internal/luxmed"
	"github.com/example/luxmed-hunter/internal/store"
)

func newCredsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage portal account credentials",
	}
	cmd.AddCommand(newCredsCreateCmd())
	cmd.AddCommand(newCredsDeleteCmd())
	return cmd
}

func newCredsCreateCmd() *cobra.Command {
	var password string

	c := &cobra.Command{
		Use:   "create <account-email>",
		Short: "Store portal credentials (verified with a live login first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, log, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			email := args[0]
			if _, err := st.CredentialsByEmail(ctx, email); err == nil {
				return fmt.Errorf("credentials for %s already exist", email)
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			// fail fast on a typo'd password instead of at the next hunt
			client := luxmed.New(email, password, log)
			if err := client.Login(ctx); err != nil {
				return fmt.Errorf("failed to create credentials: %w", err)
			}

			if err := st.CreateCredentials(ctx, hunt.Credentials{Email: email, Password: password}); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Credentials for %s saved successfully.\n", email)
			return nil
		},
	}

	c.Flags().StringVar(&password, "password", "", "portal password")
	_ = c.MarkFlagRequired("password")
	return c
}

func newCredsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <account-email>",
		Short: "Delete stored portal credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, _, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteCredentials(ctx, args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("credentials for %s do not exist", args[0])
				}
				return err
			}
			fmt.Fprintf(os.Stdout, "Credentials for %s deleted successfully.\n", args[0])
			return nil
		},
	}
}
