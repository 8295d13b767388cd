// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/document"
	"github.com/tokengate/tokengate/internal/store"
)

// storeOpener is replaced in tests.
var storeOpener = store.Open

// NewUserCmd creates the user command and its subcommands.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Long: `Create a user with the given email. The password is read from the
first line of standard input.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateEmail(email); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runUserCreate(cmd, cfg, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address of the new user")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// validateEmail applies the same rule as HTTP sign-up.
func validateEmail(email string) error {
	if err := validator.New().Var(strings.TrimSpace(email), "required,email"); err != nil {
		return oops.Code("USER_EMAIL_INVALID").
			With("email", email).
			Errorf("invalid email address %q", email)
	}
	return nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", oops.Code("USER_PASSWORD_READ_FAILED").Wrap(err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", oops.Code("USER_PASSWORD_MISSING").Errorf("password must be given on standard input")
	}
	return password, nil
}

func runUserCreate(cmd *cobra.Command, cfg *config.Config, email, password string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	docs, err := storeOpener(ctx, cfg.Store.URL, store.Options{
		Indexes:     []store.UniqueIndex{emailIndex},
		AutoMigrate: cfg.Store.AutoMigrate,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer docs.Close()

	users, err := document.NewRepositoryWithLogger[auth.User](docs, auth.UsersCollection, logger)
	if err != nil {
		return err
	}
	directory, err := auth.NewDirectoryWithLogger(users, auth.NewBcryptHasher(), logger)
	if err != nil {
		return err
	}

	user, err := directory.Create(ctx, email, password)
	if err != nil {
		return err
	}
	cmd.Printf("Created user %s (%s)\n", user.ID, user.Email)
	return nil
}
