package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/athalino-bakti/UTS/internal/auth"
	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/database"
	"github.com/athalino-bakti/UTS/internal/model"
	"github.com/athalino-bakti/UTS/internal/repository"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage login accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var email, role string

	cmd := &cobra.Command{
		Use:   "create [password]",
		Short: "Create a user (reads the password from stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			password, err := passwordArg(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			hash, err := auth.HashPassword(password, nil)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			db, err := database.NewPostgres(cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			now := time.Now().UTC()
			user := &model.User{
				ID:           uuid.New().String(),
				Email:        email,
				PasswordHash: hash,
				Role:         role,
				Status:       model.UserStatusActive,
				CreatedAt:    now,
				UpdatedAt:    now,
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := repository.NewUserRepository(db).Create(ctx, user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (%s, role %s)\n", user.ID, user.Email, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&role, "role", model.RoleMember, "role carried in issued tokens")

	return cmd
}
