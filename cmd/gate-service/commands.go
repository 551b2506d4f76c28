package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"gate-service/internal/auth"
	"gate-service/internal/config"
	"gate-service/internal/db"
	"gate-service/internal/logger"
	"gate-service/internal/model"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gate-service",
		Short:         "Vehicle gate entry registration and exit validation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		serveCommand(),
		exitCommand(),
		entryCommand(),
		migrateCommand(),
		cleanupCommand(),
		tokenCommand(),
	)
	return root
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), modeServe)
		},
	}
}

func exitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exit",
		Short: "Run the exit validation controller and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), modeExit)
		},
	}
}

func entryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "entry",
		Short: "Run the entry registration controller and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), modeEntry)
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := logger.NewWithLevel(cfg.Environment, cfg.LogLevel)

			database, err := db.New(cfg, log)
			if err != nil {
				return fmt.Errorf("failed to connect database: %w", err)
			}
			sqlDB, err := database.DB()
			if err == nil {
				_ = sqlDB.Close()
			}
			return nil
		},
	}
}

func cleanupCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete exited entries older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if days == 0 {
				days = a.cfg.Validation.RetentionDays
			}
			deleted, err := a.entries.CleanupExited(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d exited entries\n", deleted)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (defaults to RETENTION_DAYS)")
	return cmd
}

func tokenCommand() *cobra.Command {
	var (
		role   string
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for an operator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			principal := model.Principal{Role: model.UserRole(role)}
			if !principal.Role.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			if userID == "" {
				principal.UserID = uuid.New()
			} else if principal.UserID, err = uuid.Parse(userID); err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}

			token, err := auth.NewParser(cfg.Auth.AccessSecret).Issue(principal, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.UserRoleGateOperator), "GATE_ADMIN, GATE_OPERATOR or VIEWER")
	cmd.Flags().StringVar(&userID, "user", "", "user id (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
