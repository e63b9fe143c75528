package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Domenick1991/livesession/config"
	"github.com/Domenick1991/livesession/internal/auth"
	"github.com/Domenick1991/livesession/internal/bootstrap"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/Domenick1991/livesession/internal/service/payment"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Operator tooling for the live session service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultPath, "Path to the YAML config file")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.LoadConfig(o.configPath)
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			switch cfg.Store.Driver {
			case config.StoreDriverPostgres:
				if err := repository.MigratePostgres(ctx, cfg.Store.Database.DSN()); err != nil {
					return err
				}
			case config.StoreDriverSQLite:
				// Opening the database applies its schema.
				store, err := repository.OpenSQLite(cfg.Store.SQLitePath)
				if err != nil {
					return err
				}
				if err := store.Close(); err != nil {
					return err
				}
			default:
				return fmt.Errorf("store driver %q has no schema to migrate", cfg.Store.Driver)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Store.Driver)
			return nil
		},
	}
}

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	var capture bool

	cmd := &cobra.Command{
		Use:   "reconcile <reservation-id>",
		Short: "Re-read the processor state of a reservation and mirror it locally",
		Long: "Re-read the processor state of a reservation and mirror it locally. With --capture an " +
			"authorization that is still open is captured for a completed session or released for a cancelled one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger().Level(zerolog.WarnLevel)

			injector := bootstrap.NewInjector(cfg, logger)
			defer func() { _ = bootstrap.Shutdown(injector) }()

			protocol, err := do.Invoke[*payment.Protocol](injector)
			if err != nil {
				return err
			}
			outcome, err := protocol.Reconcile(commandContext(cmd), args[0], capture)
			if err != nil {
				return err
			}
			return printOutcome(cmd, outcome)
		},
	}

	cmd.Flags().BoolVar(&capture, "capture", false, "Capture or release a hold that is still open at the processor")
	return cmd
}

func printOutcome(cmd *cobra.Command, outcome *payment.Outcome) error {
	view := map[string]any{
		"captured": outcome.Captured,
		"released": outcome.Released,
		"failed":   outcome.Failed,
		"reason":   outcome.Reason,
	}
	if outcome.Session != nil {
		view["sessionId"] = outcome.Session.ID
		view["payoutStatus"] = outcome.Session.PayoutStatus
	}
	if outcome.Reservation != nil {
		view["authorizationStatus"] = outcome.Reservation.AuthorizationStatus
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		actorID string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			actor := domain.Actor{ID: actorID, Role: domain.Role(role)}
			if !actor.Role.Valid() {
				return errors.New("role must be one of student, instructor, admin")
			}

			token, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL).Issue(actor, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&actorID, "actor", "", "Actor id to put in the token subject")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleStudent), "Actor role: student, instructor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
