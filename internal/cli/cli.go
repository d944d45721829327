package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gatewise/tarmac/internal/app"
	"github.com/gatewise/tarmac/internal/audit"
	"github.com/gatewise/tarmac/internal/config"
	"github.com/gatewise/tarmac/internal/migration"
	"github.com/gatewise/tarmac/internal/seeder"
)

// NewRootCommand builds the root tarmac CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tarmac",
		Short: "Tarmac order lifecycle service",
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newAuditCmd())

	return root
}

// Execute runs the tarmac CLI.
func Execute() error {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			var policies *config.PolicyStore
			var logger *zap.Logger
			application := fx.New(app.Module, fx.Populate(&policies, &logger))
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}

			// SIGHUP re-reads the governance policy from the environment
			// without a restart.
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			go reloadOnSignal(hup, policies, logger)

			<-cmd.Context().Done()
			signal.Stop(hup)
			close(hup)
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return application.Stop(stopCtx)
		},
	}
}

// reloadOnSignal swaps in a freshly loaded policy on every received signal
// and returns when the channel closes. An invalid reload keeps the previous
// snapshot active.
func reloadOnSignal(signals <-chan os.Signal, policies *config.PolicyStore, logger *zap.Logger) {
	for range signals {
		policy, err := policies.Reload()
		if err != nil {
			logger.Error("governance policy reload failed", zap.Error(err))
			continue
		}
		logger.Info("governance policy reloaded",
			zap.Int64("max_auto_approve", policy.MaxAutoApprove),
			zap.Int64("ops_threshold", policy.OpsApprovalThreshold),
			zap.Int("daily_limit", policy.DailyLimitPerRequester),
		)
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migration steps to rollback")
	downCmd.Flags().Bool("all", false, "Rollback all applied migrations")

	cmd.AddCommand(upCmd, downCmd)
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed deterministic demo orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			var seed *seeder.Seeder
			opts := fx.Options(app.Core, seeder.Module, fx.Populate(&seed))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := seed.Orders(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "seed data applied")
				return nil
			})
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run worker engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := fx.New(app.Worker)
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return application.Stop(stopCtx)
		},
	})
	return cmd
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit chain",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Re-walk the audit chain and verify every hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			var recorder *audit.Recorder
			opts := fx.Options(app.Core, fx.Populate(&recorder))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				result, err := recorder.Verify(ctx)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "audit chain BROKEN at index %d (%d entries)\n",
						result.BrokenIndex, result.Entries)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "audit chain intact (%d entries)\n", result.Entries)
				return nil
			})
		},
	})
	return cmd
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
