package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/agent/protocol/mcp"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/database"
	"github.com/rvndrmann/mannmediaagency-sub005/scheduler"
)

// =============================================================================
// ⏰ tick：执行一轮定时任务调度
// =============================================================================

func newTickCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass and print the report",
		Long:  `tick claims due scheduled tasks, dispatches them to the execution endpoint and prints the resulting report as JSON. Intended for cron-style invocation.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Driver == "" {
				return errors.New("tick requires a database driver")
			}
			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			db, err := database.Open(cfg.Database, logger)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			repo := scheduler.NewRepository(db, logger)
			dispatcher := scheduler.NewHTTPDispatcher(cfg.Scheduler.ExecutionEndpoint, cfg.Scheduler.ExecutionToken,
				cfg.Scheduler.DispatchTimeout, logger)
			s := scheduler.New(repo, dispatcher, scheduler.ConfigFrom(cfg.Scheduler), logger,
				scheduler.WithCredits(scheduler.NewGormCreditLedger(db)))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := s.Tick(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

// =============================================================================
// 💳 credits：管理用户额度
// =============================================================================

func newCreditsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and top up user credits",
		Example: `  mannmedia credits balance user-1
  mannmedia credits grant user-1 25`,
	}

	// withLedger opens the configured database and runs fn against its ledger.
	withLedger := func(fn func(cmd *cobra.Command, ledger *scheduler.GormCreditLedger, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Driver == "" {
				return errors.New("credits requires a database driver")
			}
			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			db, err := database.Open(cfg.Database, logger)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			return fn(cmd, scheduler.NewGormCreditLedger(db), args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "grant <user> <amount>",
			Short: "Add credits to a user, creating the account when absent",
			Args:  cobra.ExactArgs(2),
			RunE: withLedger(func(cmd *cobra.Command, ledger *scheduler.GormCreditLedger, args []string) error {
				return grantCredits(cmd.Context(), ledger, cmd.OutOrStdout(), args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "balance <user>",
			Short: "Print a user's remaining credits",
			Args:  cobra.ExactArgs(1),
			RunE: withLedger(func(cmd *cobra.Command, ledger *scheduler.GormCreditLedger, args []string) error {
				return printBalance(cmd.Context(), ledger, cmd.OutOrStdout(), args[0])
			}),
		},
	)
	return cmd
}

type creditBalance struct {
	UserID           string  `json:"userId"`
	CreditsRemaining float64 `json:"creditsRemaining"`
}

func grantCredits(ctx context.Context, ledger *scheduler.GormCreditLedger, out io.Writer, userID, amount string) error {
	n, err := strconv.ParseFloat(amount, 64)
	if err != nil || n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("amount must be a positive number, got %q", amount)
	}
	if err := ledger.Grant(ctx, userID, n); err != nil {
		return err
	}
	return printBalance(ctx, ledger, out, userID)
}

func printBalance(ctx context.Context, ledger scheduler.CreditLedger, out io.Writer, userID string) error {
	balance, err := ledger.Balance(ctx, userID)
	if err != nil {
		return err
	}
	return writeJSON(out, creditBalance{UserID: userID, CreditsRemaining: balance})
}

// =============================================================================
// 🔧 tool：通过 WebSocket 执行端点调用工具
// =============================================================================

func newToolCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Inspect and invoke remote tools",
	}
	cmd.AddCommand(newToolListCommand(), newToolExecCommand(configPath))
	return cmd
}

func newToolListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tools with typed parameters",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range mcp.KnownTools() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func newToolExecCommand(configPath *string) *cobra.Command {
	var (
		params    string
		projectID string
	)
	cmd := &cobra.Command{
		Use:   "exec <tool>",
		Short: "Execute one tool call and print the result",
		Example: `  mannmedia tool exec generate_scene_image --params '{"sceneId":"s1"}'
  mannmedia tool exec custom_tool --params '{"any":"value"}' --project p-42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			var payload any = json.RawMessage(params)
			if typed, err := mcp.DecodeToolParams(name, json.RawMessage(params)); err == nil {
				payload = typed
			} else if isKnownTool(name) {
				return err
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if projectID != "" {
				cfg.Connection.ProjectID = projectID
			}
			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := mcp.NewClient(mcp.ClientConfigFrom(cfg.Connection), logger)
			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connect to %s: %w", cfg.Connection.Endpoint, err)
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Warn("close connection", zap.Error(err))
				}
			}()

			invoker := mcp.NewInvoker(name, client, mcp.InvokerConfigFrom(cfg.Tools), logger)
			result := invoker.Execute(ctx, payload)
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("tool %s failed after %d attempt(s)", name, result.Attempts)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&params, "params", "p", "{}", "tool parameters as a JSON object")
	cmd.Flags().StringVar(&projectID, "project", "", "project context sent after connecting (overrides config)")
	return cmd
}

func isKnownTool(name string) bool {
	for _, t := range mcp.KnownTools() {
		if string(t) == name {
			return true
		}
	}
	return false
}
