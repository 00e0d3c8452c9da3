package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/app"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/auth"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/rbac"
)

var errReconcileRunning = errors.New("another reconcile run holds the lock")

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, err := ctx.migrator(cmd.Context())
			if err != nil {
				return err
			}
			applied, err := migrator.Up(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", version)
			}
			return nil
		},
	}
	cmd.AddCommand(newMigrateDownCommand(ctx))
	cmd.AddCommand(newMigrateStatusCommand(ctx))
	return cmd
}

func newMigrateDownCommand(ctx *commandContext) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			migrator, err := ctx.migrator(cmd.Context())
			if err != nil {
				return err
			}
			reverted, err := migrator.Down(cmd.Context(), steps)
			if err != nil {
				return err
			}
			for _, version := range reverted {
				fmt.Fprintf(cmd.OutOrStdout(), "Reverted %s\n", version)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to revert")
	return cmd
}

func newMigrateStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and when they were applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, err := ctx.migrator(cmd.Context())
			if err != nil {
				return err
			}
			status, err := migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, status)
		},
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	var lockFile string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Synchronize board entries with workflow states once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			locker, err := ctx.locker(lockFile)
			if err != nil {
				return err
			}
			service, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			stats, ran, err := app.NewScheduler(service, locker, 0, cfg.ReconcileLockTTL).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if !ran {
				return errReconcileRunning
			}
			return writeJSON(cmd, stats)
		},
	}
	cmd.Flags().StringVar(&lockFile, "lock-file", "", "Lock file used when Redis is not configured (defaults to BOARD_LOCK_FILE)")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		actorID    int64
		workflowID int64
		user       string
		offset     int
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List board entries of a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserFilter(user)
			if err != nil {
				return err
			}
			service, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			actor, err := loadPrincipal(cmd, ctx, actorID)
			if err != nil {
				return err
			}
			page, err := service.ListEntries(cmd.Context(), actor, workflowID, userID, offset, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd, page)
		},
	}
	cmd.Flags().Int64Var(&actorID, "as", 0, "Acting user id")
	cmd.Flags().Int64Var(&workflowID, "workflow", 0, "Workflow id")
	cmd.Flags().StringVar(&user, "user", "all", "User id to list, or \"all\"")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size (max 500)")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func newAssignCommand(ctx *commandContext) *cobra.Command {
	var (
		actorID int64
		input   app.ChangeAssignInput
	)
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Reassign a board entry to a user or role",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			actor, err := loadPrincipal(cmd, ctx, actorID)
			if err != nil {
				return err
			}
			entry, err := service.ChangeAssign(cmd.Context(), actor, input)
			if err != nil {
				return err
			}
			return writeJSON(cmd, entry)
		},
	}
	cmd.Flags().Int64Var(&actorID, "as", 0, "Acting user id")
	cmd.Flags().Int64Var(&input.WorkflowID, "workflow", 0, "Workflow id")
	cmd.Flags().StringVar(&input.ContentType, "type", "", "Content type: object, document or asset")
	cmd.Flags().Int64Var(&input.ContentID, "id", 0, "Content id")
	cmd.Flags().StringVar(&input.AssignType, "assign-type", string(board.AssignUser), "USER or ROLE")
	cmd.Flags().Int64Var(&input.AssignID, "assign-id", 0, "User or role id")
	for _, name := range []string{"as", "workflow", "type", "id", "assign-id"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var (
		actorID int64
		key     board.Key
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one board entry next to its current workflow state",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			actor, err := loadPrincipal(cmd, ctx, actorID)
			if err != nil {
				return err
			}
			detail, err := service.InspectEntry(cmd.Context(), actor, key)
			if err != nil {
				return err
			}
			return writeJSON(cmd, detail)
		},
	}
	cmd.Flags().Int64Var(&actorID, "as", 0, "Acting user id")
	cmd.Flags().Int64Var(&key.WorkflowID, "workflow", 0, "Workflow id")
	cmd.Flags().StringVar(&key.ContentType, "type", "", "Content type: object, document or asset")
	cmd.Flags().Int64Var(&key.ContentID, "id", 0, "Content id")
	for _, name := range []string{"as", "workflow", "type", "id"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newNotificationsCommand(ctx *commandContext) *cobra.Command {
	var (
		userID int64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show the latest inbox notifications of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataStore, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			items, err := dataStore.ListNotifications(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd, items)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "Recipient user id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		userID int64
		name   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if userID <= 0 {
				return fmt.Errorf("--user must be a positive user id")
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), userID, name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id carried by the token")
	cmd.Flags().StringVar(&name, "name", "", "Display name carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to BOARD_TOKEN_TTL)")
	return cmd
}

func loadPrincipal(cmd *cobra.Command, ctx *commandContext, userID int64) (rbac.Principal, error) {
	dataStore, err := ctx.openStore(cmd.Context())
	if err != nil {
		return rbac.Principal{}, err
	}
	user, err := dataStore.GetUser(cmd.Context(), userID)
	if err != nil {
		return rbac.Principal{}, fmt.Errorf("acting user: %w", err)
	}
	return user.Principal(), nil
}

func parseUserFilter(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "all") {
		return board.AllUsers, nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--user must be a user id or \"all\"")
	}
	return id, nil
}
