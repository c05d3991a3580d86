package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/md-rashed-zaman/paywall/libs/config"
	"github.com/md-rashed-zaman/paywall/libs/db"
	"github.com/md-rashed-zaman/paywall/libs/grpcx"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/accessrpc"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/idempotency"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/linking"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/storage"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, err := config.RequiredString("DATABASE_URL")
			if err != nil {
				return err
			}
			if err := db.Migrate(cmd.Context(), dbURL, storage.Migrations, storage.MigrationsDir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newIdempotencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idempotency",
		Short: "Processed-event store maintenance",
	}
	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Forget processed events older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			n, err := idempotency.NewPostgres(pool).Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned=%d\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", idempotency.DefaultRetention, "retention window")
	cmd.AddCommand(prune)
	return cmd
}

func newLinkagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkages",
		Short: "Pending account linkage maintenance",
	}
	var (
		email string
		batch int
	)
	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Link placeholder subscriptions to verified identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			r := linking.NewResolver(storage.NewPostgres(pool), logger, batch)
			var n int
			if email != "" {
				n, err = r.ResolveEmail(cmd.Context(), email)
			} else {
				n, err = r.ResolvePending(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved=%d\n", n)
			return nil
		},
	}
	resolve.Flags().StringVar(&email, "email", "", "only resolve linkages for this e-mail")
	resolve.Flags().IntVar(&batch, "batch", 100, "maximum linkages per pass")
	cmd.AddCommand(resolve)
	return cmd
}

func newAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Query the access service",
	}
	var addr string
	get := &cobra.Command{
		Use:   "get <user-id>",
		Short: "Show a user's tier and access level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpcx.Dial(cmd.Context(), addr, grpcx.DialOptions{})
			if err != nil {
				return err
			}
			defer conn.Close()
			a, err := accessrpc.NewClient(conn).GetAccess(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user_id=%s tier=%s status=%s effective_tier=%s access_level=%s\n",
				a.UserID, a.Tier, a.Status, a.EffectiveTier, a.AccessLevel)
			if a.CurrentPeriodEnd != nil {
				fmt.Fprintf(out, "current_period_end=%s auto_renew=%t\n", a.CurrentPeriodEnd.Format(time.RFC3339), a.AutoRenew)
			}
			return nil
		},
	}
	get.Flags().StringVar(&addr, "addr", config.String("BILLING_GRPC_ADDR", "localhost:9091"), "billing gRPC address")
	cmd.AddCommand(get)
	return cmd
}

func openPool(ctx context.Context) (*db.Pool, error) {
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	return db.Open(ctx, dbURL)
}
