// Command ordersctl is an operator tool for the order ledger and payment
// intents.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xenking/giftbox-api/internal/domain/intent"
	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("ordersctl failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type rootOptions struct {
	databaseURL string
}

func (o *rootOptions) connect(ctx context.Context) (*pgxpool.Pool, error) {
	url := o.databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
	}
	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	return pool, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ordersctl",
		Short:         "Inspect and repair orders and payment intents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")

	root.AddCommand(
		nextOrderIDCommand(opts),
		sweepIntentsCommand(opts),
		unreconciledCommand(opts),
		orderStatusCommand(opts),
	)
	return root
}

func nextOrderIDCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next-order-id",
		Short: "Print the order id the next confirmation will receive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := postgres.NewCounterRepository(pool).Current(cmd.Context(), order.CounterName)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), order.FormatID(n+1))
			return err
		},
	}
}

func sweepIntentsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-intents",
		Short: "Expire stale payment intents once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			res, err := intent.NewSweeper(postgres.NewIntentRepository(pool)).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d, expired %d\n", res.Deleted, res.Expired)
			return err
		},
	}
}

func unreconciledCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unreconciled",
		Short: "List paid intents that never became orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			intents, err := postgres.NewIntentRepository(pool).ListUnreconciled(cmd.Context())
			if err != nil {
				return err
			}
			return printIntents(cmd.OutOrStdout(), intents)
		},
	}
}

func printIntents(w io.Writer, intents []intent.Intent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GATEWAY ORDER\tPAYMENT\tUSER\tAMOUNT\tSTATUS\tCREATED")
	for _, in := range intents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			in.GatewayOrderID, in.PaymentID, in.UserID, in.FinalAmount.StringFixed(2),
			in.Status, in.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func orderStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "order-status ORDER_ID STATUS",
		Short: "Set the fulfilment status of an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := order.NewService(postgres.NewOrderRepository(pool), order.NopPublisher{})
			o, err := svc.AdminUpdateStatus(cmd.Context(), args[0], order.Status(args[1]))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", o.OrderID, o.Status)
			return err
		},
	}
}
