package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/user"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-topup-payflow/internal/money"
	"github.com/imrishuroy/go-topup-payflow/internal/orders"
	"github.com/imrishuroy/go-topup-payflow/internal/rates"
	"github.com/imrishuroy/go-topup-payflow/internal/reconcile"
	"github.com/imrishuroy/go-topup-payflow/internal/wallet"
)

var Version = "dev"

type env struct {
	orders interface {
		Get(ctx context.Context, orderID string) (*orders.Order, error)
	}
	ledger interface {
		Balance(ctx context.Context, userID string) (money.Amount, error)
		Audit(ctx context.Context, orderID string) (*wallet.Entry, error)
	}
	rates interface {
		Get(ctx context.Context) (decimal.Decimal, error)
		Set(ctx context.Context, rate decimal.Decimal) error
	}
	engine interface {
		MarkDone(ctx context.Context, orderID, operator string) (reconcile.OperatorResult, error)
	}
}

type loader func(ctx context.Context) (*env, error)

func newRootCmd(load loader) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operator tools for the top-up store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(orderCmd(load))
	rootCmd.AddCommand(rateCmd(load))
	rootCmd.AddCommand(walletCmd(load))
	return rootCmd
}

func orderCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{Use: "order", Short: "Inspect and complete orders"}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [order-id]",
		Short: "Print an order and its ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := load(ctx)
			if err != nil {
				return err
			}
			o, err := e.orders.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if o == nil {
				return fmt.Errorf("order %s not found", args[0])
			}
			entry, err := e.ledger.Audit(ctx, o.OrderID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Order  *orders.Order `json:"order"`
				Ledger *wallet.Entry `json:"ledger_entry,omitempty"`
			}{o, entry})
		},
	})

	markDone := &cobra.Command{
		Use:   "mark-done [order-id]",
		Short: "Complete an order as the chat button would, crediting top-ups not yet credited",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := load(ctx)
			if err != nil {
				return err
			}
			operator, _ := cmd.Flags().GetString("operator")
			res, err := e.engine.MarkDone(ctx, args[0], operator)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.AlreadyDone {
				fmt.Fprintf(out, "order %s was already done\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "order %s marked done\n", args[0])
			if c := res.Credit; c != nil && c.Succeeded() {
				fmt.Fprintf(out, "credited %s USD", c.AmountUSD)
				if c.Balance != nil {
					fmt.Fprintf(out, ", balance %s USD", c.Balance)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	markDone.Flags().String("operator", defaultOperator(), "Name recorded as the operator")
	cmd.AddCommand(markDone)

	return cmd
}

func rateCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{Use: "rate", Short: "Read or set the local-currency exchange rate"}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the stored exchange rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := load(ctx)
			if err != nil {
				return err
			}
			r, err := e.rates.Get(ctx)
			if errors.Is(err, rates.ErrNotSet) {
				fmt.Fprintf(cmd.OutOrStdout(), "not set (default %s)\n", rates.Default)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.String())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [rate]",
		Short: "Store the exchange rate in local units per USD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid rate %q: %w", args[0], err)
			}
			ctx := cmd.Context()
			e, err := load(ctx)
			if err != nil {
				return err
			}
			if err := e.rates.Set(ctx, r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exchange rate set to %s\n", r)
			return nil
		},
	})

	return cmd
}

func walletCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{Use: "wallet", Short: "Inspect wallet balances"}

	cmd.AddCommand(&cobra.Command{
		Use:   "balance [user-id]",
		Short: "Print a user's balance in USD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := load(ctx)
			if err != nil {
				return err
			}
			b, err := e.ledger.Balance(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s USD\n", b)
			return nil
		},
	})

	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultOperator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}
