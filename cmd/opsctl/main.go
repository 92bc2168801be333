// Command opsctl is the operator CLI for orders, exchange rate and wallets.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/imrishuroy/go-topup-payflow/internal/app"
)

func main() {
	root := newRootCmd(func(ctx context.Context) (*env, error) {
		a, err := app.Load(ctx)
		if err != nil {
			return nil, err
		}
		return &env{orders: a.Orders, ledger: a.Ledger, rates: a.Rates, engine: a.Engine}, nil
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
