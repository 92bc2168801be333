package webhook

import (
	"strings"

	"github.com/imrishuroy/go-topup-payflow/internal/orders"
	"github.com/imrishuroy/go-topup-payflow/internal/signature"
)

// Event is a provider callback reduced to what reconciliation needs.
type Event struct {
	Provider       string
	OrderID        string
	Status         string // lower-cased
	TxnID          string
	Amount         string
	Currency       string
	SourceAmount   string
	SourceCurrency string
	WalletHash     string
	PaidCurrency   string
	Signature      string
	Fields         []signature.Field
}

// NewEvent reads the known fields out of an ordered payload.
func NewEvent(provider string, fields []signature.Field, sigField string) Event {
	get := func(keys ...string) string {
		for _, k := range keys {
			for _, f := range fields {
				if f.Key == k {
					if v := strings.TrimSpace(f.Text()); v != "" {
						return v
					}
				}
			}
		}
		return ""
	}
	return Event{
		Provider:       provider,
		OrderID:        get("order_number", "order_id"),
		Status:         strings.ToLower(get("status")),
		TxnID:          get("txn_id"),
		Amount:         get("amount"),
		Currency:       get("currency"),
		SourceAmount:   get("source_amount"),
		SourceCurrency: get("source_currency"),
		WalletHash:     get("wallet_hash"),
		PaidCurrency:   get("psys_cid"),
		Signature:      get(sigField),
		Fields:         fields,
	}
}

// Details is the provider metadata persisted on the order.
func (e Event) Details() map[string]string {
	d := map[string]string{
		orders.DetailProvider:      e.Provider,
		orders.DetailTxnID:         e.TxnID,
		orders.DetailWebhookStatus: e.Status,
		orders.DetailPaidAmount:    e.Amount,
		orders.DetailSourceAmount:  e.SourceAmount,
		orders.DetailWalletAddress: e.WalletHash,
		orders.DetailPaidCurrency:  e.PaidCurrency,
	}
	for k, v := range d {
		if v == "" {
			delete(d, k)
		}
	}
	return d
}
