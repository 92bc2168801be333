package orders

import (
	"time"

	"github.com/imrishuroy/go-topup-payflow/internal/money"
)

// Kind tells a wallet top-up apart from a product purchase.
type Kind string

const (
	KindWalletTopup     Kind = "wallet_topup"
	KindProductPurchase Kind = "product_purchase"
)

// KindForCategory derives the order kind from the product category of the cart.
func KindForCategory(category, rechargeCategory string) Kind {
	if category != "" && category == rechargeCategory {
		return KindWalletTopup
	}
	return KindProductPurchase
}

// LineItem is one cart entry.
type LineItem struct {
	Game        string       `dynamodbav:"game" json:"game"`
	Package     string       `dynamodbav:"package" json:"package"`
	Category    string       `dynamodbav:"category,omitempty" json:"category,omitempty"`
	Credentials string       `dynamodbav:"credentials,omitempty" json:"credentials,omitempty"`
	Price       money.Amount `dynamodbav:"price" json:"price"`
	Quantity    int          `dynamodbav:"quantity" json:"quantity"`
}

type Contact struct {
	Email string `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Phone string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
}

// NotificationRef points at the operator chat message for an order.
type NotificationRef struct {
	ChatID      int64 `dynamodbav:"chat_id" json:"chat_id"`
	MessageID   int   `dynamodbav:"message_id" json:"message_id"`
	HasControls bool  `dynamodbav:"has_controls" json:"has_controls"`
}

// Provider detail keys written by invoice creation and webhook confirmation.
const (
	DetailProvider      = "provider"
	DetailTxnID         = "txn_id"
	DetailInvoiceURL    = "invoice_url"
	DetailInvoiceID     = "invoice_id"
	DetailWalletAddress = "wallet_hash"
	DetailPaidCurrency  = "psys_cid"
	DetailPaidAmount    = "amount"
	DetailSourceAmount  = "source_amount"
	DetailWebhookStatus = "webhook_status"
)

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID         string            `dynamodbav:"order_id"` // PK
	Status          Status            `dynamodbav:"status"`
	Kind            Kind              `dynamodbav:"order_kind"`
	UserID          string            `dynamodbav:"user_id,omitempty"`
	BaseAmount      money.Amount      `dynamodbav:"base_amount"`
	FinalAmount     money.Amount      `dynamodbav:"final_amount"`
	Currency        string            `dynamodbav:"currency"`
	ProviderDetails map[string]string `dynamodbav:"provider_details"`
	Cart            []LineItem        `dynamodbav:"cart_details"`
	Contact         Contact           `dynamodbav:"contact"`
	NotificationRef *NotificationRef  `dynamodbav:"notification_ref,omitempty"`
	StatusNote      string            `dynamodbav:"status_note,omitempty"`
	CreditedUSD     *money.Amount     `dynamodbav:"credited_usd,omitempty"`
	CreditedAt      *time.Time        `dynamodbav:"credited_at,omitempty"`
	ClaimedFrom     Status            `dynamodbav:"claimed_from,omitempty"`
	ClaimedAt       int64             `dynamodbav:"claimed_at,omitempty"` // unix millis
	CreatedAt       time.Time         `dynamodbav:"created_at"`
	UpdatedAt       time.Time         `dynamodbav:"updated_at"`
}

// Credited reports whether a wallet credit has been recorded on the order.
func (o *Order) Credited() bool {
	return o.CreditedUSD != nil
}

// Category returns the category of the first line item.
func (o *Order) Category() string {
	if len(o.Cart) == 0 {
		return ""
	}
	return o.Cart[0].Category
}
