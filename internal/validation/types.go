package validation

import "github.com/imrishuroy/go-topup-payflow/internal/money"

// Item represents a single cart line item.
type Item struct {
	Game        string       `json:"game" validate:"required"`
	Package     string       `json:"package" validate:"required"`
	Category    string       `json:"category,omitempty"`
	Credentials string       `json:"credentials,omitempty" validate:"max=256"` // player id / account the package goes to
	Price       money.Amount `json:"price"`                                    // per unit, checked at struct level
	Quantity    int          `json:"quantity" validate:"required,min=1"`
}

// CreateInvoiceRequest is the payload for POST /invoices
type CreateInvoiceRequest struct {
	Provider string       `json:"provider,omitempty" validate:"omitempty,oneof=plisio"`
	UserID   string       `json:"user_id,omitempty"` // required for wallet top-ups
	Currency string       `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Amount   money.Amount `json:"amount"` // base amount the client claims, before fee
	Email    string       `json:"email" validate:"required,email"`
	Phone    string       `json:"phone,omitempty" validate:"omitempty,max=32"`
	Cart     []Item       `json:"cart" validate:"required,min=1,dive"`
}

// WalletCheckoutRequest is the payload for POST /wallet/checkout
type WalletCheckoutRequest struct {
	Amount money.Amount `json:"amount"`
	Email  string       `json:"email,omitempty" validate:"omitempty,email"`
	Phone  string       `json:"phone,omitempty" validate:"omitempty,max=32"`
	Cart   []Item       `json:"cart" validate:"required,min=1,dive"`
}
