package validation

import (
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-topup-payflow/internal/money"
)

// New returns a configured validator with the struct-level checks registered.
// rechargeCategory is the cart category that marks a wallet top-up.
func New(rechargeCategory string) *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(func(sl validatorv10.StructLevel) {
		req := sl.Current().Interface().(CreateInvoiceRequest)
		checkCart(sl, req.Cart, req.Amount)
		if len(req.Cart) > 0 && req.Cart[0].Category == rechargeCategory && strings.TrimSpace(req.UserID) == "" {
			sl.ReportError(req.UserID, "user_id", "UserID", "required_for_topup", "")
		}
	}, CreateInvoiceRequest{})

	v.RegisterStructValidation(func(sl validatorv10.StructLevel) {
		req := sl.Current().Interface().(WalletCheckoutRequest)
		checkCart(sl, req.Cart, req.Amount)
		for _, it := range req.Cart {
			if it.Category == rechargeCategory {
				sl.ReportError(it.Category, "cart", "Cart", "no_topup_from_wallet", "")
				break
			}
		}
	}, WalletCheckoutRequest{})

	return v
}

// checkCart verifies every price is positive and the items add up to amount.
func checkCart(sl validatorv10.StructLevel, cart []Item, amount money.Amount) {
	if !amount.IsPositive() {
		sl.ReportError(amount, "amount", "Amount", "gt_zero", "")
		return
	}
	sum := money.Zero
	for _, it := range cart {
		if !it.Price.IsPositive() {
			sl.ReportError(it.Price, "price", "Price", "gt_zero", "")
			return
		}
		for i := 0; i < it.Quantity; i++ {
			sum = sum.Add(it.Price)
		}
	}
	if !sum.Round2().Equal(amount.Round2()) {
		sl.ReportError(amount, "amount", "Amount", "amount_match_items", fmt.Sprintf("items sum %s != amount %s", sum, amount))
	}
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(p string) string {
	p = strings.TrimSpace(p)
	var b strings.Builder
	for i, r := range p {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
