package validation

import (
	"testing"

	"github.com/imrishuroy/go-topup-payflow/internal/money"
)

const recharge = "balance_recharge"

func TestCreateInvoiceRequest_Valid(t *testing.T) {
	v := New(recharge)

	req := CreateInvoiceRequest{
		Email: "buyer@example.com",
		Cart: []Item{
			{Game: "Free Fire", Package: "100 diamonds", Quantity: 2, Price: money.MustParse("10.00")},
			{Game: "PUBG", Package: "60 UC", Quantity: 1, Price: money.MustParse("5.50")},
		},
		Amount: money.MustParse("25.50"), // 2*10 + 1*5.5
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCreateInvoiceRequest_InvalidAmountMismatch(t *testing.T) {
	v := New(recharge)

	req := CreateInvoiceRequest{
		Email:  "buyer@example.com",
		Cart:   []Item{{Game: "g", Package: "p", Quantity: 1, Price: money.MustParse("10.00")}},
		Amount: money.MustParse("9.99"),
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for amount mismatch, got nil")
	}
}

func TestCreateInvoiceRequest_MissingFields(t *testing.T) {
	v := New(recharge)

	if err := v.Struct(CreateInvoiceRequest{}); err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
}

func TestCreateInvoiceRequest_TopupNeedsUser(t *testing.T) {
	v := New(recharge)

	req := CreateInvoiceRequest{
		Email:  "buyer@example.com",
		Cart:   []Item{{Game: "Wallet", Package: "Recharge", Category: recharge, Quantity: 1, Price: money.MustParse("50")}},
		Amount: money.MustParse("50"),
	}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected user_id to be required for a wallet top-up")
	}

	req.UserID = "u-1"
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestCreateInvoiceRequest_NonPositivePrice(t *testing.T) {
	v := New(recharge)

	req := CreateInvoiceRequest{
		Email:  "buyer@example.com",
		Cart:   []Item{{Game: "g", Package: "p", Quantity: 1, Price: money.Zero}},
		Amount: money.MustParse("1"),
	}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected zero price to be rejected")
	}
}

func TestWalletCheckoutRequest_RejectsTopup(t *testing.T) {
	v := New(recharge)

	req := WalletCheckoutRequest{
		Cart:   []Item{{Game: "Wallet", Package: "Recharge", Category: recharge, Quantity: 1, Price: money.MustParse("5")}},
		Amount: money.MustParse("5"),
	}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected a top-up paid from the wallet to be rejected")
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+58 (412) 555-12-34": "+584125551234",
		" 0412.555.1234 ":     "04125551234",
		"":                    "",
		"12+34":               "1234",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}
