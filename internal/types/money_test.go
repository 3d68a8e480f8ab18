package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyArithmetic(t *testing.T) {
	price := NewMoney(decimal.RequireFromString("19.99"), "")
	if price.Currency != DefaultCurrency {
		t.Fatalf("expected default currency %s, got %s", DefaultCurrency, price.Currency)
	}

	total := Zero(DefaultCurrency).Add(price.Times(3)).Add(NewMoney(decimal.RequireFromString("0.03"), DefaultCurrency))
	if got := total.Amount.StringFixed(2); got != "60.00" {
		t.Fatalf("expected 60.00, got %s", got)
	}
	if got := total.String(); got != "60.00 INR" {
		t.Fatalf("unexpected string form %q", got)
	}
}

func TestAddressIsZero(t *testing.T) {
	if !(Address{}).IsZero() {
		t.Fatal("empty address should be zero")
	}
	if (Address{Line1: "12 MG Road"}).IsZero() {
		t.Fatal("address with line1 should not be zero")
	}
}
