package core

import (
	"errors"
	"testing"
)

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Type:    Expense,
		Amount:  10,
		Date:    "2026-02-10",
		PayerID: "me",
		CardID:  "card",
		Shares:  []Share{{ProfileID: "me", ShareAmount: 5}, {ProfileID: "ana", ShareAmount: 5}},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name string
		tx   Transaction
		want error
	}{
		{"bad type", Transaction{Type: "transfer", Date: "2026-01-01", PayerID: "me"}, ErrInvalidType},
		{"negative amount", Transaction{Type: Income, Amount: -1, Date: "2026-01-01", PayerID: "me"}, ErrInvalidAmount},
		{"empty date", Transaction{Type: Income, Amount: 1, PayerID: "me"}, ErrEmptyDate},
		{"bad date", Transaction{Type: Income, Amount: 1, Date: "2026-02-31", PayerID: "me"}, ErrInvalidDate},
		{"no payer", Transaction{Type: Income, Amount: 1, Date: "2026-01-01"}, ErrEmptyPayer},
		{"card on bill", Transaction{Type: Bill, Amount: 1, Date: "2026-01-01", PayerID: "me", CardID: "c"}, ErrCardOnNonExpense},
		{"bad competence", Transaction{Type: Bill, Amount: 1, Date: "2026-01-01", PayerID: "me", CompetenceDate: "x"}, ErrInvalidDate},
		{"share without profile", Transaction{Type: Expense, Amount: 1, Date: "2026-01-01", PayerID: "me", Shares: []Share{{ShareAmount: 1}}}, ErrInvalidShare},
		{"duplicate participant", Transaction{Type: Expense, Amount: 2, Date: "2026-01-01", PayerID: "me", Shares: []Share{{ProfileID: "ana", ShareAmount: 1}, {ProfileID: "ana", ShareAmount: 1}}}, ErrInvalidShare},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.tx.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestShareOf(t *testing.T) {
	tx := Transaction{Shares: []Share{{ProfileID: "me", ShareAmount: 30}, {ProfileID: "ghost", ShareAmount: 70}}}
	if v, ok := tx.ShareOf("ghost"); !ok || v != 70 {
		t.Fatalf("got %v %v", v, ok)
	}
	if _, ok := tx.ShareOf("nobody"); ok {
		t.Fatalf("expected no share")
	}
	if !tx.IsSplit() || (Transaction{}).IsSplit() {
		t.Fatalf("IsSplit mismatch")
	}
}
