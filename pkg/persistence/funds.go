package persistence

import "github.com/falconandrea/FileSolvers/pkg/domain"

// CheckFunds rejects a transfer the sender cannot cover.
func CheckFunds(t domain.Transfer, balance domain.Amount) error {
	if t.Amount.Sign() < 0 {
		return domain.Errorf(domain.KindAmountLessThanZero, "negative transfer")
	}
	if balance.Cmp(t.Amount) < 0 {
		return domain.Errorf(domain.KindInsufficientFunds, "%s holds %s, needs %s", t.From, balance, t.Amount)
	}
	return nil
}
