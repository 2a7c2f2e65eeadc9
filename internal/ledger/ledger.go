package ledger

import (
	"github.com/shopspring/decimal"

	"lv-margincore/internal/model"
)

// Apply settles a realized amount against the account. Profit goes to
// balance only. A loss is drawn from balance first; only the remainder is
// drawn from credit. Neither balance nor credit ever goes negative.
func Apply(acc *model.TradingAccount, amount decimal.Decimal) {
	if amount.GreaterThanOrEqual(decimal.Zero) {
		acc.Balance = acc.Balance.Add(amount)
		return
	}
	loss := amount.Neg()
	if loss.LessThanOrEqual(acc.Balance) {
		acc.Balance = acc.Balance.Sub(loss)
		return
	}
	remainder := loss.Sub(acc.Balance)
	acc.Balance = decimal.Zero
	acc.Credit = acc.Credit.Sub(remainder)
	if acc.Credit.LessThan(decimal.Zero) {
		acc.Credit = decimal.Zero
	}
}

// Deduct removes a fee from balance only, clamped at zero. Returns the
// amount actually taken.
func Deduct(acc *model.TradingAccount, fee decimal.Decimal) decimal.Decimal {
	if fee.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	taken := fee
	if taken.GreaterThan(acc.Balance) {
		taken = acc.Balance
	}
	acc.Balance = acc.Balance.Sub(taken)
	return taken
}
