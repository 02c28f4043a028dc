package trade

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/ledger"
	"github.com/starfall/economy-engine/internal/model"
)

// costScale is the number of decimal places kept when a division is
// needed for the average cost or a proportional basis reduction.
const costScale = 8

// applyBuy debits price*qty stars and folds the purchase into the position
// using weighted-average cost. The account is unchanged on error.
func applyBuy(a *model.Account, ticker string, qty int64, price decimal.Decimal) (decimal.Decimal, model.Position, error) {
	q := decimal.NewFromInt(qty)
	totalCost := price.Mul(q)

	pos, held := a.Portfolio[ticker]
	if held && qty > math.MaxInt64-pos.Quantity {
		return totalCost, model.Position{}, fmt.Errorf("%w: holding %d %s, cannot add %d",
			ErrInvalidQuantity, pos.Quantity, ticker, qty)
	}
	if a.StarsAvailable.LessThan(totalCost) {
		return totalCost, model.Position{}, fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientFunds, totalCost.StringFixed(2), a.StarsAvailable.StringFixed(2))
	}
	if err := ledger.Debit(a, ledger.Stars, totalCost); err != nil {
		return totalCost, model.Position{}, err
	}

	if held {
		oldQ := decimal.NewFromInt(pos.Quantity)
		newQty := pos.Quantity + qty
		pos.AvgCostPerUnit = oldQ.Mul(pos.AvgCostPerUnit).Add(totalCost).
			DivRound(decimal.NewFromInt(newQty), costScale)
		pos.TotalCostBasis = pos.TotalCostBasis.Add(totalCost)
		pos.Quantity = newQty
	} else {
		pos = model.Position{
			Ticker:         ticker,
			Quantity:       qty,
			AvgCostPerUnit: price,
			TotalCostBasis: totalCost,
		}
	}
	if a.Portfolio == nil {
		a.Portfolio = make(map[string]model.Position)
	}
	a.Portfolio[ticker] = pos
	return totalCost, pos, nil
}

// applySell credits price*qty stars and reduces the position. A full sale
// removes the position and discards its residual basis; a partial sale
// scales the basis by remaining/previous and keeps the average cost.
// The returned position is nil after a full sale.
func applySell(a *model.Account, ticker string, qty int64, price decimal.Decimal) (decimal.Decimal, *model.Position, error) {
	pos, held := a.Portfolio[ticker]
	if !held {
		return decimal.Zero, nil, fmt.Errorf("%w: %s", ErrInstrumentNotHeld, ticker)
	}
	if qty > pos.Quantity {
		return decimal.Zero, nil, fmt.Errorf("%w: selling %d %s, holding %d",
			ErrInsufficientHoldings, qty, ticker, pos.Quantity)
	}

	proceeds := price.Mul(decimal.NewFromInt(qty))
	if proceeds.IsPositive() {
		if err := ledger.Credit(a, ledger.Stars, proceeds); err != nil {
			return proceeds, nil, err
		}
	}

	remaining := pos.Quantity - qty
	if remaining == 0 {
		delete(a.Portfolio, ticker)
		return proceeds, nil, nil
	}

	pos.TotalCostBasis = pos.TotalCostBasis.Mul(decimal.NewFromInt(remaining)).
		DivRound(decimal.NewFromInt(pos.Quantity), costScale)
	pos.Quantity = remaining
	a.Portfolio[ticker] = pos
	return proceeds, &pos, nil
}
