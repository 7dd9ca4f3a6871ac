package backtest

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/pkg/types"
)

// Portfolio manages simulated cash and positions for one run. Cash can
// never go negative: a buy that would overdraw is rejected whole, not
// partially filled.
type Portfolio struct {
	mu          sync.RWMutex
	cash        decimal.Decimal
	initialCash decimal.Decimal
	positions   map[string]*types.Position
	realizedPnL decimal.Decimal
	peakEquity  decimal.Decimal
}

// NewPortfolio creates a portfolio with the given starting cash.
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]*types.Position),
		peakEquity:  initialCash,
	}
}

// Cash returns available cash.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// RealizedPnL returns cumulative realized profit and loss.
func (p *Portfolio) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// Equity returns total equity: cash plus marked-to-market positions.
func (p *Portfolio) Equity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

// Drawdown returns the current decline from the equity peak as a
// fraction of the peak.
func (p *Portfolio) Drawdown() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.peakEquity.IsZero() {
		return decimal.Zero
	}
	return p.peakEquity.Sub(p.equityLocked()).Div(p.peakEquity)
}

// Position returns the open position for symbol, or nil.
func (p *Portfolio) Position(symbol string) *types.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos, ok := p.positions[symbol]; ok {
		cp := *pos
		return &cp
	}
	return nil
}

// UnrealizedPnL returns the mark-to-market gain across all positions.
func (p *Portfolio) UnrealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.UnrealizedPnL())
	}
	return total
}

// MarkToMarket updates the current price for symbol and refreshes the
// equity peak. Called every bar whether or not a trade happened.
func (p *Portfolio) MarkToMarket(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
	}
	p.updatePeakLocked()
}

// Buy opens or rejects a long position, all-or-nothing. The commission
// is charged on top of the notional; if cash cannot cover both, the
// order is rejected with ErrInsufficientFunds and nothing changes.
func (p *Portfolio) Buy(symbol string, quantity, price, commission decimal.Decimal, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := quantity.Mul(price).Add(commission)
	if cost.GreaterThan(p.cash) {
		return ErrInsufficientFunds
	}
	p.cash = p.cash.Sub(cost)

	if pos, ok := p.positions[symbol]; ok {
		totalQty := pos.Quantity.Add(quantity)
		totalCost := pos.Quantity.Mul(pos.AveragePrice).Add(quantity.Mul(price))
		pos.AveragePrice = totalCost.Div(totalQty)
		pos.Quantity = totalQty
		pos.CurrentPrice = price
		pos.EntryCommission = pos.EntryCommission.Add(commission)
	} else {
		p.positions[symbol] = &types.Position{
			Symbol:          symbol,
			Quantity:        quantity,
			AveragePrice:    price,
			CurrentPrice:    price,
			EntryCommission: commission,
			OpenedAt:        at,
		}
	}

	p.updatePeakLocked()
	return nil
}

// Sell closes the whole position for symbol at price and returns the
// closed quantity and the realized PnL. Both legs' commissions count
// against the realized PnL. Selling with no open position is rejected
// with ErrNoPosition.
func (p *Portfolio) Sell(symbol string, price, commission decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero, decimal.Zero, ErrNoPosition
	}

	quantity := pos.Quantity
	proceeds := quantity.Mul(price)
	pnl := proceeds.Sub(quantity.Mul(pos.AveragePrice)).Sub(commission).Sub(pos.EntryCommission)

	p.cash = p.cash.Add(proceeds).Sub(commission)
	p.realizedPnL = p.realizedPnL.Add(pnl)
	delete(p.positions, symbol)

	p.updatePeakLocked()
	return quantity, pnl, nil
}

func (p *Portfolio) equityLocked() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	return equity
}

func (p *Portfolio) updatePeakLocked() {
	if eq := p.equityLocked(); eq.GreaterThan(p.peakEquity) {
		p.peakEquity = eq
	}
}
