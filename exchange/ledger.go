package exchange

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dnldd/candlebot/shared"
	"github.com/shopspring/decimal"
)

// Direction represents the direction of a settlement.
type Direction int

const (
	Credit Direction = iota
	Debit
)

// Balance is a snapshot of one asset's balance. Available and InUse always sum to Total.
type Balance struct {
	Asset     string  `json:"currency"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	InUse     float64 `json:"in_use"`
}

// balance is the exact bookkeeping of one asset.
type balance struct {
	available decimal.Decimal
	inUse     decimal.Decimal
}

// total returns the total of the balance.
func (b *balance) total() decimal.Decimal {
	return b.available.Add(b.inUse)
}

// snapshot returns the float snapshot of the balance.
func (b *balance) snapshot(asset string) Balance {
	total, _ := b.total().Float64()
	available, _ := b.available.Float64()
	inUse, _ := b.inUse.Float64()

	return Balance{
		Asset:     asset,
		Total:     total,
		Available: available,
		InUse:     inUse,
	}
}

// Ledger keeps per asset balances. Totals are derived from available and in use amounts
// so they can never drift apart.
type Ledger struct {
	balances    map[string]*balance
	balancesMtx sync.RWMutex
}

// NewLedger initializes a ledger with the provided available amounts.
func NewLedger(initial map[string]float64) (*Ledger, error) {
	l := &Ledger{
		balances: make(map[string]*balance, len(initial)),
	}

	for asset, amount := range initial {
		if amount < 0 {
			return nil, fmt.Errorf("%w: initial %s balance cannot be negative", shared.ErrValidation, asset)
		}
		l.balances[normalize(asset)] = &balance{
			available: decimal.NewFromFloat(amount),
			inUse:     decimal.Zero,
		}
	}

	return l, nil
}

// normalize returns the canonical asset key.
func normalize(asset string) string {
	return strings.ToUpper(asset)
}

// fetchBalance returns the balance of the provided asset, creating an empty one if needed.
// The caller must hold the write lock.
func (l *Ledger) fetchBalance(asset string) *balance {
	key := normalize(asset)
	b, ok := l.balances[key]
	if !ok {
		b = &balance{available: decimal.Zero, inUse: decimal.Zero}
		l.balances[key] = b
	}

	return b
}

// checkAmount asserts the provided amount is usable for bookkeeping.
func checkAmount(asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s amount cannot be negative: %s", shared.ErrValidation, asset, amount)
	}

	return nil
}

// Reserve moves the provided amount from available to in use.
func (l *Ledger) Reserve(asset string, amount decimal.Decimal) error {
	if err := checkAmount(asset, amount); err != nil {
		return err
	}

	l.balancesMtx.Lock()
	defer l.balancesMtx.Unlock()

	b := l.fetchBalance(asset)
	if b.available.LessThan(amount) {
		return fmt.Errorf("%w: reserving %s %s, available %s", shared.ErrInsufficientFunds,
			amount, normalize(asset), b.available)
	}

	b.available = b.available.Sub(amount)
	b.inUse = b.inUse.Add(amount)

	return nil
}

// Release returns the provided reserved amount to available without touching the total.
func (l *Ledger) Release(asset string, amount decimal.Decimal) error {
	if err := checkAmount(asset, amount); err != nil {
		return err
	}

	l.balancesMtx.Lock()
	defer l.balancesMtx.Unlock()

	b := l.fetchBalance(asset)
	if b.inUse.LessThan(amount) {
		return fmt.Errorf("%w: releasing %s %s, in use %s", shared.ErrStateConflict,
			amount, normalize(asset), b.inUse)
	}

	b.inUse = b.inUse.Sub(amount)
	b.available = b.available.Add(amount)

	return nil
}

// Settle adjusts the total and available amounts together.
func (l *Ledger) Settle(asset string, amount decimal.Decimal, direction Direction) error {
	if err := checkAmount(asset, amount); err != nil {
		return err
	}

	l.balancesMtx.Lock()
	defer l.balancesMtx.Unlock()

	b := l.fetchBalance(asset)
	switch direction {
	case Credit:
		b.available = b.available.Add(amount)
	case Debit:
		if b.available.LessThan(amount) {
			return fmt.Errorf("%w: settling %s %s, available %s", shared.ErrInsufficientFunds,
				amount, normalize(asset), b.available)
		}
		b.available = b.available.Sub(amount)
	default:
		return fmt.Errorf("%w: unknown settlement direction %d", shared.ErrValidation, direction)
	}

	return nil
}

// Consume completes a reservation, removing the provided reserved amount from the total.
func (l *Ledger) Consume(asset string, amount decimal.Decimal) error {
	if err := checkAmount(asset, amount); err != nil {
		return err
	}

	l.balancesMtx.Lock()
	defer l.balancesMtx.Unlock()

	b := l.fetchBalance(asset)
	if b.inUse.LessThan(amount) {
		return fmt.Errorf("%w: consuming %s %s, in use %s", shared.ErrStateConflict,
			amount, normalize(asset), b.inUse)
	}

	b.inUse = b.inUse.Sub(amount)

	return nil
}

// Available returns the exact available amount of the provided asset.
func (l *Ledger) Available(asset string) decimal.Decimal {
	l.balancesMtx.RLock()
	defer l.balancesMtx.RUnlock()

	b, ok := l.balances[normalize(asset)]
	if !ok {
		return decimal.Zero
	}

	return b.available
}

// Balance returns the balance snapshot of the provided asset.
func (l *Ledger) Balance(asset string) Balance {
	l.balancesMtx.RLock()
	defer l.balancesMtx.RUnlock()

	b, ok := l.balances[normalize(asset)]
	if !ok {
		return Balance{Asset: normalize(asset)}
	}

	return b.snapshot(normalize(asset))
}

// Balances returns the balance snapshots of every known asset, ordered by asset.
func (l *Ledger) Balances() []Balance {
	l.balancesMtx.RLock()
	defer l.balancesMtx.RUnlock()

	assets := make([]string, 0, len(l.balances))
	for asset := range l.balances {
		assets = append(assets, asset)
	}
	slices.Sort(assets)

	balances := make([]Balance, 0, len(assets))
	for _, asset := range assets {
		balances = append(balances, l.balances[asset].snapshot(asset))
	}

	return balances
}
