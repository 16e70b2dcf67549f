package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Exchange represents a supported candle source exchange.
type Exchange string

const (
	ExchangeBithumb  Exchange = "bithumb"
	ExchangeBitfinex Exchange = "bitfinex"
	ExchangeBinance  Exchange = "binance"
)

// MarketSpec is the wire and config representation of a market reference.
type MarketSpec struct {
	// ID is the caller-chosen logical name of the market, unique within a bot.
	ID string `json:"id" yaml:"id"`
	// Name is the exchange name.
	Name string `json:"name" yaml:"name"`
	// Currency is the exchange specific market symbol.
	Currency string `json:"currency" yaml:"currency"`
}

// Market is a reference to one market of one exchange. The set of implementations
// is closed to this package.
type Market interface {
	// ID returns the logical market id.
	ID() string
	// Symbol returns the exchange specific market symbol.
	Symbol() string
	// Exchange returns the exchange the market belongs to.
	Exchange() Exchange
	// Synthesize returns the filler candle for the provided timestamp.
	Synthesize(prev Candle, ts int64) Candle

	sealed()
}

// Bithumb is a bithumb market. Its candles carry continuation ids.
type Bithumb struct {
	MarketID string
	Currency string
}

// Bitfinex is a bitfinex market.
type Bitfinex struct {
	MarketID string
	Currency string
}

// Binance is a binance market.
type Binance struct {
	MarketID string
	Currency string
}

// Ensure the market variants implement the Market interface.
var (
	_ Market = (*Bithumb)(nil)
	_ Market = (*Bitfinex)(nil)
	_ Market = (*Binance)(nil)
)

func (m *Bithumb) ID() string         { return m.MarketID }
func (m *Bithumb) Symbol() string     { return m.Currency }
func (m *Bithumb) Exchange() Exchange { return ExchangeBithumb }
func (m *Bithumb) sealed()            {}

// Synthesize returns a flat filler candle with empty continuation ids.
func (m *Bithumb) Synthesize(prev Candle, ts int64) Candle {
	candle := NewSyntheticCandle(prev, ts)
	candle.Continuation = &Continuation{}
	return candle
}

func (m *Bitfinex) ID() string         { return m.MarketID }
func (m *Bitfinex) Symbol() string     { return m.Currency }
func (m *Bitfinex) Exchange() Exchange { return ExchangeBitfinex }
func (m *Bitfinex) sealed()            {}

// Synthesize returns a flat filler candle.
func (m *Bitfinex) Synthesize(prev Candle, ts int64) Candle {
	return NewSyntheticCandle(prev, ts)
}

func (m *Binance) ID() string         { return m.MarketID }
func (m *Binance) Symbol() string     { return m.Currency }
func (m *Binance) Exchange() Exchange { return ExchangeBinance }
func (m *Binance) sealed()            {}

// Synthesize returns a flat filler candle.
func (m *Binance) Synthesize(prev Candle, ts int64) Candle {
	return NewSyntheticCandle(prev, ts)
}

// ParseMarket builds the market variant described by the provided spec.
func ParseMarket(spec MarketSpec) (Market, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: market id cannot be an empty string", ErrValidation)
	}
	if spec.Currency == "" {
		return nil, fmt.Errorf("%w: market %s currency cannot be an empty string", ErrValidation, spec.ID)
	}

	switch Exchange(strings.ToLower(spec.Name)) {
	case ExchangeBithumb:
		return &Bithumb{MarketID: spec.ID, Currency: spec.Currency}, nil
	case ExchangeBitfinex:
		return &Bitfinex{MarketID: spec.ID, Currency: spec.Currency}, nil
	case ExchangeBinance:
		return &Binance{MarketID: spec.ID, Currency: spec.Currency}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported exchange %q for market %s", ErrValidation, spec.Name, spec.ID)
	}
}

// ParseMarkets builds the markets described by the provided specs, asserting ids are unique.
func ParseMarkets(specs []MarketSpec) ([]Market, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no markets provided", ErrValidation)
	}

	var errs error
	seen := make(map[string]struct{}, len(specs))
	markets := make([]Market, 0, len(specs))
	for idx := range specs {
		market, err := ParseMarket(specs[idx])
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}

		if _, ok := seen[market.ID()]; ok {
			errs = errors.Join(errs, fmt.Errorf("%w: duplicate market id %s", ErrValidation, market.ID()))
			continue
		}

		seen[market.ID()] = struct{}{}
		markets = append(markets, market)
	}
	if errs != nil {
		return nil, errs
	}

	return markets, nil
}
