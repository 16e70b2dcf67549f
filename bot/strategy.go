package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/dnldd/candlebot/exchange"
	"github.com/dnldd/candlebot/shared"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Context is the view of one tick handed to a strategy.
type Context struct {
	// Bot is the name of the running bot.
	Bot string
	// Tick is the synchronized tick.
	Tick shared.Tick
	// Candles are the tick candles by market id.
	Candles map[string]shared.Candle
	// Previous are the previous tick candles by market id, empty on the first tick.
	Previous map[string]shared.Candle
	// Markets are the bot markets.
	Markets []shared.Market
	// Exchange is the mock exchange of the run, nil when none is configured.
	Exchange *exchange.Engine
	// Market is the id of the market the exchange trades.
	Market string
	// Asset is the asset the exchange trades.
	Asset string
	// Logger represents the bot run logger.
	Logger *zerolog.Logger

	emit func(event shared.Event)
}

// Emit broadcasts a strategy defined event to the bot subscribers.
func (c *Context) Emit(kind shared.EventKind, payload any) {
	if c.emit == nil {
		return
	}

	c.emit(shared.Event{Bot: c.Bot, Kind: kind, Payload: payload})
}

// Strategy processes synchronized ticks.
type Strategy interface {
	// OnTick processes one tick.
	OnTick(ctx context.Context, sc *Context) error
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx context.Context, sc *Context) error

// OnTick calls the wrapped function.
func (f StrategyFunc) OnTick(ctx context.Context, sc *Context) error {
	return f(ctx, sc)
}

// StrategyFactory creates a strategy from the provided strategy args.
type StrategyFactory func(args map[string]any) (Strategy, error)

// Hold counts ticks without trading.
func Hold() Strategy {
	return StrategyFunc(func(ctx context.Context, sc *Context) error {
		return nil
	})
}

// Follow buys the traded market when every leading market closed higher than on the
// previous tick while the traded market did not, and sells everything it holds on the
// following tick.
type Follow struct {
	// Leaders are the ids of the leading markets, every other market when empty.
	Leaders []string
}

// leaders returns the ids of the leading markets for the provided context.
func (f *Follow) leaders(sc *Context) []string {
	if len(f.Leaders) > 0 {
		return f.Leaders
	}

	ids := make([]string, 0, len(sc.Markets))
	for _, market := range sc.Markets {
		if market.ID() != sc.Market {
			ids = append(ids, market.ID())
		}
	}

	return ids
}

// OnTick implements the follow strategy.
func (f *Follow) OnTick(ctx context.Context, sc *Context) error {
	if sc.Exchange == nil {
		return fmt.Errorf("%w: follow strategy needs an exchange", shared.ErrValidation)
	}

	held := sc.Exchange.Balance(sc.Asset)
	if held.Available > 0 {
		res, err := sc.Exchange.MarketSell(sc.Asset, held.Available)
		if err != nil {
			return fmt.Errorf("selling %s: %w", sc.Asset, err)
		}
		if res.Rejection != exchange.NotRejected {
			sc.Logger.Warn().Msgf("selling %v %s rejected: %s", held.Available, sc.Asset, res.Rejection)
		}
		return nil
	}

	if len(sc.Previous) == 0 {
		return nil
	}

	traded := sc.Candles[sc.Market]
	prevTraded := sc.Previous[sc.Market]
	if shared.FetchChange(&traded, &prevTraded) == shared.Bullish {
		return nil
	}

	for _, id := range f.leaders(sc) {
		current, ok := sc.Candles[id]
		if !ok {
			return fmt.Errorf("%w: unknown leading market %s", shared.ErrValidation, id)
		}
		prev := sc.Previous[id]
		if shared.FetchChange(&current, &prev) != shared.Bullish {
			return nil
		}
	}

	quote := sc.Exchange.Balance(sc.Exchange.Quote())
	if traded.Close <= 0 || quote.Available <= 0 {
		return nil
	}

	units, _ := decimal.NewFromFloat(quote.Available).
		Div(decimal.NewFromFloat(traded.Close)).
		Truncate(2).
		Float64()
	if units <= 0 {
		return nil
	}

	res, err := sc.Exchange.MarketBuy(sc.Asset, units)
	if err != nil {
		return fmt.Errorf("buying %s: %w", sc.Asset, err)
	}
	if res.Rejection != exchange.NotRejected {
		sc.Logger.Warn().Msgf("buying %v %s rejected: %s", units, sc.Asset, res.Rejection)
	}

	return nil
}

// DefaultStrategies returns the factory of the built in strategies, selected by the
// `name` strategy arg. The follow strategy is the default.
func DefaultStrategies() StrategyFactory {
	return func(args map[string]any) (Strategy, error) {
		name, _ := args["name"].(string)
		switch strings.ToLower(name) {
		case "", "follow":
			follow := &Follow{}
			if leaders, ok := args["leaders"].([]any); ok {
				for _, leader := range leaders {
					id, ok := leader.(string)
					if !ok {
						return nil, fmt.Errorf("%w: follow leaders must be market ids", shared.ErrValidation)
					}
					follow.Leaders = append(follow.Leaders, id)
				}
			}
			return follow, nil
		case "hold":
			return Hold(), nil
		default:
			return nil, fmt.Errorf("%w: unknown strategy %q", shared.ErrValidation, name)
		}
	}
}
