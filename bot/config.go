package bot

import (
	"errors"
	"fmt"

	"github.com/dnldd/candlebot/shared"
	"github.com/tidwall/gjson"
)

const (
	// MasterName is the reserved name no bot can take.
	MasterName = "master"
	// defaultProgressInterval is the default number of ticks between progress events.
	defaultProgressInterval = 100
	// defaultQuote is the default quote asset of the mock exchange.
	defaultQuote = "KRW"
)

// ExchangeConfig configures the mock exchange of a bot run.
type ExchangeConfig struct {
	// Market is the id of the market the mock exchange trades.
	Market string `yaml:"market"`
	// Asset is the traded asset, it defaults to the market symbol.
	Asset string `yaml:"asset"`
	// Quote is the quote asset.
	Quote string `yaml:"quote"`
	// Balances are the initial balances per asset.
	Balances map[string]float64 `yaml:"balances"`
}

// Config is the configuration of a bot.
type Config struct {
	// Timeframe is the candle period in minutes.
	Timeframe shared.Timeframe `yaml:"timeFrame"`
	// StartTime is the optional first candle timestamp in unix milliseconds.
	StartTime int64 `yaml:"startTime"`
	// EndTime is the optional end timestamp in unix milliseconds.
	EndTime int64 `yaml:"endTime"`
	// ProgressInterval is the number of ticks between progress events.
	ProgressInterval int `yaml:"progressInterval"`
	// MaxFill is the maximum number of consecutive synthetic candles per market, zero
	// for no limit.
	MaxFill int `yaml:"maxFill"`
	// Markets are the synchronized markets.
	Markets []shared.MarketSpec `yaml:"markets"`
	// Exchange configures the optional mock exchange.
	Exchange *ExchangeConfig `yaml:"exchange"`
	// StrategyArgs are passed to the strategy factory.
	StrategyArgs map[string]any `yaml:"strategyArgs"`
}

// ApplyDefaults fills unset optional fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	if cfg.Exchange != nil {
		if cfg.Exchange.Quote == "" {
			cfg.Exchange.Quote = defaultQuote
		}
		if cfg.Exchange.Market == "" && len(cfg.Markets) > 0 {
			cfg.Exchange.Market = cfg.Markets[0].ID
		}
	}
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if err := cfg.Timeframe.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.StartTime < 0 {
		errs = errors.Join(errs, fmt.Errorf("start time cannot be negative"))
	}
	if cfg.EndTime < 0 {
		errs = errors.Join(errs, fmt.Errorf("end time cannot be negative"))
	}
	if cfg.StartTime > 0 && cfg.EndTime > 0 && cfg.EndTime <= cfg.StartTime {
		errs = errors.Join(errs, fmt.Errorf("end time must be after start time"))
	}
	if cfg.ProgressInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("progress interval must be positive"))
	}
	if cfg.MaxFill < 0 {
		errs = errors.Join(errs, fmt.Errorf("max fill cannot be negative"))
	}

	markets, err := shared.ParseMarkets(cfg.Markets)
	if err != nil {
		errs = errors.Join(errs, err)
	}

	if cfg.Exchange != nil && err == nil {
		found := false
		for _, market := range markets {
			if market.ID() == cfg.Exchange.Market {
				found = true
				break
			}
		}
		if !found {
			errs = errors.Join(errs, fmt.Errorf("exchange market %q is not a configured market",
				cfg.Exchange.Market))
		}
		for asset, amount := range cfg.Exchange.Balances {
			if amount < 0 {
				errs = errors.Join(errs, fmt.Errorf("exchange %s balance cannot be negative", asset))
			}
		}
	}

	if errs != nil {
		return fmt.Errorf("%w: %w", shared.ErrValidation, errs)
	}

	return nil
}

// ParseConfig decodes a bot config from its wire representation.
func ParseConfig(data gjson.Result) (Config, error) {
	if !data.IsObject() {
		return Config{}, fmt.Errorf("%w: bot config must be an object", shared.ErrValidation)
	}

	cfg := Config{
		Timeframe:        shared.Timeframe(data.Get("timeFrame").Int()),
		StartTime:        data.Get("startTime").Int(),
		EndTime:          data.Get("endTime").Int(),
		ProgressInterval: int(data.Get("progressInterval").Int()),
		MaxFill:          int(data.Get("maxFill").Int()),
	}

	for _, market := range data.Get("markets").Array() {
		cfg.Markets = append(cfg.Markets, shared.MarketSpec{
			ID:       market.Get("id").String(),
			Name:     market.Get("name").String(),
			Currency: market.Get("currency").String(),
		})
	}

	if exchange := data.Get("exchange"); exchange.IsObject() {
		cfg.Exchange = &ExchangeConfig{
			Market:   exchange.Get("market").String(),
			Asset:    exchange.Get("asset").String(),
			Quote:    exchange.Get("quote").String(),
			Balances: make(map[string]float64),
		}
		exchange.Get("balances").ForEach(func(key, value gjson.Result) bool {
			cfg.Exchange.Balances[key.String()] = value.Float()
			return true
		})
	}

	args := data.Get("strategyArgs")
	if !args.Exists() {
		args = data.Get("processArg")
	}
	if args.IsObject() {
		cfg.StrategyArgs, _ = args.Value().(map[string]any)
	}

	cfg.ApplyDefaults()

	return cfg, nil
}
