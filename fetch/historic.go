package fetch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dnldd/candlebot/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// HistoricSourceConfig represents the historic candle source configuration.
type HistoricSourceConfig struct {
	// FilePath is the filepath to the historic market data.
	FilePath string
	// Market is the market the historic data belongs to.
	Market shared.Market
	// Timeframe is the expected candle timeframe of the data.
	Timeframe shared.Timeframe
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *HistoricSourceConfig) Validate() error {
	var errs error

	if cfg.FilePath == "" {
		errs = errors.Join(errs, fmt.Errorf("historic data filepath cannot be an empty string"))
	}
	if cfg.Market == nil {
		errs = errors.Join(errs, fmt.Errorf("historic data market cannot be nil"))
	}
	if err := cfg.Timeframe.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// HistoricSource serves candles loaded from a historic data file. The file holds the
// exchange's own candle payloads:
//
//	{"exchange": "bitfinex", "symbol": "tBTCUSD", "timeframe": 5, "candles": [...]}
type HistoricSource struct {
	*SliceSource
	cfg *HistoricSourceConfig
}

// loadHistoricData loads the historic data from the provided file path.
func loadHistoricData(path string) (*gjson.Result, error) {
	readb, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading historic data from file with path '%s': %w", path, err)
	}
	if !gjson.ValidBytes(readb) {
		return nil, fmt.Errorf("%w: historic data file '%s' is not valid json", shared.ErrValidation, path)
	}

	b := gjson.ParseBytes(readb)

	return &b, nil
}

// NewHistoricSource initializes a new historic candle source.
func NewHistoricSource(cfg *HistoricSourceConfig) (*HistoricSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	b, err := loadHistoricData(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("loading historic data: %w", err)
	}

	exchange := shared.Exchange(strings.ToLower(b.Get("exchange").String()))
	if exchange != cfg.Market.Exchange() {
		return nil, fmt.Errorf("%w: historic data exchange %q does not match market exchange %q",
			shared.ErrValidation, exchange, cfg.Market.Exchange())
	}

	if symbol := b.Get("symbol").String(); symbol != "" && symbol != cfg.Market.Symbol() {
		return nil, fmt.Errorf("%w: historic data symbol %q does not match market symbol %q",
			shared.ErrValidation, symbol, cfg.Market.Symbol())
	}

	if tf := b.Get("timeframe"); tf.Exists() && shared.Timeframe(tf.Int()) != cfg.Timeframe {
		return nil, fmt.Errorf("%w: historic data timeframe %d does not match %d",
			shared.ErrValidation, tf.Int(), int(cfg.Timeframe))
	}

	candles, err := DecodeCandles(exchange, b.Get("candles"))
	if err != nil {
		return nil, fmt.Errorf("decoding historic candles: %w", err)
	}

	src := &HistoricSource{
		SliceSource: NewSliceSource(candles),
		cfg:         cfg,
	}

	first, last := src.Bounds()
	cfg.Logger.Info().Msgf("loaded %d %s candles for %s (%s), from %d to %d", src.Len(),
		cfg.Timeframe.String(), cfg.Market.Symbol(), exchange, first, last)

	return src, nil
}

// HistoricFileName returns the historic data file name of the provided market and timeframe.
func HistoricFileName(market shared.Market, timeframe shared.Timeframe) string {
	return fmt.Sprintf("%s-%s-%s.json", market.Exchange(), market.Symbol(), timeframe.String())
}

// NewHistoricSourceFactory returns a source factory loading historic data files from
// the provided directory.
func NewHistoricSourceFactory(dir string, logger *zerolog.Logger) SourceFactory {
	return func(market shared.Market, timeframe shared.Timeframe) (CandleSource, error) {
		src, err := NewHistoricSource(&HistoricSourceConfig{
			FilePath:  filepath.Join(dir, HistoricFileName(market, timeframe)),
			Market:    market,
			Timeframe: timeframe,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}

		return src, nil
	}
}
