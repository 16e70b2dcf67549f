package bot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dnldd/candlebot/shared"
	"github.com/peterldowns/testy/assert"
)

func TestLoadFile(t *testing.T) {
	file, err := LoadFile("../testdata/bot.yaml")
	assert.NoError(t, err)

	// Ensure the bot file decodes into a bot config.
	assert.Equal(t, file.Name, "backtest")
	assert.Equal(t, file.Config.Timeframe, shared.OneMinute)
	assert.Equal(t, file.Config.ProgressInterval, 4)
	assert.Equal(t, file.Config.Markets, []shared.MarketSpec{
		{ID: "btc", Name: "bithumb", Currency: "BTC"},
		{ID: "lead", Name: "bitfinex", Currency: "tBTCUSD"},
	})
	assert.Equal(t, file.Config.Exchange.Balances, map[string]float64{"KRW": 10000000})
	assert.Equal(t, file.Config.StrategyArgs["leaders"], any([]any{"lead"}))

	// Ensure missing and invalid files are rejected.
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bot.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("config:\n  timeFrame: 1\n"), 0o600))
	_, err = LoadFile(path)
	assert.True(t, errors.Is(err, shared.ErrValidation))

	assert.NoError(t, os.WriteFile(path, []byte("name: alpha\nconfig:\n  timeFrame: 7\n"), 0o600))
	_, err = LoadFile(path)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}
