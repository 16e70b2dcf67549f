package exchange

import (
	"math"
	"testing"

	"github.com/dnldd/candlebot/shared"
	"github.com/peterldowns/testy/assert"
)

func trade(side shared.Side, asset string, units float64, price float64) shared.Transaction {
	return shared.Transaction{
		Asset: asset,
		Side:  side,
		Units: units,
		Price: price,
		Total: units * price,
	}
}

func TestRoundTrips(t *testing.T) {
	txs := []shared.Transaction{
		// Ensure asks without bought units are ignored.
		trade(shared.Ask, "BTC", 1, 500),
		trade(shared.Bid, "BTC", 2, 100),
		trade(shared.Ask, "BTC", 2, 110),
		// Ensure lots are closed first in first out.
		trade(shared.Bid, "BTC", 1, 100),
		trade(shared.Bid, "BTC", 1, 120),
		trade(shared.Bid, "ETH", 4, 50),
		trade(shared.Ask, "BTC", 2, 100),
		// Ensure partial closes are round trips of their own.
		trade(shared.Ask, "ETH", 1, 60),
		trade(shared.Ask, "ETH", 3, 40),
	}

	assert.Equal(t, RoundTrips(txs), []float64{20, -20, 10, -30})
}

func TestSummarize(t *testing.T) {
	// Ensure a run without round trips has an empty summary.
	assert.Equal(t, Summarize(nil), Summary{})
	assert.Equal(t, Summarize([]shared.Transaction{trade(shared.Bid, "BTC", 1, 100)}), Summary{})

	txs := []shared.Transaction{
		trade(shared.Bid, "BTC", 2, 100),
		trade(shared.Ask, "BTC", 2, 110),
		trade(shared.Bid, "BTC", 2, 100),
		trade(shared.Ask, "BTC", 2, 90),
		trade(shared.Bid, "ETH", 4, 50),
		trade(shared.Ask, "ETH", 1, 60),
		trade(shared.Ask, "ETH", 3, 40),
	}

	// Ensure the summary reports gains, losses and their averages.
	assert.Equal(t, Summarize(txs), Summary{
		Trades:        4,
		Gains:         2,
		Losses:        2,
		Profit:        -20,
		AverageProfit: -5,
		Gain:          30,
		Loss:          -50,
		AverageGain:   15,
		AverageLoss:   -25,
		WinRate:       50,
		Deviation:     math.Sqrt(425),
	})

	// Ensure flat round trips count as losses.
	flat := Summarize([]shared.Transaction{
		trade(shared.Bid, "BTC", 1, 100),
		trade(shared.Ask, "BTC", 1, 100),
	})
	assert.Equal(t, flat, Summary{Trades: 1, Losses: 1})
}
