package exchange

import (
	"github.com/dnldd/candlebot/shared"
	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

// Summary is the performance report of a run's round trips. A round trip is an ask
// closing units previously bought, matched first in first out per asset.
type Summary struct {
	Trades        int     `json:"count" csv:"count"`
	Gains         int     `json:"gainCount" csv:"gain_count"`
	Losses        int     `json:"lossCount" csv:"loss_count"`
	Profit        float64 `json:"profit" csv:"profit"`
	AverageProfit float64 `json:"profitAver" csv:"profit_average"`
	Gain          float64 `json:"gain" csv:"gain"`
	Loss          float64 `json:"loss" csv:"loss"`
	AverageGain   float64 `json:"gainAver" csv:"gain_average"`
	AverageLoss   float64 `json:"lossAver" csv:"loss_average"`
	WinRate       float64 `json:"winRate" csv:"win_rate"`
	Deviation     float64 `json:"deviation" csv:"deviation"`
}

// lot is a bought quantity not sold yet.
type lot struct {
	units decimal.Decimal
	price decimal.Decimal
}

// RoundTrips returns the profit of every round trip of the provided transactions, in
// the order they closed. Asks without bought units to close are ignored.
func RoundTrips(txs []shared.Transaction) []float64 {
	lots := make(map[string][]lot)
	var profits []float64

	for _, tx := range txs {
		units := decimal.NewFromFloat(tx.Units)
		price := decimal.NewFromFloat(tx.Price)

		switch tx.Side {
		case shared.Bid:
			lots[tx.Asset] = append(lots[tx.Asset], lot{units: units, price: price})

		case shared.Ask:
			open := lots[tx.Asset]
			if len(open) == 0 {
				continue
			}

			profit := decimal.Zero
			for len(open) > 0 && units.IsPositive() {
				matched := decimal.Min(units, open[0].units)
				profit = profit.Add(price.Sub(open[0].price).Mul(matched))
				units = units.Sub(matched)

				open[0].units = open[0].units.Sub(matched)
				if !open[0].units.IsPositive() {
					open = open[1:]
				}
			}
			lots[tx.Asset] = open

			profits = append(profits, profit.InexactFloat64())
		}
	}

	return profits
}

// sum adds the provided values, zero when there are none.
func sum(data stats.Float64Data) float64 {
	total, err := stats.Sum(data)
	if err != nil {
		return 0
	}

	return total
}

// mean averages the provided values, zero when there are none.
func mean(data stats.Float64Data) float64 {
	avg, err := stats.Mean(data)
	if err != nil {
		return 0
	}

	return avg
}

// Summarize reports the performance of the provided transactions. Round trips without
// a profit count as losses.
func Summarize(txs []shared.Transaction) Summary {
	profits := stats.Float64Data(RoundTrips(txs))
	if len(profits) == 0 {
		return Summary{}
	}

	var gains, losses stats.Float64Data
	for _, profit := range profits {
		if profit > 0 {
			gains = append(gains, profit)
			continue
		}
		losses = append(losses, profit)
	}

	deviation, err := stats.StandardDeviation(profits)
	if err != nil {
		deviation = 0
	}

	return Summary{
		Trades:        len(profits),
		Gains:         len(gains),
		Losses:        len(losses),
		Profit:        sum(profits),
		AverageProfit: mean(profits),
		Gain:          sum(gains),
		Loss:          sum(losses),
		AverageGain:   mean(gains),
		AverageLoss:   mean(losses),
		WinRate:       float64(len(gains)) / float64(len(profits)) * 100,
		Deviation:     deviation,
	}
}
