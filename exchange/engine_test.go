package exchange

import (
	"errors"
	"math"
	"testing"

	"github.com/dnldd/candlebot/shared"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
)

const (
	tickTs = int64(1546300800000)
	minute = int64(60000)
)

func setupEngine(t *testing.T, krw float64) (*Engine, *[]shared.Transaction) {
	notified := make([]shared.Transaction, 0)
	engine, err := NewEngine(&EngineConfig{
		Quote:    "KRW",
		Balances: map[string]float64{"KRW": krw},
		OnTransaction: func(tx shared.Transaction) {
			notified = append(notified, tx)
		},
		Logger: &log.Logger,
	})
	assert.NoError(t, err)

	return engine, &notified
}

// assertEngineBalanced ensures every balance snapshot of the engine is consistent.
func assertEngineBalanced(t *testing.T, e *Engine) {
	t.Helper()

	assertBalanced(t, e.ledger)
	for _, b := range e.Balances() {
		if b.Available < 0 || b.InUse < 0 || math.Abs(b.Available+b.InUse-b.Total) > 1e-9 {
			t.Errorf("unbalanced %s: %+v", b.Asset, b)
		}
	}
}

func TestEngineBidFill(t *testing.T) {
	engine, notified := setupEngine(t, 1000000)

	_, err := engine.OnTick("BTC", shared.Candle{Timestamp: tickTs, Close: 4300000})
	assert.NoError(t, err)

	// Ensure a bid reserves exactly price * units of the quote asset.
	res, err := engine.Place(shared.Bid, "BTC", "KRW", 4249000, 0.1)
	assert.NoError(t, err)
	assert.Equal(t, res.Rejection, NotRejected)
	assert.Equal(t, res.Order.ID, tickTs*1000)
	assert.Equal(t, res.Order.Status, Placed)
	assert.Equal(t, engine.Balance("KRW"), Balance{Asset: "KRW", Total: 1000000, Available: 575100, InUse: 424900})
	assertEngineBalanced(t, engine)

	// Ensure a candle closing above the limit does not fill the bid.
	txs, err := engine.OnTick("BTC", shared.Candle{Timestamp: tickTs + minute, Close: 4249001})
	assert.NoError(t, err)
	assert.Equal(t, len(txs), 0)

	// Ensure a candle closing at the limit fills the bid fully.
	txs, err = engine.OnTick("BTC", shared.Candle{Timestamp: tickTs + 2*minute, Close: 4249000})
	assert.NoError(t, err)
	assert.Equal(t, len(txs), 1)
	assert.Equal(t, txs[0], shared.Transaction{
		OrderID:   tickTs * 1000,
		ContID:    1,
		Asset:     "BTC",
		Side:      shared.Bid,
		Units:     0.1,
		Price:     4249000,
		Total:     424900,
		Timestamp: tickTs + 2*minute,
	})
	assert.Equal(t, *notified, txs)
	assert.Equal(t, engine.Balance("KRW"), Balance{Asset: "KRW", Total: 575100, Available: 575100})
	assert.Equal(t, engine.Balance("BTC"), Balance{Asset: "BTC", Total: 0.1, Available: 0.1})
	assertEngineBalanced(t, engine)

	orders, err := engine.Orders(OrdersFilter{})
	assert.NoError(t, err)
	assert.Equal(t, len(orders), 1)
	assert.Equal(t, orders[0].Status, Filled)
	assert.Equal(t, orders[0].UnitsRemaining, 0.0)
	assert.Equal(t, orders[0].Total, 424900.0)
	assert.Equal(t, orders[0].CompletedAt, tickTs+2*minute)

	// Ensure a filled order is never filled twice.
	txs, err = engine.OnTick("BTC", shared.Candle{Timestamp: tickTs + 3*minute, Close: 4000000})
	assert.NoError(t, err)
	assert.Equal(t, len(txs), 0)
}

func TestEngineAskFill(t *testing.T) {
	engine, _ := setupEngine(t, 1000000)

	_, err := engine.OnTick("BTC", shared.Candle{Timestamp: tickTs, Close: 4000000})
	assert.NoError(t, err)
	_, err = engine.MarketBuy("BTC", 0.2)
	assert.NoError(t, err)

	// Ensure an ask reserves the asset units.
	res, err := engine.Place(shared.Ask, "BTC", "KRW", 4400000, 0.2)
	assert.NoError(t, err)
	assert.Equal(t, res.Rejection, NotRejected)
	assert.Equal(t, engine.Balance("BTC"), Balance{Asset: "BTC", Total: 0.2, InUse: 0.2})

	// Ensure a candle closing below the limit does not fill the ask.
	txs, err := engine.OnTick("BTC", shared.Candle{Timestamp: tickTs + minute, Close: 4399999})
	assert.NoError(t, err)
	assert.Equal(t, len(txs), 0)

	// Ensure a candle closing above the limit fills the ask at its limit.
	txs, err = engine.OnTick("BTC", shared.Candle{Timestamp: tickTs + 2*minute, Close: 4500000})
	assert.NoError(t, err)
	assert.Equal(t, len(txs), 1)
	assert.Equal(t, txs[0].Total, 880000.0)
	assert.Equal(t, txs[0].ContID, int64(2))
	assert.Equal(t, engine.Balance("BTC"), Balance{Asset: "BTC"})
	assert.Equal(t, engine.Balance("KRW"), Balance{Asset: "KRW", Total: 1080000, Available: 1080000})
	assertEngineBalanced(t, engine)
}

func TestEngineRejections(t *testing.T) {
	engine, notified := setupEngine(t, 1000000)

	// Ensure trading before any tick is a no recent price rejection.
	res, err := engine.Place(shared.Bid, "BTC", "KRW", 4249000, 0.1)
	assert.NoError(t, err)
	assert.Equal(t, res.Rejection, NoRecentPrice)

	trade, err := engine.MarketBuy("BTC", 0.1)
	assert.NoError(t, err)
	assert.Equal(t, trade.Rejection, NoRecentPrice)

	_, err = engine.OnTick("BTC", shared.Candle{Timestamp: tickTs, Close: 4249000})
	assert.NoError(t, err)

	// Ensure reserving more than available is an insufficient funds rejection.
	res, err = engine.Place(shared.Bid, "BTC", "KRW", 4249000, 1)
	assert.NoError(t, err)
	assert.Equal(t, res.Rejection, InsufficientFunds)
	assert.Equal(t, engine.Balance("KRW"), Balance{Asset: "KRW", Total: 1000000, Available: 1000000})

	res, err = engine.Place(shared.Ask, "BTC", "KRW", 4249000, 1)
	assert.NoError(t, err)
	assert.Equal(t, res.Rejection, InsufficientFunds)

	trade, err = engine.MarketBuy("BTC", 1)
	assert.NoError(t, err)
	assert.Equal(t, trade.Rejection, InsufficientFunds)

	trade, err = engine.MarketSell("BTC", 1)
	assert.NoError(t, err)
	assert.Equal(t, trade.Rejection, InsufficientFunds)
	assert.Equal(t, len(*notified), 0)

	// Ensure only the quote asset can be the counter asset.
	_, err = engine.Place(shared.Bid, "BTC", "USD", 4249000, 0.1)
	assert.True(t, errors.Is(err, shared.ErrValidation))

	// Ensure bad order inputs are validation errors.
	_, err = engine.Place(shared.Bid, "BTC", "KRW", 0, 0.1)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	_, err = engine.Place(shared.Bid, "BTC", "KRW", 4249000, -1)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	_, err = engine.Place(shared.Bid, "KRW", "KRW", 1, 1)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	_, err = engine.MarketSell("BTC", 0)
	assert.True(t, errors.Is(err, shared.ErrValidation))

	// Ensure prices only count for the current tick.
	_, err = engine.OnTick("ETH", shared.Candle{Timestamp: tickTs + minute, Close: 150000})
	assert.NoError(t, err)
	trade, err = engine.MarketBuy("BTC", 0.1)
	assert.NoError(t, err)
	assert.Equal(t, trade.Rejection, NoRecentPrice)
	_, ok := engine.LastPrice("ETH")
	assert.True(t, ok)
	assertEngineBalanced(t, engine)
}

func TestEngineCancel(t *testing.T) {
	engine, _ := setupEngine(t, 1000000)

	_, err := engine.OnTick("BTC", shared.Candle{Timestamp: tickTs, Close: 4300000})
	assert.NoError(t, err)

	res, err := engine.Place(shared.Bid, "BTC", "KRW", 4249000, 0.1)
	assert.NoError(t, err)

	// Ensure cancelling releases the reservation.
	err = engine.Cancel(res.Order.ID)
	assert.NoError(t, err)
	assert.Equal(t, engine.Balance("KRW"), Balance{Asset: "KRW", Total: 1000000, Available: 1000000})

	// Ensure cancelling again is not found and does not release twice.
	err = engine.Cancel(res.Order.ID)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
	assert.Equal(t, engine.Balance("KRW"), Balance{Asset: "KRW", Total: 1000000, Available: 1000000})

	// Ensure a cancelled order does not fill.
	txs, err := engine.OnTick("BTC", shared.Candle{Timestamp: tickTs + minute, Close: 4000000})
	assert.NoError(t, err)
	assert.Equal(t, len(txs), 0)

	// Ensure cancelling a filled order is not found.
	res, err = engine.Place(shared.Bid, "BTC", "KRW", 4249000, 0.1)
	assert.NoError(t, err)
	_, err = engine.OnTick("BTC", shared.Candle{Timestamp: tickTs + 2*minute, Close: 4249000})
	assert.NoError(t, err)
	err = engine.Cancel(res.Order.ID)
	assert.True(t, errors.Is(err, shared.ErrOrderNotFound))
	assert.Equal(t, engine.Balance("KRW"), Balance{Asset: "KRW", Total: 575100, Available: 575100})

	// Ensure unknown orders are not found.
	err = engine.Cancel(42)
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	// Ensure cancelled orders remain queryable.
	orders, err := engine.Orders(OrdersFilter{Asset: "btc"})
	assert.NoError(t, err)
	assert.Equal(t, len(orders), 2)
	assert.Equal(t, orders[1].Status, Cancelled)
	assertEngineBalanced(t, engine)
}

func TestEngineOrderIDs(t *testing.T) {
	engine, _ := setupEngine(t, 10000000)

	_, err := engine.OnTick("BTC", shared.Candle{Timestamp: tickTs, Close: 4300000})
	assert.NoError(t, err)

	// Ensure order ids within a tick are bumped until unique.
	first, err := engine.Place(shared.Bid, "BTC", "KRW", 4249000, 0.1)
	assert.NoError(t, err)
	second, err := engine.Place(shared.Bid, "BTC", "KRW", 4250000, 0.1)
	assert.NoError(t, err)
	trade, err := engine.MarketBuy("BTC", 0.1)
	assert.NoError(t, err)
	assert.Equal(t, first.Order.ID, tickTs*1000)
	assert.Equal(t, second.Order.ID, tickTs*1000+1)
	assert.Equal(t, trade.Order.ID, tickTs*1000+2)

	// Ensure a cancelled order id is never reused.
	err = engine.Cancel(first.Order.ID)
	assert.NoError(t, err)
	third, err := engine.Place(shared.Bid, "BTC", "KRW", 4249000, 0.1)
	assert.NoError(t, err)
	assert.Equal(t, third.Order.ID, tickTs*1000+3)

	// Ensure orders crossing on the same tick fill oldest first.
	txs, err := engine.OnTick("BTC", shared.Candle{Timestamp: tickTs + minute, Close: 4200000})
	assert.NoError(t, err)
	assert.Equal(t, len(txs), 2)
	assert.Equal(t, txs[0].OrderID, second.Order.ID)
	assert.Equal(t, txs[1].OrderID, third.Order.ID)
	assert.Equal(t, txs[0].ContID+1, txs[1].ContID)

	// Ensure orders of the next tick derive from its timestamp.
	next, err := engine.Place(shared.Ask, "BTC", "KRW", 4400000, 0.1)
	assert.NoError(t, err)
	assert.Equal(t, next.Order.ID, (tickTs+minute)*1000)
}

func TestEngineQueries(t *testing.T) {
	engine, _ := setupEngine(t, 10000000)

	_, err := engine.OnTick("BTC", shared.Candle{Timestamp: tickTs, Close: 4000000})
	assert.NoError(t, err)
	_, err = engine.MarketBuy("BTC", 0.5)
	assert.NoError(t, err)
	_, err = engine.OnTick("ETH", shared.Candle{Timestamp: tickTs + minute, Close: 150000})
	assert.NoError(t, err)
	_, err = engine.MarketBuy("ETH", 2)
	assert.NoError(t, err)
	ask := shared.Ask
	_, err = engine.MarketSell("ETH", 1)
	assert.NoError(t, err)

	// Ensure orders are returned newest first and can be filtered.
	orders, err := engine.Orders(OrdersFilter{})
	assert.NoError(t, err)
	assert.Equal(t, len(orders), 3)
	assert.Equal(t, orders[0].Side, shared.Ask)

	orders, err = engine.Orders(OrdersFilter{Asset: "BTC"})
	assert.NoError(t, err)
	assert.Equal(t, len(orders), 1)

	orders, err = engine.Orders(OrdersFilter{After: tickTs + minute})
	assert.NoError(t, err)
	assert.Equal(t, len(orders), 2)

	orders, err = engine.Orders(OrdersFilter{Count: 1})
	assert.NoError(t, err)
	assert.Equal(t, len(orders), 1)

	orders, err = engine.Orders(OrdersFilter{ID: (tickTs+minute)*1000 + 1, Side: &ask})
	assert.NoError(t, err)
	assert.Equal(t, len(orders), 1)
	assert.Equal(t, orders[0].Units, 1.0)

	// Ensure order id lookups require a side.
	_, err = engine.Orders(OrdersFilter{ID: 1})
	assert.True(t, errors.Is(err, shared.ErrValidation))

	// Ensure transactions are returned newest first and can be filtered.
	txs := engine.Transactions("", 0)
	assert.Equal(t, len(txs), 3)
	assert.Equal(t, txs[0].ContID, int64(3))
	assert.Equal(t, len(engine.Transactions("ETH", 0)), 2)
	assert.Equal(t, len(engine.Transactions("ETH", 1)), 1)

	assert.Equal(t, engine.Balance("ETH"), Balance{Asset: "ETH", Total: 1, Available: 1})
	assert.Equal(t, engine.Balance("KRW").Total, 10000000.0-2000000-300000+150000)
	assert.Equal(t, engine.Quote(), "KRW")
	assertEngineBalanced(t, engine)
}

func TestEngineDeterminism(t *testing.T) {
	closes := []float64{4300000, 4249000, 4100000, 4350000, 4200000, 4400000, 4380000}

	run := func() ([]Order, []shared.Transaction, []Balance) {
		engine, _ := setupEngine(t, 1000000)
		for idx, price := range closes {
			ts := tickTs + int64(idx)*minute
			_, err := engine.OnTick("BTC", shared.Candle{Timestamp: ts, Close: price})
			assert.NoError(t, err)

			switch idx % 3 {
			case 0:
				_, err = engine.Place(shared.Bid, "BTC", "KRW", price-50000, 0.05)
			case 1:
				_, err = engine.MarketBuy("BTC", 0.01)
			case 2:
				bal := engine.Balance("BTC")
				if bal.Available > 0 {
					_, err = engine.Place(shared.Ask, "BTC", "KRW", price+20000, bal.Available)
				}
			}
			assert.NoError(t, err)
			assertEngineBalanced(t, engine)
		}

		orders, err := engine.Orders(OrdersFilter{})
		assert.NoError(t, err)
		return orders, engine.Transactions("", 0), engine.Balances()
	}

	// Ensure replaying the same candles yields identical orders, transactions and balances.
	ordersA, txsA, balancesA := run()
	ordersB, txsB, balancesB := run()
	assert.GreaterThan(t, len(txsA), 0)
	if diff := cmp.Diff(ordersA, ordersB, cmpopts.IgnoreUnexported(Order{})); diff != "" {
		t.Errorf("orders mismatch (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(txsA, txsB); diff != "" {
		t.Errorf("transactions mismatch (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(balancesA, balancesB); diff != "" {
		t.Errorf("balances mismatch (-first +second):\n%s", diff)
	}
}

func TestEngineConfigValidate(t *testing.T) {
	// Ensure a quote asset and logger are required.
	_, err := NewEngine(&EngineConfig{Logger: &log.Logger})
	assert.True(t, errors.Is(err, shared.ErrValidation))
	_, err = NewEngine(&EngineConfig{Quote: "KRW"})
	assert.True(t, errors.Is(err, shared.ErrValidation))

	// Ensure negative starting balances are rejected.
	_, err = NewEngine(&EngineConfig{Quote: "KRW", Balances: map[string]float64{"KRW": -1}, Logger: &log.Logger})
	assert.True(t, errors.Is(err, shared.ErrValidation))
}
