package exchange

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/candlebot/shared"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// orderIDMultiplier scales tick timestamps into the order id space.
	orderIDMultiplier = 1000
	// defaultOrdersCount is the default number of orders returned by order queries.
	defaultOrdersCount = 100
)

// OrderStatus represents the status of an order.
type OrderStatus int

const (
	Placed OrderStatus = iota
	Filled
	Cancelled
)

// String stringifies the provided order status.
func (s OrderStatus) String() string {
	switch s {
	case Placed:
		return "placed"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Rejection is the typed outcome of a trading call that could not be executed.
type Rejection int

const (
	NotRejected Rejection = iota
	InsufficientFunds
	NoRecentPrice
)

// String stringifies the provided rejection.
func (r Rejection) String() string {
	switch r {
	case NotRejected:
		return "none"
	case InsufficientFunds:
		return "insufficient funds"
	case NoRecentPrice:
		return "no recent price"
	default:
		return "unknown"
	}
}

// Order represents a limit or market order.
type Order struct {
	ID             int64       `json:"order_id"`
	Asset          string      `json:"order_currency"`
	CounterAsset   string      `json:"payment_currency"`
	Side           shared.Side `json:"type"`
	Price          float64     `json:"price"`
	Units          float64     `json:"units"`
	UnitsRemaining float64     `json:"units_remaining"`
	Total          float64     `json:"total"`
	Fee            float64     `json:"fee"`
	Status         OrderStatus `json:"status"`
	OrderedAt      int64       `json:"order_date"`
	CompletedAt    int64       `json:"date_completed"`

	reserved decimal.Decimal
}

// PlaceResult is the outcome of placing a limit order.
type PlaceResult struct {
	Order     Order
	Rejection Rejection
}

// TradeResult is the outcome of a market order.
type TradeResult struct {
	Order       Order
	Transaction shared.Transaction
	Rejection   Rejection
}

// OrdersFilter narrows order queries.
type OrdersFilter struct {
	// Asset limits results to one asset, empty for all assets.
	Asset string
	// ID limits results to one order, it requires Side to be set as well.
	ID int64
	// Side is the side of the order looked up by ID.
	Side *shared.Side
	// After limits results to orders placed at or after the provided timestamp.
	After int64
	// Count is the maximum number of orders returned, newest first.
	Count int
}

// EngineConfig represents the matching engine configuration.
type EngineConfig struct {
	// Quote is the single supported counter asset.
	Quote string
	// Balances are the initial available amounts per asset.
	Balances map[string]float64
	// OnTransaction is notified of every transaction produced.
	OnTransaction func(tx shared.Transaction)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *EngineConfig) Validate() error {
	var errs error

	if cfg.Quote == "" {
		errs = errors.Join(errs, fmt.Errorf("quote asset cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Engine is a mock exchange matching limit orders against incoming candles. One engine
// is owned by one bot run.
type Engine struct {
	cfg          *EngineConfig
	quote        string
	ledger       *Ledger
	orders       []*Order
	open         []*Order
	ids          map[int64]struct{}
	transactions []shared.Transaction
	lastCandles  map[string]shared.Candle
	lastTs       int64
	ticked       bool
	contID       int64
	mtx          sync.Mutex
}

// NewEngine initializes a new matching engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	balances := map[string]float64{normalize(cfg.Quote): 0}
	for asset, amount := range cfg.Balances {
		balances[normalize(asset)] += amount
	}

	ledger, err := NewLedger(balances)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:         cfg,
		quote:       normalize(cfg.Quote),
		ledger:      ledger,
		ids:         make(map[int64]struct{}),
		lastCandles: make(map[string]shared.Candle),
	}, nil
}

// nextOrderID derives a unique order id from the last tick timestamp.
// The caller must hold the engine lock.
func (e *Engine) nextOrderID() int64 {
	id := e.lastTs * orderIDMultiplier
	for {
		if _, ok := e.ids[id]; !ok {
			break
		}
		id++
	}

	e.ids[id] = struct{}{}
	return id
}

// nextContID returns the next transaction continuation id.
// The caller must hold the engine lock.
func (e *Engine) nextContID() int64 {
	e.contID++
	return e.contID
}

// record stores the provided order. The caller must hold the engine lock.
func (e *Engine) record(order *Order) {
	e.orders = append(e.orders, order)
	if order.Status == Placed {
		e.open = append(e.open, order)
	}
}

// transact records a transaction for the provided completed order.
// The caller must hold the engine lock.
func (e *Engine) transact(order *Order, ts int64) shared.Transaction {
	tx := shared.Transaction{
		OrderID:   order.ID,
		ContID:    e.nextContID(),
		Asset:     order.Asset,
		Side:      order.Side,
		Units:     order.Units,
		Price:     order.Price,
		Total:     order.Total,
		Fee:       order.Fee,
		Timestamp: ts,
	}
	e.transactions = append(e.transactions, tx)

	return tx
}

// notify relays the provided transactions to the transaction callback.
func (e *Engine) notify(txs ...shared.Transaction) {
	if e.cfg.OnTransaction == nil {
		return
	}

	for idx := range txs {
		e.cfg.OnTransaction(txs[idx])
	}
}

// checkOrder asserts the provided order inputs are sane.
func (e *Engine) checkOrder(asset string, price float64, units float64) error {
	var errs error

	if asset == "" {
		errs = errors.Join(errs, fmt.Errorf("order asset cannot be an empty string"))
	}
	if normalize(asset) == e.quote {
		errs = errors.Join(errs, fmt.Errorf("order asset cannot be the quote asset %s", e.quote))
	}
	if price <= 0 {
		errs = errors.Join(errs, fmt.Errorf("order price must be positive, got %v", price))
	}
	if units <= 0 {
		errs = errors.Join(errs, fmt.Errorf("order units must be positive, got %v", units))
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", shared.ErrValidation, errs)
	}

	return nil
}

// Place places a limit order, reserving its funds. Insufficient funds and missing prices
// are reported as rejections.
func (e *Engine) Place(side shared.Side, asset string, counterAsset string, price float64, units float64) (PlaceResult, error) {
	if normalize(counterAsset) != e.quote {
		return PlaceResult{}, fmt.Errorf("%w: only %s is supported as counter asset, got %s",
			shared.ErrValidation, e.quote, counterAsset)
	}
	if err := e.checkOrder(asset, price, units); err != nil {
		return PlaceResult{}, err
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	asset = normalize(asset)
	if _, ok := e.lastCandles[asset]; !ok {
		return PlaceResult{Rejection: NoRecentPrice}, nil
	}

	var reserveAsset string
	var reserved decimal.Decimal
	switch side {
	case shared.Bid:
		reserveAsset = e.quote
		reserved = decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(units))
	case shared.Ask:
		reserveAsset = asset
		reserved = decimal.NewFromFloat(units)
	default:
		return PlaceResult{}, fmt.Errorf("%w: unknown order side %d", shared.ErrValidation, side)
	}

	err := e.ledger.Reserve(reserveAsset, reserved)
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientFunds) {
			return PlaceResult{Rejection: InsufficientFunds}, nil
		}
		return PlaceResult{}, err
	}

	id := e.nextOrderID()
	order := &Order{
		ID:             id,
		Asset:          asset,
		CounterAsset:   e.quote,
		Side:           side,
		Price:          price,
		Units:          units,
		UnitsRemaining: units,
		Status:         Placed,
		OrderedAt:      id,
		reserved:       reserved,
	}
	e.record(order)

	return PlaceResult{Order: *order}, nil
}

// Cancel cancels an open order, releasing its reservation.
func (e *Engine) Cancel(orderID int64) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	idx := slices.IndexFunc(e.open, func(o *Order) bool { return o.ID == orderID })
	if idx < 0 {
		return fmt.Errorf("%w: no open order with id %d", shared.ErrOrderNotFound, orderID)
	}

	order := e.open[idx]
	releaseAsset := order.Asset
	if order.Side == shared.Bid {
		releaseAsset = e.quote
	}

	err := e.ledger.Release(releaseAsset, order.reserved)
	if err != nil {
		e.cfg.Logger.Error().Msgf("releasing cancelled order reservation: %s", spew.Sdump(order))
		return err
	}

	order.Status = Cancelled
	order.CompletedAt = e.lastTs
	e.open = slices.Delete(e.open, idx, idx+1)

	return nil
}

// fill settles the provided open order at its limit price.
// The caller must hold the engine lock.
func (e *Engine) fill(order *Order, candle shared.Candle) error {
	units := decimal.NewFromFloat(order.Units)

	var err error
	switch order.Side {
	case shared.Bid:
		err = e.ledger.Consume(e.quote, order.reserved)
		if err == nil {
			err = e.ledger.Settle(order.Asset, units, Credit)
		}
	case shared.Ask:
		err = e.ledger.Consume(order.Asset, order.reserved)
		if err == nil {
			total := decimal.NewFromFloat(order.Price).Mul(units)
			err = e.ledger.Settle(e.quote, total, Credit)
		}
	}
	if err != nil {
		return fmt.Errorf("settling order %d: %w", order.ID, err)
	}

	total, _ := decimal.NewFromFloat(order.Price).Mul(units).Float64()
	order.UnitsRemaining = 0
	order.Total = total
	order.Status = Filled
	order.CompletedAt = candle.Timestamp

	return nil
}

// OnTick processes the provided candle of an asset, filling every open order of the
// asset its close crosses, oldest order first.
func (e *Engine) OnTick(asset string, candle shared.Candle) ([]shared.Transaction, error) {
	e.mtx.Lock()

	asset = normalize(asset)
	if !e.ticked || candle.Timestamp != e.lastTs {
		clear(e.lastCandles)
		e.lastTs = candle.Timestamp
		e.ticked = true
	}
	e.lastCandles[asset] = candle

	candidates := make([]*Order, 0, len(e.open))
	for _, order := range e.open {
		if order.Asset == asset {
			candidates = append(candidates, order)
		}
	}
	slices.SortFunc(candidates, func(a, b *Order) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	var txs []shared.Transaction
	var err error
	for _, order := range candidates {
		crossed := (order.Side == shared.Bid && order.Price >= candle.Close) ||
			(order.Side == shared.Ask && order.Price <= candle.Close)
		if !crossed {
			continue
		}

		err = e.fill(order, candle)
		if err != nil {
			e.cfg.Logger.Error().Msgf("unable to fill order: %s", spew.Sdump(order))
			break
		}

		txs = append(txs, e.transact(order, candle.Timestamp))
	}

	e.open = slices.DeleteFunc(e.open, func(o *Order) bool { return o.Status != Placed })
	e.mtx.Unlock()

	e.notify(txs...)

	return txs, err
}

// market executes an immediate order at the last close of the provided asset.
func (e *Engine) market(side shared.Side, asset string, units float64) (TradeResult, error) {
	if err := e.checkOrder(asset, 1, units); err != nil {
		return TradeResult{}, err
	}

	e.mtx.Lock()

	asset = normalize(asset)
	candle, ok := e.lastCandles[asset]
	if !ok {
		e.mtx.Unlock()
		return TradeResult{Rejection: NoRecentPrice}, nil
	}

	price := decimal.NewFromFloat(candle.Close)
	amount := decimal.NewFromFloat(units)
	total := price.Mul(amount)

	var err error
	switch side {
	case shared.Bid:
		err = e.ledger.Settle(e.quote, total, Debit)
		if err == nil {
			err = e.ledger.Settle(asset, amount, Credit)
		}
	case shared.Ask:
		err = e.ledger.Settle(asset, amount, Debit)
		if err == nil {
			err = e.ledger.Settle(e.quote, total, Credit)
		}
	}
	if err != nil {
		e.mtx.Unlock()
		if errors.Is(err, shared.ErrInsufficientFunds) {
			return TradeResult{Rejection: InsufficientFunds}, nil
		}
		return TradeResult{}, err
	}

	id := e.nextOrderID()
	totalf, _ := total.Float64()
	order := &Order{
		ID:             id,
		Asset:          asset,
		CounterAsset:   e.quote,
		Side:           side,
		Price:          candle.Close,
		Units:          units,
		UnitsRemaining: 0,
		Total:          totalf,
		Status:         Filled,
		OrderedAt:      id,
		CompletedAt:    candle.Timestamp,
	}
	e.record(order)
	tx := e.transact(order, candle.Timestamp)
	e.mtx.Unlock()

	e.notify(tx)

	return TradeResult{Order: *order, Transaction: tx}, nil
}

// MarketBuy buys the provided units of an asset at its last close.
func (e *Engine) MarketBuy(asset string, units float64) (TradeResult, error) {
	return e.market(shared.Bid, asset, units)
}

// MarketSell sells the provided units of an asset at its last close.
func (e *Engine) MarketSell(asset string, units float64) (TradeResult, error) {
	return e.market(shared.Ask, asset, units)
}

// Orders returns the orders matching the provided filter, newest first.
func (e *Engine) Orders(filter OrdersFilter) ([]Order, error) {
	if (filter.ID != 0) != (filter.Side != nil) {
		return nil, fmt.Errorf("%w: order id and side must be provided together", shared.ErrValidation)
	}

	count := filter.Count
	if count <= 0 {
		count = defaultOrdersCount
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	orders := make([]Order, 0, min(count, len(e.orders)))
	for idx := len(e.orders) - 1; idx >= 0 && len(orders) < count; idx-- {
		order := e.orders[idx]
		switch {
		case filter.Asset != "" && order.Asset != normalize(filter.Asset):
			continue
		case filter.ID != 0 && (order.ID != filter.ID || order.Side != *filter.Side):
			continue
		case filter.After != 0 && order.OrderedAt/orderIDMultiplier < filter.After:
			continue
		}
		orders = append(orders, *order)
	}

	return orders, nil
}

// Transactions returns up to count transactions of the provided asset, newest first.
// An empty asset matches every asset.
func (e *Engine) Transactions(asset string, count int) []shared.Transaction {
	if count <= 0 {
		count = defaultOrdersCount
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	txs := make([]shared.Transaction, 0, min(count, len(e.transactions)))
	for idx := len(e.transactions) - 1; idx >= 0 && len(txs) < count; idx-- {
		if asset != "" && e.transactions[idx].Asset != normalize(asset) {
			continue
		}
		txs = append(txs, e.transactions[idx])
	}

	return txs
}

// LastPrice returns the close of the provided asset's candle in the current tick.
func (e *Engine) LastPrice(asset string) (float64, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	candle, ok := e.lastCandles[normalize(asset)]
	return candle.Close, ok
}

// Balance returns the balance of the provided asset.
func (e *Engine) Balance(asset string) Balance {
	return e.ledger.Balance(asset)
}

// Balances returns the balances of every known asset.
func (e *Engine) Balances() []Balance {
	return e.ledger.Balances()
}

// Quote returns the quote asset of the engine.
func (e *Engine) Quote() string {
	return e.quote
}
