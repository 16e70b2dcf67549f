package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/candlebot/shared"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createTransactionTableSQL = "CREATE TABLE IF NOT EXISTS transactions (id TEXT PRIMARY KEY, bot TEXT, run TEXT, orderid INTEGER, contid INTEGER, asset TEXT, side TEXT, units REAL, price REAL, total REAL, fee REAL, timestamp INTEGER)"
	createRunTableSQL         = "CREATE TABLE IF NOT EXISTS runs (id TEXT PRIMARY KEY, bot TEXT, transactions INTEGER, bids INTEGER, asks INTEGER, createdon INTEGER)"
	persistTransactionSQL     = "INSERT INTO transactions(id, bot, run, orderid, contid, asset, side, units, price, total, fee, timestamp) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)"
	upsertRunSQL              = "INSERT INTO runs(id, bot, transactions, bids, asks, createdon) VALUES(?,?,1,?,?,?) ON CONFLICT(id) DO UPDATE SET transactions = transactions + 1, bids = bids + excluded.bids, asks = asks + excluded.asks"
	fetchTransactionsSQL      = "SELECT bot, run, orderid, contid, asset, side, units, price, total, fee, timestamp FROM transactions WHERE bot = ? ORDER BY timestamp, orderid, contid"
)

// Record is a stored transaction.
type Record struct {
	Bot string
	Run string
	shared.Transaction
}

// TransactionStorer defines the requirements for storing bot transactions.
type TransactionStorer interface {
	// PersistTransaction stores the provided transaction of a bot run.
	PersistTransaction(ctx context.Context, bot string, run string, tx shared.Transaction) error
	// FetchTransactions returns the stored transactions of a bot, oldest first.
	FetchTransactions(ctx context.Context, bot string) ([]Record, error)
}

// StoreConfig is the configuration for the transaction store.
type StoreConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *StoreConfig) Validate() error {
	var errs error

	if cfg.Endpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Store persists bot transactions to rqlite.
type Store struct {
	cfg    *StoreConfig
	client *rqlitehttp.Client
}

// Ensure the store implements the TransactionStorer interface.
var _ TransactionStorer = (*Store)(nil)

// NewStore initializes a new transaction store.
func NewStore(ctx context.Context, cfg *StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Pass)
	}

	store := &Store{
		cfg:    cfg,
		client: client,
	}

	err = store.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return store, nil
}

// execute runs the provided statements in a transaction.
func (s *Store) execute(ctx context.Context, statements rqlitehttp.SQLStatements) error {
	resp, err := s.client.Execute(ctx, statements, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("executing statement %d: %s", idx, errStr)
	}

	return nil
}

// bootstrap initializes the database.
func (s *Store) bootstrap(ctx context.Context) error {
	return s.execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createTransactionTableSQL},
		{SQL: createRunTableSQL},
	})
}

// transactionID generates the deterministic id of a stored transaction.
func transactionID(bot string, run string, tx shared.Transaction) string {
	return fmt.Sprintf("%s-%s-%d-%d", bot, run, tx.OrderID, tx.ContID)
}

// PersistTransaction stores the provided transaction of a bot run and updates the run
// tallies.
func (s *Store) PersistTransaction(ctx context.Context, bot string, run string, tx shared.Transaction) error {
	var bids, asks int
	switch tx.Side {
	case shared.Bid:
		bids++
	case shared.Ask:
		asks++
	default:
		s.cfg.Logger.Error().Msgf("unexpected transaction side for run tallies: %s", spew.Sdump(tx))
	}

	err := s.execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistTransactionSQL,
			PositionalParams: []any{transactionID(bot, run, tx), bot, run, tx.OrderID, tx.ContID,
				tx.Asset, tx.Side.String(), tx.Units, tx.Price, tx.Total, tx.Fee, tx.Timestamp},
		},
		{
			SQL:              upsertRunSQL,
			PositionalParams: []any{run, bot, bids, asks, time.Now().Unix()},
		},
	})
	if err != nil {
		return fmt.Errorf("persisting %s transaction %d: %w", bot, tx.OrderID, err)
	}

	return nil
}

// FetchTransactions returns the stored transactions of a bot, oldest first.
func (s *Store) FetchTransactions(ctx context.Context, bot string) ([]Record, error) {
	resp, err := s.client.Query(ctx, rqlitehttp.SQLStatements{
		{SQL: fetchTransactionsSQL, PositionalParams: []any{bot}},
	}, &rqlitehttp.QueryOptions{Associative: true})
	if err != nil {
		return nil, fmt.Errorf("fetching %s transactions: %w", bot, err)
	}

	has, idx, errStr := resp.HasError()
	if has {
		return nil, fmt.Errorf("fetching %s transactions: statement %d: %s", bot, idx, errStr)
	}

	var records []Record
	for _, result := range resp.GetQueryResultsAssoc() {
		for _, row := range result.Rows {
			record, err := parseRecord(row)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
	}

	return records, nil
}

// parseRecord decodes a stored transaction row.
func parseRecord(row map[string]any) (Record, error) {
	var errs error
	field := func(name string) string {
		value, ok := row[name]
		if !ok {
			errs = errors.Join(errs, fmt.Errorf("missing %s column", name))
			return ""
		}
		switch v := value.(type) {
		case string:
			return v
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(v, 10)
		default:
			return fmt.Sprint(v)
		}
	}
	integer := func(name string) int64 {
		value, err := strconv.ParseInt(field(name), 10, 64)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("parsing %s: %w", name, err))
		}
		return value
	}
	number := func(name string) float64 {
		value, err := strconv.ParseFloat(field(name), 64)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("parsing %s: %w", name, err))
		}
		return value
	}

	side, err := shared.ParseSide(field("side"))
	if err != nil {
		errs = errors.Join(errs, err)
	}

	record := Record{
		Bot: field("bot"),
		Run: field("run"),
		Transaction: shared.Transaction{
			OrderID:   integer("orderid"),
			ContID:    integer("contid"),
			Asset:     field("asset"),
			Side:      side,
			Units:     number("units"),
			Price:     number("price"),
			Total:     number("total"),
			Fee:       number("fee"),
			Timestamp: integer("timestamp"),
		},
	}
	if errs != nil {
		return Record{}, fmt.Errorf("decoding transaction row %s: %w", spew.Sdump(row), errs)
	}

	return record, nil
}
