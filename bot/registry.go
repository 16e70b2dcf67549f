package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dnldd/candlebot/exchange"
	"github.com/dnldd/candlebot/fetch"
	"github.com/dnldd/candlebot/shared"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Instance is a named bot.
type Instance struct {
	name     string
	cfg      Config
	markets  []shared.Market
	sources  []fetch.CandleSource
	token    StopToken
	progress atomic.Int64
	state    State
	err      error
	summary  *exchange.Summary
	runID    string
	stateMtx sync.RWMutex
	done     chan struct{}
}

// Name returns the bot name.
func (i *Instance) Name() string {
	return i.name
}

// Config returns the bot config.
func (i *Instance) Config() Config {
	return i.cfg
}

// RunID returns the id of the bot's run, empty if it never started.
func (i *Instance) RunID() string {
	i.stateMtx.RLock()
	defer i.stateMtx.RUnlock()

	return i.runID
}

// Status returns the bot status.
func (i *Instance) Status() Status {
	i.stateMtx.RLock()
	defer i.stateMtx.RUnlock()

	status := Status{
		Progress: int(i.progress.Load()),
		State:    i.state,
	}
	if i.err != nil {
		status.Err = i.err.Error()
	}
	if i.summary != nil {
		summary := *i.summary
		status.Summary = &summary
	}

	return status
}

// Done returns a channel closed when the bot run is done.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// RegistryConfig represents the bot registry configuration.
type RegistryConfig struct {
	// Sources creates the candle sources of bot markets.
	Sources fetch.SourceFactory
	// Strategies creates the strategy of a bot run.
	Strategies StrategyFactory
	// Broadcast relays bot events to the subscribers of the bot.
	Broadcast func(room string, event shared.Event)
	// PersistTransaction optionally stores the transactions of bot runs.
	PersistTransaction func(ctx context.Context, bot string, run string, tx shared.Transaction) error
	// ReportTransactions optionally reports the transactions and the summary of a
	// finished bot run.
	ReportTransactions func(bot string, run string, txs []shared.Transaction, summary exchange.Summary) error
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *RegistryConfig) Validate() error {
	var errs error

	if cfg.Sources == nil {
		errs = errors.Join(errs, fmt.Errorf("source factory cannot be nil"))
	}
	if cfg.Strategies == nil {
		errs = errors.Join(errs, fmt.Errorf("strategy factory cannot be nil"))
	}
	if cfg.Broadcast == nil {
		errs = errors.Join(errs, fmt.Errorf("broadcast function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Registry owns every bot and drives their lifecycles. Bots are never removed.
type Registry struct {
	cfg     *RegistryConfig
	bots    map[string]*Instance
	botsMtx sync.RWMutex
	wg      sync.WaitGroup
}

// NewRegistry initializes a new bot registry.
func NewRegistry(cfg *RegistryConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	return &Registry{
		cfg:  cfg,
		bots: make(map[string]*Instance),
	}, nil
}

// CheckName asserts the provided name can be given to a new bot.
func (r *Registry) CheckName(name string) error {
	switch {
	case name == MasterName:
		return fmt.Errorf("%w: %q cannot be a bot name", shared.ErrReservedName, name)
	case name == "":
		return fmt.Errorf("%w: bot name cannot be an empty string", shared.ErrValidation)
	case r.Has(name):
		return fmt.Errorf("%w: bot %q", shared.ErrAlreadyExists, name)
	}

	return nil
}

// Create creates a bot with the provided name and config.
func (r *Registry) Create(name string, cfg Config) error {
	if err := r.CheckName(name); err != nil {
		return err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	markets, err := shared.ParseMarkets(cfg.Markets)
	if err != nil {
		return err
	}

	if _, err := r.cfg.Strategies(cfg.StrategyArgs); err != nil {
		return fmt.Errorf("creating strategy: %w", err)
	}

	sources := make([]fetch.CandleSource, 0, len(markets))
	for _, market := range markets {
		src, err := r.cfg.Sources(market, cfg.Timeframe)
		if err != nil {
			return fmt.Errorf("creating %s candle source: %w", market.ID(), err)
		}
		sources = append(sources, src)
	}

	inst := &Instance{
		name:    name,
		cfg:     cfg,
		markets: markets,
		sources: sources,
		state:   Yet,
		done:    make(chan struct{}),
	}

	r.botsMtx.Lock()
	defer r.botsMtx.Unlock()

	if _, ok := r.bots[name]; ok {
		return fmt.Errorf("%w: bot %q", shared.ErrAlreadyExists, name)
	}
	r.bots[name] = inst

	r.cfg.Logger.Info().Msgf("created bot %s with %d markets on %s candles", name,
		len(markets), cfg.Timeframe.String())

	return nil
}

// Get returns the bot with the provided name.
func (r *Registry) Get(name string) (*Instance, error) {
	r.botsMtx.RLock()
	defer r.botsMtx.RUnlock()

	inst, ok := r.bots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", shared.ErrBotNotFound, name)
	}

	return inst, nil
}

// Has returns whether a bot with the provided name exists.
func (r *Registry) Has(name string) bool {
	r.botsMtx.RLock()
	defer r.botsMtx.RUnlock()

	_, ok := r.bots[name]
	return ok
}

// Names returns the sorted names of every bot.
func (r *Registry) Names() []string {
	r.botsMtx.RLock()
	defer r.botsMtx.RUnlock()

	names := make([]string, 0, len(r.bots))
	for name := range r.bots {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Summary returns the number of bots per state.
func (r *Registry) Summary() map[State]int {
	r.botsMtx.RLock()
	defer r.botsMtx.RUnlock()

	summary := map[State]int{Yet: 0, Doing: 0, Done: 0}
	for _, inst := range r.bots {
		summary[inst.Status().State]++
	}

	return summary
}

// Start starts the run of the provided bot. The run lives until it ends, is stopped or
// the provided context is done.
func (r *Registry) Start(ctx context.Context, name string) error {
	inst, err := r.Get(name)
	if err != nil {
		return err
	}

	inst.stateMtx.Lock()
	switch {
	// A stopped bot reports the stop over the finished run, even once it is done.
	case inst.token.Requested():
		inst.stateMtx.Unlock()
		return fmt.Errorf("%w: bot %q", shared.ErrAlreadyStopped, name)
	case inst.state != Yet:
		inst.stateMtx.Unlock()
		return fmt.Errorf("%w: bot %q", shared.ErrAlreadyStarted, name)
	}
	inst.state = Doing
	inst.runID = uuid.NewString()
	inst.stateMtx.Unlock()

	r.wg.Add(1)
	go r.run(ctx, inst)

	return nil
}

// Stop requests the provided bot to stop after its current tick. It returns "ok" for a
// running bot and "done" for a finished one.
func (r *Registry) Stop(name string) (string, error) {
	inst, err := r.Get(name)
	if err != nil {
		return "", err
	}

	inst.stateMtx.Lock()
	defer inst.stateMtx.Unlock()

	switch inst.state {
	case Yet:
		return "", fmt.Errorf("%w: bot %q", shared.ErrNotStarted, name)
	case Doing:
		if inst.token.Request() {
			r.cfg.Logger.Info().Msgf("stop requested for bot %s", name)
		}
		return "ok", nil
	default:
		return "done", nil
	}
}

// Status returns the status of the provided bot.
func (r *Registry) Status(name string) (Status, error) {
	inst, err := r.Get(name)
	if err != nil {
		return Status{}, err
	}

	return inst.Status(), nil
}

// Wait blocks until the run of the provided bot is done.
func (r *Registry) Wait(ctx context.Context, name string) (Status, error) {
	inst, err := r.Get(name)
	if err != nil {
		return Status{}, err
	}

	if inst.Status().State == Yet {
		return Status{}, fmt.Errorf("%w: bot %q", shared.ErrNotStarted, name)
	}

	select {
	case <-inst.done:
		return inst.Status(), nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Shutdown requests every running bot to stop and waits for their runs to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.botsMtx.RLock()
	for _, inst := range r.bots {
		inst.stateMtx.RLock()
		if inst.state == Doing {
			inst.token.Request()
		}
		inst.stateMtx.RUnlock()
	}
	r.botsMtx.RUnlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
