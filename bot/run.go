package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/candlebot/exchange"
	"github.com/dnldd/candlebot/fetch"
	"github.com/dnldd/candlebot/shared"
	"github.com/dnldd/candlebot/stitch"
	"github.com/rs/zerolog"
)

// runner drives one bot run.
type runner struct {
	registry     *Registry
	inst         *Instance
	runID        string
	logger       zerolog.Logger
	synchronizer *stitch.Synchronizer
	engine       *exchange.Engine
	strategy     Strategy
	market       string
	asset        string
	previous     map[string]shared.Candle
	transactions []shared.Transaction
	reported     int
}

// broadcast relays the provided event to the bot subscribers.
func (rn *runner) broadcast(event shared.Event) {
	event.Bot = rn.inst.name
	rn.registry.cfg.Broadcast(rn.inst.name, event)
}

// onTransaction relays, persists and collects the provided transaction.
func (rn *runner) onTransaction(ctx context.Context) func(tx shared.Transaction) {
	return func(tx shared.Transaction) {
		rn.transactions = append(rn.transactions, tx)
		rn.broadcast(shared.Event{Kind: shared.EventTransacted, Transaction: &tx})

		if rn.registry.cfg.PersistTransaction == nil {
			return
		}

		err := rn.registry.cfg.PersistTransaction(ctx, rn.inst.name, rn.runID, tx)
		if err != nil {
			rn.logger.Error().Err(err).Msgf("unable to persist transaction: %s", spew.Sdump(tx))
		}
	}
}

// setup creates the synchronizer, the exchange and the strategy of the run.
func (rn *runner) setup(ctx context.Context) error {
	cfg := rn.inst.cfg

	var err error
	rn.synchronizer, err = stitch.NewSynchronizer(&stitch.SynchronizerConfig{
		Markets:   rn.inst.markets,
		Sources:   rn.inst.sources,
		Timeframe: cfg.Timeframe,
		StartTime: cfg.StartTime,
		MaxFill:   cfg.MaxFill,
		Logger:    &rn.logger,
	})
	if err != nil {
		return fmt.Errorf("creating synchronizer: %w", err)
	}

	if cfg.Exchange != nil {
		rn.market = cfg.Exchange.Market
		rn.asset = cfg.Exchange.Asset
		if rn.asset == "" {
			for _, market := range rn.inst.markets {
				if market.ID() == rn.market {
					rn.asset = market.Symbol()
					break
				}
			}
		}

		rn.engine, err = exchange.NewEngine(&exchange.EngineConfig{
			Quote:         cfg.Exchange.Quote,
			Balances:      cfg.Exchange.Balances,
			OnTransaction: rn.onTransaction(ctx),
			Logger:        &rn.logger,
		})
		if err != nil {
			return fmt.Errorf("creating exchange: %w", err)
		}
	}

	rn.strategy, err = rn.registry.cfg.Strategies(cfg.StrategyArgs)
	if err != nil {
		return fmt.Errorf("creating strategy: %w", err)
	}

	return nil
}

// process hands the provided tick to the strategy, recovering strategy panics.
func (rn *runner) process(ctx context.Context, sc *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			rn.logger.Error().Msgf("strategy panic: %v\n%s", rec, debug.Stack())
			err = fmt.Errorf("strategy panic: %v", rec)
		}
	}()

	return rn.strategy.OnTick(ctx, sc)
}

// reportProgress broadcasts the current progress if it was not broadcast already.
func (rn *runner) reportProgress() {
	progress := int(rn.inst.progress.Load())
	if progress == rn.reported {
		return
	}

	rn.reported = progress
	rn.broadcast(shared.Event{Kind: shared.EventProgress, Progress: progress})
}

// loop processes ticks until the sources are exhausted, the end time is reached or a
// stop is requested.
func (rn *runner) loop(ctx context.Context) error {
	cfg := rn.inst.cfg
	period := cfg.Timeframe.Period()

	for {
		if ctx.Err() != nil {
			rn.logger.Info().Msg("context done, stopping bot run")
			return nil
		}

		tick, err := rn.synchronizer.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, fetch.ErrExhausted):
				rn.logger.Info().Msg("candle sources exhausted")
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				return fmt.Errorf("synchronizing candles: %w", err)
			}
		}

		candles := tick.ByID(rn.inst.markets)
		if rn.engine != nil {
			if _, err := rn.engine.OnTick(rn.asset, candles[rn.market]); err != nil {
				return fmt.Errorf("matching %s orders: %w", rn.asset, err)
			}
		}

		sc := &Context{
			Bot:      rn.inst.name,
			Tick:     tick,
			Candles:  candles,
			Previous: rn.previous,
			Markets:  rn.inst.markets,
			Exchange: rn.engine,
			Market:   rn.market,
			Asset:    rn.asset,
			Logger:   &rn.logger,
			emit:     rn.broadcast,
		}
		if err := rn.process(ctx, sc); err != nil {
			return err
		}
		rn.previous = candles

		progress := rn.inst.progress.Inc()
		if progress%int64(cfg.ProgressInterval) == 0 {
			rn.reportProgress()
		}

		if rn.inst.token.Requested() ||
			(cfg.EndTime > 0 && tick.Timestamp+period >= cfg.EndTime) {
			return nil
		}
	}
}

// run executes the provided bot until it ends.
func (r *Registry) run(ctx context.Context, inst *Instance) {
	defer r.wg.Done()

	runID := inst.RunID()
	rn := &runner{
		registry: r,
		inst:     inst,
		runID:    runID,
		logger:   r.cfg.Logger.With().Str("bot", inst.name).Str("run", runID).Logger(),
	}

	rn.broadcast(shared.Event{Kind: shared.EventStarted})
	rn.logger.Info().Msg("bot run started")

	err := rn.setup(ctx)
	if err == nil {
		err = rn.loop(ctx)
	}

	rn.reportProgress()

	var summary *exchange.Summary
	if rn.engine != nil {
		s := exchange.Summarize(rn.transactions)
		summary = &s
		rn.logger.Info().Msgf("round trips: %d, profit: %.2f (average %.2f), gain: %.2f "+
			"(average %.2f, %d trades), loss: %.2f (average %.2f, %d trades), win rate: %.2f%%",
			s.Trades, s.Profit, s.AverageProfit, s.Gain, s.AverageGain, s.Gains, s.Loss,
			s.AverageLoss, s.Losses, s.WinRate)
	}

	if r.cfg.ReportTransactions != nil && len(rn.transactions) > 0 {
		rerr := r.cfg.ReportTransactions(inst.name, runID, rn.transactions, *summary)
		if rerr != nil {
			rn.logger.Error().Err(rerr).Msg("unable to report transactions")
		}
	}

	inst.stateMtx.Lock()
	inst.state = Done
	inst.err = err
	inst.summary = summary
	inst.stateMtx.Unlock()

	if err != nil {
		rn.logger.Error().Err(err).Msg("bot run failed")
		rn.broadcast(shared.Event{Kind: shared.EventFailed, Err: err.Error()})
	}

	rn.broadcast(shared.Event{Kind: shared.EventStopped})
	rn.logger.Info().Msgf("bot run done after %d ticks", inst.progress.Load())

	close(inst.done)
}
