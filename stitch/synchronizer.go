package stitch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/candlebot/fetch"
	"github.com/dnldd/candlebot/shared"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SynchronizerConfig represents the configuration for the candle synchronizer.
type SynchronizerConfig struct {
	// Markets are the synchronized markets, in tick order.
	Markets []shared.Market
	// Sources are the candle sources of the markets, index aligned with Markets.
	Sources []fetch.CandleSource
	// Timeframe is the candle period.
	Timeframe shared.Timeframe
	// StartTime is the optional bootstrap timestamp in unix milliseconds.
	StartTime int64
	// MaxFill is the maximum number of consecutive synthetic candles a source may
	// produce before the run is considered broken. Zero disables the limit.
	MaxFill int
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *SynchronizerConfig) Validate() error {
	var errs error

	if len(cfg.Markets) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no markets provided for synchronizer"))
	}
	if len(cfg.Sources) != len(cfg.Markets) {
		errs = errors.Join(errs, fmt.Errorf("expected %d candle sources, got %d",
			len(cfg.Markets), len(cfg.Sources)))
	}
	for idx := range cfg.Sources {
		if cfg.Sources[idx] == nil {
			errs = errors.Join(errs, fmt.Errorf("candle source %d cannot be nil", idx))
		}
	}
	if err := cfg.Timeframe.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.StartTime < 0 {
		errs = errors.Join(errs, fmt.Errorf("start time cannot be negative"))
	}
	if cfg.MaxFill < 0 {
		errs = errors.Join(errs, fmt.Errorf("max fill cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Synchronizer aligns the candles of several sources onto one timeline, forward filling
// periods a source has no data for.
type Synchronizer struct {
	cfg      *SynchronizerConfig
	period   int64
	previous []shared.Candle
	fills    []int
	started  bool
}

// NewSynchronizer initializes a new candle synchronizer.
func NewSynchronizer(cfg *SynchronizerConfig) (*Synchronizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	return &Synchronizer{
		cfg:      cfg,
		period:   cfg.Timeframe.Period(),
		previous: make([]shared.Candle, len(cfg.Sources)),
		fills:    make([]int, len(cfg.Sources)),
	}, nil
}

// step fetches the candle following the provided candle of the source at the provided
// index, synthesizing a filler candle when the source has no data for the next period.
func (s *Synchronizer) step(ctx context.Context, idx int, prev shared.Candle) (shared.Candle, error) {
	market := s.cfg.Markets[idx]
	baseline := prev.Real()

	next, err := s.cfg.Sources[idx].FetchNext(ctx, &baseline)
	if err != nil {
		return shared.Candle{}, fmt.Errorf("fetching %s candle after %d: %w", market.ID(), baseline.Timestamp, err)
	}

	expected := prev.Timestamp + s.period
	switch {
	case next.Timestamp == expected:
		s.fills[idx] = 0
		return next, nil

	case next.Timestamp > expected && (next.Timestamp-prev.Timestamp)%s.period != 0:
		return shared.Candle{}, fmt.Errorf("%w: %s candle at %d is not aligned to %s periods from %d",
			shared.ErrUpstreamGap, market.ID(), next.Timestamp, s.cfg.Timeframe.String(), prev.Timestamp)
	}

	s.fills[idx]++
	if s.cfg.MaxFill > 0 && s.fills[idx] > s.cfg.MaxFill {
		return shared.Candle{}, fmt.Errorf("%w: %s produced no real candle for %d periods after %d",
			shared.ErrUpstreamGap, market.ID(), s.cfg.MaxFill, baseline.Timestamp)
	}

	filler := market.Synthesize(prev, expected)
	if filler.Timestamp != expected {
		return shared.Candle{}, fmt.Errorf("%w: %s filler candle at %d, expected %d",
			shared.ErrUpstreamGap, market.ID(), filler.Timestamp, expected)
	}

	s.cfg.Logger.Debug().Msgf("filling %s gap at %d (received %d)", market.ID(), expected, next.Timestamp)

	return filler, nil
}

// bootstrap fetches the first candle of every source and catches every source up to
// the latest of them.
func (s *Synchronizer) bootstrap(ctx context.Context) error {
	candles := make([]shared.Candle, len(s.cfg.Sources))

	g, gctx := errgroup.WithContext(ctx)
	for idx := range s.cfg.Sources {
		g.Go(func() error {
			var candle shared.Candle
			var err error
			switch {
			case s.cfg.StartTime > 0:
				candle, err = s.cfg.Sources[idx].FetchAt(gctx, s.cfg.StartTime)
			default:
				candle, err = s.cfg.Sources[idx].FetchNext(gctx, nil)
			}
			if err != nil {
				return fmt.Errorf("bootstrapping %s: %w", s.cfg.Markets[idx].ID(), err)
			}

			candles[idx] = candle
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	maxTs := candles[0].Timestamp
	for idx := range candles {
		maxTs = max(maxTs, candles[idx].Timestamp)
	}

	g, gctx = errgroup.WithContext(ctx)
	for idx := range s.cfg.Sources {
		g.Go(func() error {
			for candles[idx].Timestamp < maxTs {
				candle, err := s.step(gctx, idx, candles[idx])
				if err != nil {
					return fmt.Errorf("catching up: %w", err)
				}
				candles[idx] = candle
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for idx := range candles {
		if candles[idx].Timestamp != maxTs {
			return fmt.Errorf("%w: %s caught up to %d, expected %d", shared.ErrUpstreamGap,
				s.cfg.Markets[idx].ID(), candles[idx].Timestamp, maxTs)
		}
	}

	s.cfg.Logger.Info().Msgf("synchronized %d markets at %d", len(candles), maxTs)

	copy(s.previous, candles)
	return nil
}

// advance steps every source once.
func (s *Synchronizer) advance(ctx context.Context) error {
	candles := make([]shared.Candle, len(s.cfg.Sources))

	g, gctx := errgroup.WithContext(ctx)
	for idx := range s.cfg.Sources {
		g.Go(func() error {
			candle, err := s.step(gctx, idx, s.previous[idx])
			if err != nil {
				return err
			}

			candles[idx] = candle
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	expected := s.previous[0].Timestamp + s.period
	for idx := range candles {
		if candles[idx].Timestamp != expected {
			return fmt.Errorf("%w: %s advanced to %d, expected %d", shared.ErrUpstreamGap,
				s.cfg.Markets[idx].ID(), candles[idx].Timestamp, expected)
		}
	}

	copy(s.previous, candles)
	return nil
}

// Next returns the next synchronized tick. The first call bootstraps the synchronizer.
func (s *Synchronizer) Next(ctx context.Context) (shared.Tick, error) {
	var err error
	switch s.started {
	case false:
		err = s.bootstrap(ctx)
		if err == nil {
			s.started = true
		}
	case true:
		err = s.advance(ctx)
	}
	if err != nil {
		return shared.Tick{}, err
	}

	candles := make([]shared.Candle, len(s.previous))
	copy(candles, s.previous)

	return shared.Tick{
		Timestamp: candles[0].Timestamp,
		Candles:   candles,
	}, nil
}
