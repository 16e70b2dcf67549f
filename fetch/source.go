package fetch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dnldd/candlebot/shared"
)

// ErrExhausted is returned by a candle source with no more candles to supply.
var ErrExhausted = errors.New("candle source exhausted")

// CandleSource supplies the candles of one market.
type CandleSource interface {
	// FetchNext returns the candle following the provided candle, or the first
	// available candle if none is provided.
	FetchNext(ctx context.Context, prev *shared.Candle) (shared.Candle, error)
	// FetchAt returns the first candle at or after the provided timestamp.
	FetchAt(ctx context.Context, ts int64) (shared.Candle, error)
}

// SourceFactory creates the candle source for the provided market and timeframe.
type SourceFactory func(market shared.Market, timeframe shared.Timeframe) (CandleSource, error)

// SliceSource serves candles held in memory.
type SliceSource struct {
	candles    []shared.Candle
	candlesMtx sync.RWMutex
}

// Ensure SliceSource implements the CandleSource interface.
var _ CandleSource = (*SliceSource)(nil)

// NewSliceSource initializes a candle source over the provided candles. The candles are
// sorted by timestamp and duplicate timestamps keep the first candle.
func NewSliceSource(candles []shared.Candle) *SliceSource {
	sorted := slices.Clone(candles)
	slices.SortStableFunc(sorted, func(a, b shared.Candle) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	})
	sorted = slices.CompactFunc(sorted, func(a, b shared.Candle) bool {
		return a.Timestamp == b.Timestamp
	})

	return &SliceSource{candles: sorted}
}

// search returns the index of the first candle at or after the provided timestamp.
func (s *SliceSource) search(ts int64) int {
	idx, _ := slices.BinarySearchFunc(s.candles, ts, func(c shared.Candle, ts int64) int {
		switch {
		case c.Timestamp < ts:
			return -1
		case c.Timestamp > ts:
			return 1
		default:
			return 0
		}
	})

	return idx
}

// FetchNext returns the first candle strictly after the provided candle.
func (s *SliceSource) FetchNext(ctx context.Context, prev *shared.Candle) (shared.Candle, error) {
	if err := ctx.Err(); err != nil {
		return shared.Candle{}, err
	}

	s.candlesMtx.RLock()
	defer s.candlesMtx.RUnlock()

	idx := 0
	if prev != nil {
		idx = s.search(prev.Timestamp + 1)
	}
	if idx >= len(s.candles) {
		return shared.Candle{}, ErrExhausted
	}

	return s.candles[idx], nil
}

// FetchAt returns the first candle at or after the provided timestamp.
func (s *SliceSource) FetchAt(ctx context.Context, ts int64) (shared.Candle, error) {
	if err := ctx.Err(); err != nil {
		return shared.Candle{}, err
	}

	s.candlesMtx.RLock()
	defer s.candlesMtx.RUnlock()

	idx := s.search(ts)
	if idx >= len(s.candles) {
		return shared.Candle{}, fmt.Errorf("no candle at or after %d: %w", ts, ErrExhausted)
	}

	return s.candles[idx], nil
}

// Len returns the number of candles held.
func (s *SliceSource) Len() int {
	s.candlesMtx.RLock()
	defer s.candlesMtx.RUnlock()

	return len(s.candles)
}

// Bounds returns the first and last candle timestamps held.
func (s *SliceSource) Bounds() (int64, int64) {
	s.candlesMtx.RLock()
	defer s.candlesMtx.RUnlock()

	if len(s.candles) == 0 {
		return 0, 0
	}

	return s.candles[0].Timestamp, s.candles[len(s.candles)-1].Timestamp
}
