package shared

// Sentiment represents the candle sentiment.
type Sentiment int

const (
	Neutral Sentiment = iota
	Bullish
	Bearish
)

// String stringifies the provided sentiment.
func (s Sentiment) String() string {
	switch s {
	case Neutral:
		return "neutral"
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "unknown"
	}
}

// Continuation holds the trade continuation ids some exchanges attach to their candles.
// Synthetic candles of those exchanges carry an empty continuation.
type Continuation struct {
	ContNo     *int64 `json:"cont_no"`
	LastContNo *int64 `json:"last_cont_no"`
	NextContNo *int64 `json:"next_cont_no"`
}

// Candle represents a unit candle for a market. Timestamps are period-aligned
// unix milliseconds.
type Candle struct {
	Timestamp int64   `json:"mts"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`

	// Continuation is only set for candles of exchanges that report trade continuation ids.
	Continuation *Continuation `json:"continuation,omitempty"`
	// Baseline is the last real candle a synthetic candle was derived from, nil for real candles.
	Baseline *Candle `json:"baseline,omitempty"`
}

// IsSynthetic returns whether the candle is a filler for a period without real data.
func (c *Candle) IsSynthetic() bool {
	return c.Baseline != nil
}

// Real returns the last real candle backing the provided candle.
func (c *Candle) Real() Candle {
	if c.Baseline != nil {
		return *c.Baseline
	}

	return *c
}

// FetchSentiment returns the provided candle's sentiment.
func (c *Candle) FetchSentiment() Sentiment {
	sentiment := c.Close - c.Open
	switch {
	case sentiment < 0:
		return Bearish
	case sentiment > 0:
		return Bullish
	default:
		return Neutral
	}
}

// FetchChange returns the sentiment of the move from the previous candle's close
// to the current candle's close.
func FetchChange(current *Candle, prev *Candle) Sentiment {
	if prev == nil {
		return Neutral
	}

	change := current.Close - prev.Close
	switch {
	case change < 0:
		return Bearish
	case change > 0:
		return Bullish
	default:
		return Neutral
	}
}

// NewSyntheticCandle derives the flat filler candle at the provided timestamp from the
// previous candle. The baseline always points at the last real candle.
func NewSyntheticCandle(prev Candle, ts int64) Candle {
	baseline := prev.Real()
	return Candle{
		Timestamp: ts,
		Open:      prev.Close,
		High:      prev.Close,
		Low:       prev.Close,
		Close:     prev.Close,
		Volume:    0,
		Baseline:  &baseline,
	}
}
