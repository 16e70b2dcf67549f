package shared

// Tick is one synchronized timestamp across every market of a bot, holding one candle
// per market in market order.
type Tick struct {
	Timestamp int64
	Candles   []Candle
}

// ByID indexes the tick candles by the provided markets' ids.
func (t *Tick) ByID(markets []Market) map[string]Candle {
	candles := make(map[string]Candle, len(markets))
	for idx := range markets {
		if idx >= len(t.Candles) {
			break
		}
		candles[markets[idx].ID()] = t.Candles[idx]
	}

	return candles
}
