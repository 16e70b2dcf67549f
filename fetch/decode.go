package fetch

import (
	"fmt"
	"strconv"

	"github.com/dnldd/candlebot/shared"
	"github.com/tidwall/gjson"
)

// decodeFloat decodes a numeric field that exchanges may send as a number or a numeric string.
func decodeFloat(data gjson.Result, field string) (float64, error) {
	switch data.Type {
	case gjson.Number:
		return data.Num, nil
	case gjson.String:
		v, err := strconv.ParseFloat(data.Str, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not numeric: %q", shared.ErrValidation, field, data.Str)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: %s is missing or not numeric: %s", shared.ErrValidation, field, data.Raw)
	}
}

// decodeInt decodes an integer field that exchanges may send as a number or a numeric string.
func decodeInt(data gjson.Result, field string) (int64, error) {
	switch data.Type {
	case gjson.Number:
		return data.Int(), nil
	case gjson.String:
		v, err := strconv.ParseInt(data.Str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not an integer: %q", shared.ErrValidation, field, data.Str)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: %s is missing or not an integer: %s", shared.ErrValidation, field, data.Raw)
	}
}

// decodeOptionalInt decodes a nullable integer field.
func decodeOptionalInt(data gjson.Result, field string) (*int64, error) {
	if !data.Exists() || data.Type == gjson.Null {
		return nil, nil
	}

	v, err := decodeInt(data, field)
	if err != nil {
		return nil, err
	}

	return &v, nil
}

// decodeOHLCV decodes the provided ordered candle fields.
func decodeOHLCV(fields map[string]gjson.Result, order []string) (shared.Candle, error) {
	var candle shared.Candle
	var err error

	candle.Timestamp, err = decodeInt(fields[order[0]], order[0])
	if err != nil {
		return shared.Candle{}, err
	}

	targets := map[string]*float64{
		"open":   &candle.Open,
		"high":   &candle.High,
		"low":    &candle.Low,
		"close":  &candle.Close,
		"volume": &candle.Volume,
	}
	for _, name := range order[1:] {
		*targets[name], err = decodeFloat(fields[name], name)
		if err != nil {
			return shared.Candle{}, err
		}
	}

	return candle, nil
}

// decodeBitfinex decodes a bitfinex candle, `[mts, open, close, high, low, volume]`.
func decodeBitfinex(data gjson.Result) (shared.Candle, error) {
	if data.IsObject() {
		return decodeObject(data)
	}

	values := data.Array()
	if len(values) < 6 {
		return shared.Candle{}, fmt.Errorf("%w: bitfinex candle needs 6 fields, got %d",
			shared.ErrValidation, len(values))
	}

	order := []string{"mts", "open", "close", "high", "low", "volume"}
	fields := make(map[string]gjson.Result, len(order))
	for idx, name := range order {
		fields[name] = values[idx]
	}

	return decodeOHLCV(fields, order)
}

// decodeBinance decodes a binance kline, `[openTime, open, high, low, close, volume, ...]`.
func decodeBinance(data gjson.Result) (shared.Candle, error) {
	if data.IsObject() {
		return decodeObject(data)
	}

	values := data.Array()
	if len(values) < 6 {
		return shared.Candle{}, fmt.Errorf("%w: binance kline needs at least 6 fields, got %d",
			shared.ErrValidation, len(values))
	}

	order := []string{"mts", "open", "high", "low", "close", "volume"}
	fields := make(map[string]gjson.Result, len(order))
	for idx, name := range order {
		fields[name] = values[idx]
	}

	return decodeOHLCV(fields, order)
}

// decodeBithumb decodes a bithumb candle object with string encoded numbers and
// continuation ids.
func decodeBithumb(data gjson.Result) (shared.Candle, error) {
	if !data.IsObject() {
		return shared.Candle{}, fmt.Errorf("%w: bithumb candle must be an object: %s",
			shared.ErrValidation, data.Raw)
	}

	candle, err := decodeObject(data)
	if err != nil {
		return shared.Candle{}, err
	}

	var cont shared.Continuation
	cont.ContNo, err = decodeOptionalInt(data.Get("cont_no"), "cont_no")
	if err != nil {
		return shared.Candle{}, err
	}
	cont.LastContNo, err = decodeOptionalInt(data.Get("last_cont_no"), "last_cont_no")
	if err != nil {
		return shared.Candle{}, err
	}
	cont.NextContNo, err = decodeOptionalInt(data.Get("next_cont_no"), "next_cont_no")
	if err != nil {
		return shared.Candle{}, err
	}
	candle.Continuation = &cont

	return candle, nil
}

// decodeObject decodes a keyed candle object.
func decodeObject(data gjson.Result) (shared.Candle, error) {
	high := data.Get("high")
	if !high.Exists() {
		// Some crawlers spell it this way.
		high = data.Get("hight")
	}

	fields := map[string]gjson.Result{
		"mts":    data.Get("mts"),
		"open":   data.Get("open"),
		"high":   high,
		"low":    data.Get("low"),
		"close":  data.Get("close"),
		"volume": data.Get("volume"),
	}

	return decodeOHLCV(fields, []string{"mts", "open", "high", "low", "close", "volume"})
}

// DecodeCandle decodes a single candle payload of the provided exchange.
func DecodeCandle(exchange shared.Exchange, data gjson.Result) (shared.Candle, error) {
	switch exchange {
	case shared.ExchangeBithumb:
		return decodeBithumb(data)
	case shared.ExchangeBitfinex:
		return decodeBitfinex(data)
	case shared.ExchangeBinance:
		return decodeBinance(data)
	default:
		return shared.Candle{}, fmt.Errorf("%w: unsupported exchange %q", shared.ErrValidation, exchange)
	}
}

// DecodeCandles decodes an array of candle payloads of the provided exchange.
func DecodeCandles(exchange shared.Exchange, data gjson.Result) ([]shared.Candle, error) {
	if !data.IsArray() {
		return nil, fmt.Errorf("%w: expected an array of candles", shared.ErrValidation)
	}

	values := data.Array()
	candles := make([]shared.Candle, 0, len(values))
	for idx := range values {
		candle, err := DecodeCandle(exchange, values[idx])
		if err != nil {
			return nil, fmt.Errorf("decoding candle %d: %w", idx, err)
		}
		candles = append(candles, candle)
	}

	return candles, nil
}
