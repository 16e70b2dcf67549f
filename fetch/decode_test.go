package fetch

import (
	"errors"
	"testing"

	"github.com/dnldd/candlebot/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/tidwall/gjson"
)

func TestDecodeCandle(t *testing.T) {
	tests := []struct {
		name     string
		exchange shared.Exchange
		data     string
		want     shared.Candle
		wantErr  bool
	}{
		{
			name:     "bitfinex array",
			exchange: shared.ExchangeBitfinex,
			data:     `[1546300800000, 3800, 3798, 3801, 3797, 1.5]`,
			want:     shared.Candle{Timestamp: 1546300800000, Open: 3800, Close: 3798, High: 3801, Low: 3797, Volume: 1.5},
		},
		{
			name:     "bitfinex short array",
			exchange: shared.ExchangeBitfinex,
			data:     `[1546300800000, 3800, 3798]`,
			wantErr:  true,
		},
		{
			name:     "binance kline",
			exchange: shared.ExchangeBinance,
			data:     `[1546300800000, "3801.00", "3802.00", "3799.00", "3800.00", "3.0000", 1546300859999, "0", 10]`,
			want:     shared.Candle{Timestamp: 1546300800000, Open: 3801, High: 3802, Low: 3799, Close: 3800, Volume: 3},
		},
		{
			name:     "binance non numeric",
			exchange: shared.ExchangeBinance,
			data:     `[1546300800000, "abc", "3802.00", "3799.00", "3800.00", "3.0000"]`,
			wantErr:  true,
		},
		{
			name:     "bithumb object with misspelt high",
			exchange: shared.ExchangeBithumb,
			data:     `{"mts":"60000","open":"10","close":"11","hight":"12","low":"9","volume":"0.5","cont_no":null}`,
			want: shared.Candle{Timestamp: 60000, Open: 10, Close: 11, High: 12, Low: 9, Volume: 0.5,
				Continuation: &shared.Continuation{}},
		},
		{
			name:     "bithumb array",
			exchange: shared.ExchangeBithumb,
			data:     `[60000, 10, 11, 12, 9, 0.5]`,
			wantErr:  true,
		},
		{
			name:     "unknown exchange",
			exchange: shared.Exchange("upbit"),
			data:     `[60000, 10, 11, 12, 9, 0.5]`,
			wantErr:  true,
		},
	}

	for _, test := range tests {
		candle, err := DecodeCandle(test.exchange, gjson.Parse(test.data))
		if test.wantErr {
			if !errors.Is(err, shared.ErrValidation) {
				t.Errorf("%s: expected a validation error, got %v", test.name, err)
			}
			continue
		}

		if err != nil {
			t.Errorf("%s: unexpected error %v", test.name, err)
			continue
		}

		if candle.Timestamp != test.want.Timestamp || candle.Open != test.want.Open ||
			candle.High != test.want.High || candle.Low != test.want.Low ||
			candle.Close != test.want.Close || candle.Volume != test.want.Volume {
			t.Errorf("%s: expected %+v, got %+v", test.name, test.want, candle)
		}
		if (candle.Continuation == nil) != (test.want.Continuation == nil) {
			t.Errorf("%s: unexpected continuation %+v", test.name, candle.Continuation)
		}
	}
}

func TestDecodeBithumbContinuation(t *testing.T) {
	data := `{"mts":"60000","open":"10","close":"11","high":"12","low":"9","volume":"0.5",
		"cont_no":"100","last_cont_no":102,"next_cont_no":"103"}`

	// Ensure continuation ids are decoded from strings and numbers alike.
	candle, err := DecodeCandle(shared.ExchangeBithumb, gjson.Parse(data))
	assert.NoError(t, err)
	assert.NotNil(t, candle.Continuation)
	assert.Equal(t, *candle.Continuation.ContNo, int64(100))
	assert.Equal(t, *candle.Continuation.LastContNo, int64(102))
	assert.Equal(t, *candle.Continuation.NextContNo, int64(103))

	// Ensure malformed continuation ids are rejected.
	_, err = DecodeCandle(shared.ExchangeBithumb, gjson.Parse(`{"mts":"60000","open":"10","close":"11",
		"high":"12","low":"9","volume":"0.5","cont_no":"x"}`))
	assert.Error(t, err)
}

func TestDecodeCandles(t *testing.T) {
	// Ensure arrays of candles can be decoded.
	candles, err := DecodeCandles(shared.ExchangeBitfinex,
		gjson.Parse(`[[0, 1, 2, 3, 0.5, 1], [60000, 2, 3, 4, 1, 2]]`))
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 2)
	assert.Equal(t, candles[1].Timestamp, int64(60000))

	// Ensure non array payloads are rejected.
	_, err = DecodeCandles(shared.ExchangeBitfinex, gjson.Parse(`{"mts":0}`))
	assert.Error(t, err)

	// Ensure a single bad candle fails the batch.
	_, err = DecodeCandles(shared.ExchangeBitfinex, gjson.Parse(`[[0, 1, 2, 3, 0.5, 1], [60000]]`))
	assert.Error(t, err)
}
