package shared

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestTimeframeString(t *testing.T) {
	tests := []struct {
		name      string
		timeframe Timeframe
		want      string
	}{
		{
			"One Minute",
			OneMinute,
			"1m",
		},
		{
			"Thirty Minute",
			ThirtyMinute,
			"30m",
		},
		{
			"One Hour",
			OneHour,
			"1h",
		},
		{
			"Twelve Hour",
			TwelveHour,
			"12h",
		},
		{
			"One Day",
			OneDay,
			"1D",
		},
	}

	for _, test := range tests {
		str := test.timeframe.String()
		if str != test.want {
			t.Errorf("%s: expected %v, got %v", test.name, test.want, str)
		}
	}
}

func TestTimeframePeriod(t *testing.T) {
	// Ensure periods are expressed in milliseconds.
	assert.Equal(t, OneMinute.Period(), int64(60000))
	assert.Equal(t, FiveMinute.Period(), int64(300000))
	assert.Equal(t, OneDay.Period(), int64(86400000))

	// Ensure timestamps can be aligned to the start of their period.
	assert.Equal(t, FiveMinute.Align(300000*7+1234), int64(300000*7))
	assert.Equal(t, FiveMinute.Align(300000*7), int64(300000*7))
}

func TestTimeframeValidate(t *testing.T) {
	// Ensure supported timeframes validate.
	assert.NoError(t, OneMinute.Validate())
	assert.NoError(t, OneDay.Validate())

	// Ensure unsupported timeframes are validation errors.
	err := Timeframe(7).Validate()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	err = Timeframe(0).Validate()
	assert.Error(t, err)
}
