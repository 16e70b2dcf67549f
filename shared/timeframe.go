package shared

import (
	"fmt"
	"time"
)

// Timeframe represents the candle period length in minutes.
type Timeframe int

const (
	OneMinute     Timeframe = 1
	ThreeMinute   Timeframe = 3
	FiveMinute    Timeframe = 5
	TenMinute     Timeframe = 10
	FifteenMinute Timeframe = 15
	ThirtyMinute  Timeframe = 30
	OneHour       Timeframe = 60
	SixHour       Timeframe = 360
	TwelveHour    Timeframe = 720
	OneDay        Timeframe = 1440
)

// millisInMinute is the number of milliseconds in a minute.
const millisInMinute = int64(time.Minute / time.Millisecond)

// Validate asserts the timeframe is one of the supported candle periods.
func (t Timeframe) Validate() error {
	switch t {
	case OneMinute, ThreeMinute, FiveMinute, TenMinute, FifteenMinute,
		ThirtyMinute, OneHour, SixHour, TwelveHour, OneDay:
		return nil
	default:
		return fmt.Errorf("%w: unsupported timeframe %d", ErrValidation, int(t))
	}
}

// Period returns the timeframe length in milliseconds.
func (t Timeframe) Period() int64 {
	return int64(t) * millisInMinute
}

// String stringifies the provided timeframe.
func (t Timeframe) String() string {
	switch {
	case t >= OneDay && int(t)%int(OneDay) == 0:
		return fmt.Sprintf("%dD", int(t/OneDay))
	case t >= OneHour && int(t)%int(OneHour) == 0:
		return fmt.Sprintf("%dh", int(t/OneHour))
	default:
		return fmt.Sprintf("%dm", int(t))
	}
}

// Align floors the provided millisecond timestamp to the start of its period.
func (t Timeframe) Align(ts int64) int64 {
	period := t.Period()
	if period == 0 {
		return ts
	}

	return ts - (ts % period)
}
