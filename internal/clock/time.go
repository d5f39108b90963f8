package clock

import (
	"fmt"
	"time"
)

// Time is a logical instant: milliseconds since the Unix epoch.
//
// The engine does all batch-boundary arithmetic on this type instead of
// time.Time so instants stay exact, totally ordered and usable as map keys.
type Time int64

// Now returns the current wall-clock instant.
func Now() Time { return FromTime(time.Now()) }

// FromTime converts a time.Time, truncating to millisecond precision.
func FromTime(t time.Time) Time { return Time(t.UnixMilli()) }

func (t Time) Milliseconds() int64 { return int64(t) }

func (t Time) ToTime() time.Time { return time.UnixMilli(int64(t)) }

func (t Time) Add(d time.Duration) Time { return t + Time(d.Milliseconds()) }

// Since returns the duration elapsed from o to t.
func (t Time) Since(o Time) time.Duration {
	return time.Duration(int64(t)-int64(o)) * time.Millisecond
}

func (t Time) Before(o Time) bool { return t < o }
func (t Time) After(o Time) bool  { return t > o }

// IsMultipleOf reports whether t falls on the grid of the given period.
func (t Time) IsMultipleOf(period time.Duration) bool {
	p := period.Milliseconds()
	if p <= 0 {
		return false
	}
	return int64(t)%p == 0
}

// Floor rounds t down to the nearest multiple of period.
func (t Time) Floor(period time.Duration) Time {
	p := period.Milliseconds()
	return Time(floorDiv(int64(t), p) * p)
}

func (t Time) String() string {
	return fmt.Sprintf("%d ms", int64(t))
}

// floorDiv rounds toward negative infinity, unlike Go's / which truncates.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
