package round

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var minMultiplier = decimal.NewFromInt(1)

// Clock maps elapsed time to the multiplier: m(t) = floor(100 * e^(rate*t)) / 100.
// It is a pure function of (startedAt, now), so any cashout can be replayed from the
// persisted start time.
type Clock struct {
	rate float64
	now  func() time.Time
}

func NewClock(rate float64) *Clock {
	return &Clock{rate: rate, now: time.Now}
}

// NewClockAt uses a custom time source.
func NewClockAt(rate float64, now func() time.Time) *Clock {
	return &Clock{rate: rate, now: now}
}

func (c *Clock) Now() time.Time {
	return c.now().UTC()
}

// MultiplierAt is the uncapped curve value after elapsed.
func (c *Clock) MultiplierAt(elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return minMultiplier
	}
	x := math.Exp(c.rate * elapsed.Seconds())
	if math.IsInf(x, 0) || x > 1e12 {
		x = 1e12
	}
	cents := math.Floor(x*100 + 1e-9)
	m := decimal.New(int64(cents), -2)
	if m.LessThan(minMultiplier) {
		return minMultiplier
	}
	return m
}

// CrashAfter is the elapsed time at which the curve reaches target.
func (c *Clock) CrashAfter(target decimal.Decimal) time.Duration {
	t := target.InexactFloat64()
	if t <= 1 {
		return 0
	}
	return time.Duration(math.Log(t) / c.rate * float64(time.Second))
}

// At returns the multiplier at instant at, capped at target, and whether the round
// has crashed by then. crashed is true exactly when the curve value reaches target,
// so a returned multiplier below target is always a valid cashout point.
func (c *Clock) At(startedAt time.Time, target decimal.Decimal, at time.Time) (decimal.Decimal, bool) {
	m := c.MultiplierAt(at.Sub(startedAt))
	if m.GreaterThanOrEqual(target) {
		return target, true
	}
	return m, false
}

// Current is At evaluated now.
func (c *Clock) Current(startedAt time.Time, target decimal.Decimal) (decimal.Decimal, bool) {
	return c.At(startedAt, target, c.Now())
}
