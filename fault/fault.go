// Package fault implements the Fault/Latency Injector: configurable
// latency draws and probabilistic fault injection applied before a
// response is returned.
//
// Latency sleeps are real wall-clock waits that honor context
// cancellation. When the Injector's clock has a scale factor other than
// 1, the drawn delay is divided by that factor; advancing or setting the
// virtual time does not shorten or end a sleep already in progress.
package fault

import (
	"context"
	"math/rand"
	"time"

	"github.com/mockforge/core/vclock"
)

// Distribution names a latency draw shape.
type Distribution string

const (
	DistributionFixed       Distribution = "FIXED"
	DistributionUniform     Distribution = "UNIFORM"
	DistributionExponential Distribution = "EXPONENTIAL"
)

// LatencyConfig configures one latency injection.
type LatencyConfig struct {
	Distribution Distribution
	Fixed        time.Duration
	Min          time.Duration
	Max          time.Duration
	MeanExp      time.Duration // mean for exponential distribution
}

// Draw samples a latency duration from cfg using rnd.
func (c LatencyConfig) Draw(rnd *rand.Rand) time.Duration {
	switch c.Distribution {
	case DistributionUniform:
		if c.Max <= c.Min {
			return c.Min
		}
		span := c.Max - c.Min
		return c.Min + time.Duration(rnd.Int63n(int64(span)))
	case DistributionExponential:
		if c.MeanExp <= 0 {
			return 0
		}
		return time.Duration(rnd.ExpFloat64() * float64(c.MeanExp))
	default:
		return c.Fixed
	}
}

// FaultConfig configures probabilistic fault injection: with probability
// Probability, the request should be aborted with Status instead of
// proceeding normally.
type FaultConfig struct {
	Probability float64 // 0..1
	Status      int
	Message     string
}

// ShouldFault reports whether a fault should be injected this call,
// consulting rnd.
func (c FaultConfig) ShouldFault(rnd *rand.Rand) bool {
	if c.Probability <= 0 {
		return false
	}
	if c.Probability >= 1 {
		return true
	}
	return rnd.Float64() < c.Probability
}

// Injector applies latency and fault configs against a virtual clock.
type Injector struct {
	clock *vclock.Clock
	rnd   *rand.Rand
}

// New builds an Injector bound to clock. If clock is nil, Sleep waits for
// the unscaled draw.
func New(clock *vclock.Clock, seed int64) *Injector {
	return &Injector{clock: clock, rnd: rand.New(rand.NewSource(seed))}
}

// Sleep draws a latency from cfg and sleeps for it, honoring ctx
// cancellation. When the bound clock has time travel enabled, the sleep
// is still a real wall-clock wait (virtual time does not make network
// calls return early) but the draw itself can be scaled by recomputing
// against the clock's reported scale factor, so tests that speed up
// virtual time also see proportionally shorter injected latency.
func (inj *Injector) Sleep(ctx context.Context, cfg LatencyConfig) error {
	d := cfg.Draw(inj.rnd)
	if inj.clock != nil {
		if scale := inj.clock.Scale(); scale > 0 && scale != 1.0 {
			d = time.Duration(float64(d) / scale)
		}
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MaybeFault draws against cfg and reports whether a fault should be
// injected.
func (inj *Injector) MaybeFault(cfg FaultConfig) bool {
	return cfg.ShouldFault(inj.rnd)
}
