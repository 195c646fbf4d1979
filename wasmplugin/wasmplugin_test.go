package wasmplugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newBarePlugin(limits Limits) *Plugin {
	if limits.MaxConcurrent <= 0 {
		limits.MaxConcurrent = 1
	}
	return &Plugin{
		id:     "test-plugin",
		limits: limits,
		sem:    make(chan struct{}, limits.MaxConcurrent),
		health: HealthHealthy,
	}
}

func TestHealthStaysHealthyUntilThreshold(t *testing.T) {
	p := newBarePlugin(Limits{})
	p.recordFailure()
	assert.Equal(t, HealthHealthy, p.Health())
}

func TestFourthConsecutiveFailureFlipsUnhealthy(t *testing.T) {
	p := newBarePlugin(Limits{})
	for i := 0; i < unhealthyThreshold-1; i++ {
		p.recordFailure()
		assert.NotEqual(t, HealthUnhealthy, p.Health(), "should not be unhealthy before the %dth failure", unhealthyThreshold)
	}
	p.recordFailure()
	assert.Equal(t, HealthUnhealthy, p.Health())
}

func TestInvokeRejectsWithoutExecutingGuestOnceUnhealthy(t *testing.T) {
	p := newBarePlugin(Limits{})
	for i := 0; i < unhealthyThreshold; i++ {
		p.recordFailure()
	}
	assert.Equal(t, HealthUnhealthy, p.Health())

	// Invoke must reject before ever touching p.module, which is nil here;
	// a nil-pointer dereference would mean the guest-call path was reached.
	_, err := p.Invoke(context.Background(), "handle", nil)
	assert.ErrorIs(t, err, ErrUnhealthy)
}

func TestSuccessDecaysFailureCountBackToHealthy(t *testing.T) {
	p := newBarePlugin(Limits{})
	p.recordFailure()
	p.recordFailure()
	assert.Equal(t, HealthDegraded, p.Health())

	p.recordSuccess()
	p.recordSuccess()
	assert.Equal(t, HealthHealthy, p.Health())
}

func TestExceedsMemoryPages(t *testing.T) {
	assert.False(t, exceedsMemoryPages(10*wasmPageSize, 0), "0 limit means unbounded")
	assert.False(t, exceedsMemoryPages(10*wasmPageSize, 10))
	assert.True(t, exceedsMemoryPages(11*wasmPageSize, 10))
}
