package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/edged/internal/config"
)

func TestDelayExponential(t *testing.T) {
	p := NewPolicy(config.RetryBackoffExponential, time.Second, time.Minute, 5)
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 1*time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	// capped
	assert.Equal(t, time.Minute, p.Delay(10))
}

func TestDelayLinear(t *testing.T) {
	p := NewPolicy(config.RetryBackoffLinear, 2*time.Second, 5*time.Second, 5)
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(3)) // capped
}

func TestDelayFixed(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, 3*time.Second, time.Minute, 5)
	for i := 1; i < 6; i++ {
		assert.Equal(t, 3*time.Second, p.Delay(i))
	}
}

func TestExhausted(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Second, time.Minute, 3)
	assert.False(t, p.Exhausted(0))
	assert.False(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}

func TestNewPolicyFallsBackToDefaults(t *testing.T) {
	p := NewPolicy("", 0, 0, 0)
	assert.Equal(t, DefaultPolicy(), p)

	p = NewPolicy("bogus", 0, 0, 0)
	assert.Equal(t, config.RetryBackoffExponential, p.Mode)
}

func TestInitialClampedToMax(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Minute, time.Second, 1)
	assert.Equal(t, time.Second, p.Initial)
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.LifecycleConfig{
		MaxRetries:        7,
		RetryBackoff:      config.RetryBackoffLinear,
		RetryInitialDelay: "500ms",
		RetryMaxDelay:     "10s",
	})
	assert.Equal(t, 7, p.MaxRetries)
	assert.Equal(t, config.RetryBackoffLinear, p.Mode)
	assert.Equal(t, 500*time.Millisecond, p.Initial)
	assert.Equal(t, 10*time.Second, p.Max)
	assert.NoError(t, p.Validate())
}
