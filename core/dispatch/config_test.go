package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, 10*time.Second, c.sweepInterval())
	assert.Equal(t, 120*time.Second, c.ackTimeout())
	assert.Equal(t, 60*time.Second, c.cancelTimeout())
	assert.Equal(t, 4, c.TelemetryWorkers)
	assert.Equal(t, "nearest", c.Selector)
	assert.NoError(t, c.Validate())

	c = Config{SweepIntervalSeconds: 2}
	c.SetDefaults()
	assert.Equal(t, 2*time.Second, c.sweepInterval())
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{TelemetryWorkers: -1}.Validate())
	assert.Error(t, Config{CancelTimeoutSeconds: -5}.Validate())
}
