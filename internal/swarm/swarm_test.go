package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/storynode/core/internal/config"
)

func TestConnmgrForDerivesBoundsFromMaxEstablishedTotal(t *testing.T) {
	cfg := config.Network{MaxEstablishedTotal: 128, IdleConnectionTimeoutSec: 60}
	cm, err := connmgrFor(cfg)
	assert.NoError(t, err)
	assert.NotNil(t, cm)
	assert.Equal(t, 64, cm.GetInfo().LowWater)
	assert.Equal(t, 128, cm.GetInfo().HighWater)
}

func TestConnmgrForFloorsLowWatermarkAtOne(t *testing.T) {
	cfg := config.Network{MaxEstablishedTotal: 0, IdleConnectionTimeoutSec: 0}
	cm, err := connmgrFor(cfg)
	assert.NoError(t, err)
	assert.NotNil(t, cm)
	assert.Equal(t, 1, cm.GetInfo().LowWater)
}
