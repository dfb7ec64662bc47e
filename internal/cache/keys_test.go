package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"perpcore/internal/config"
)

func TestStateKey(t *testing.T) {
	assert.Equal(t, "perpcore:state:scalp/control", StateKey("scalp", "control"))
	assert.Equal(t, "perpcore:state", formatKey("state", " "))
}

func TestTTLSet(t *testing.T) {
	ttl := NewTTLSet(config.CacheTTL{Short: 0, Medium: 30, Long: -1})
	assert.Equal(t, 10*time.Second, ttl.Duration(TTLShort))
	assert.Equal(t, 30*time.Second, ttl.Duration(TTLMedium))
	assert.Zero(t, ttl.Duration(TTLLong))
	assert.Zero(t, ttl.Duration("weekly"))
	assert.Zero(t, StateTTL(ttl))

	assert.Equal(t, 5*time.Minute, StateTTL(NewTTLSet(config.CacheTTL{})))
}
