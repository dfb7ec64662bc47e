// Package cache names the redis keys and TTLs used by the service.
package cache

import (
	"fmt"
	"strings"
	"time"

	"perpcore/internal/config"
)

// Namespace is the Redis key prefix for the service.
const Namespace = "perpcore"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

func formatKey(parts ...string) string {
	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, Namespace)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, ":")
}

// StateKey caches one strategy-state payload. The owner/key pair keeps the
// slash form used by the store.
func StateKey(owner, key string) string {
	return formatKey("state", fmt.Sprintf("%s/%s", owner, key))
}

// StateTTL is how long a cached state payload stays valid. Writes go
// through, so the TTL only bounds memory.
func StateTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}
