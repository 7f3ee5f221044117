package health

import (
	"strings"
	"time"
)

// Tier profiles control how often routine evidence flushes go out. Holding a
// position tightens the cadence.
const DefaultTier = "standard"

var flushIntervalsOutOfPosition = map[string]time.Duration{
	"fast_5s":   60 * time.Second,
	"ultra_15s": 90 * time.Second,
	"fast_30s":  120 * time.Second,
	"standard":  180 * time.Second,
}

var flushIntervalsInPosition = map[string]time.Duration{
	"fast_5s":   20 * time.Second,
	"ultra_15s": 45 * time.Second,
	"fast_30s":  75 * time.Second,
	"standard":  150 * time.Second,
}

func NormalizeTier(tier string) string {
	normalized := strings.ToLower(strings.TrimSpace(tier))
	if _, ok := flushIntervalsOutOfPosition[normalized]; ok {
		return normalized
	}
	return DefaultTier
}

func FlushInterval(tier string, inPosition bool) time.Duration {
	table := flushIntervalsOutOfPosition
	if inPosition {
		table = flushIntervalsInPosition
	}
	if d, ok := table[NormalizeTier(tier)]; ok {
		return d
	}
	return table[DefaultTier]
}
