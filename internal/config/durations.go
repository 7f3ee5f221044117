package config

import "time"

func (c RecordConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ExchangeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c HealthConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

func (c HealthConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds * float64(time.Second))
}

func (c HealthConfig) CriticalDelay() time.Duration {
	return time.Duration(c.CriticalDelaySeconds * float64(time.Second))
}

func (c ReconcileConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c ReconcileConfig) Jitter() time.Duration {
	return time.Duration(c.JitterSeconds) * time.Second
}

func (c ReconcileConfig) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffSeconds) * time.Second
}

func (c JournalConfig) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMS) * time.Millisecond
}

func (c JournalConfig) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMS) * time.Millisecond
}

func (c JournalConfig) BreakCooldown() time.Duration {
	return time.Duration(c.BreakCooldownS) * time.Second
}
