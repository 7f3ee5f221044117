package config

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Record.TimeoutSeconds <= 0 {
		c.Record.TimeoutSeconds = 15
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		c.Exchange.TimeoutSeconds = 10
	}
	if c.Health.Tier == "" {
		c.Health.Tier = "standard"
	}
	if c.Health.WindowMinutes <= 0 {
		c.Health.WindowMinutes = 15
	}
	if c.Health.DebounceSeconds <= 0 {
		c.Health.DebounceSeconds = 3
	}
	if c.Health.CriticalDelaySeconds <= 0 {
		c.Health.CriticalDelaySeconds = 1
	}
	if c.Reconcile.IntervalSeconds <= 0 {
		c.Reconcile.IntervalSeconds = 300
	}
	if c.Reconcile.JitterSeconds < 0 {
		c.Reconcile.JitterSeconds = 0
	}
	if c.Reconcile.QtyTolerancePct <= 0 {
		c.Reconcile.QtyTolerancePct = 0.5
	}
	if c.Reconcile.MaxConsecutiveErrors <= 0 {
		c.Reconcile.MaxConsecutiveErrors = 10
	}
	if c.Reconcile.ErrorBackoffSeconds <= 0 {
		c.Reconcile.ErrorBackoffSeconds = 30
	}
	if c.Journal.RetryAttempts <= 0 {
		c.Journal.RetryAttempts = 3
	}
	if c.Journal.RetryBaseMS <= 0 {
		c.Journal.RetryBaseMS = 500
	}
	if c.Journal.RetryMaxMS <= 0 {
		c.Journal.RetryMaxMS = 8000
	}
	if c.Journal.BreakThreshold <= 0 {
		c.Journal.BreakThreshold = 5
	}
	if c.Journal.BreakCooldownS <= 0 {
		c.Journal.BreakCooldownS = 60
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8433"
	}
	if c.Store.EventLogPath == "" {
		c.Store.EventLogPath = "data/keel_events.db"
	}
}
