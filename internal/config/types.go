package config

// Config is the top-level runtime configuration.
type Config struct {
	App       AppConfig       `toml:"app"`
	Bot       BotConfig       `toml:"bot"`
	Record    RecordConfig    `toml:"record"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Health    HealthConfig    `toml:"health"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Journal   JournalConfig   `toml:"journal"`
	Notify    NotifyConfig    `toml:"notify"`
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

// BotConfig identifies the single bot this process runs for. The reconciler,
// journal and reporter are all scoped to this identity.
type BotConfig struct {
	ID       string `toml:"id"`
	Symbol   string `toml:"symbol"`
	Exchange string `toml:"exchange"`
}

// RecordConfig describes the system-of-record RPC boundary. RuntimeToken is
// the ownership credential; it is passed through on every call and never
// inspected.
type RecordConfig struct {
	BaseURL        string `toml:"base_url"`
	ServiceKey     string `toml:"service_key"`
	RuntimeToken   string `toml:"runtime_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ExchangeConfig struct {
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	Testnet        bool   `toml:"testnet"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// HealthConfig controls the evidence aggregator. Tier selects the flush
// cadence profile; debounce is the hard floor between any two flushes.
type HealthConfig struct {
	Tier                 string  `toml:"tier"`
	WindowMinutes        int     `toml:"window_minutes"`
	DebounceSeconds      float64 `toml:"debounce_seconds"`
	CriticalDelaySeconds float64 `toml:"critical_delay_seconds"`
}

type ReconcileConfig struct {
	IntervalSeconds      int     `toml:"interval_seconds"`
	JitterSeconds        int     `toml:"jitter_seconds"`
	QtyTolerancePct      float64 `toml:"qty_tolerance_pct"`
	MaxConsecutiveErrors int     `toml:"max_consecutive_errors"`
	ErrorBackoffSeconds  int     `toml:"error_backoff_seconds"`
}

type JournalConfig struct {
	RetryAttempts  int `toml:"retry_attempts"`
	RetryBaseMS    int `toml:"retry_base_ms"`
	RetryMaxMS     int `toml:"retry_max_ms"`
	BreakThreshold int `toml:"break_threshold"`
	BreakCooldownS int `toml:"break_cooldown_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type StoreConfig struct {
	EventLogPath string `toml:"event_log_path"`
}
