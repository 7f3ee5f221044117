package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"keel/internal/logger"
)

// RuntimeToggles are the settings safe to change without a restart. They are
// applied between ticks, never mid-write.
type RuntimeToggles struct {
	LogLevel string
	Tier     string
}

// Watch re-reads the config file on change and delivers validated runtime
// toggles through onChange. Invalid edits are logged and dropped so a bad
// save never disturbs the running loop.
func Watch(path string, onChange func(RuntimeToggles)) error {
	if onChange == nil {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		onChange(RuntimeToggles{
			LogLevel: strings.TrimSpace(cfg.App.LogLevel),
			Tier:     strings.ToLower(strings.TrimSpace(cfg.Health.Tier)),
		})
	})
	v.WatchConfig()
	return nil
}
