package config

import (
	"fmt"
	"strings"
)

var knownTiers = map[string]bool{
	"fast_5s":   true,
	"ultra_15s": true,
	"fast_30s":  true,
	"standard":  true,
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Bot.ID) == "" {
		return fmt.Errorf("bot.id is required")
	}
	if strings.TrimSpace(c.Bot.Symbol) == "" {
		return fmt.Errorf("bot.symbol is required")
	}
	if strings.TrimSpace(c.Record.BaseURL) == "" {
		return fmt.Errorf("record.base_url is required")
	}
	if strings.TrimSpace(c.Record.ServiceKey) == "" {
		return fmt.Errorf("record.service_key is required")
	}
	if strings.TrimSpace(c.Record.RuntimeToken) == "" {
		return fmt.Errorf("record.runtime_token is required")
	}
	if tier := strings.ToLower(strings.TrimSpace(c.Health.Tier)); !knownTiers[tier] {
		return fmt.Errorf("health.tier %q is not a known tier", c.Health.Tier)
	}
	if c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.BotToken) == "" || strings.TrimSpace(c.Notify.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}
