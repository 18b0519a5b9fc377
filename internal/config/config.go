// Package config loads daemon configuration from a JSON file or from
// SUPPORTBOT_-prefixed environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level supportbot configuration.
type Config struct {
	DataDir   string         `json:"data_dir"`
	Telegram  TelegramConfig `json:"telegram"`
	Slack     *SlackConfig   `json:"slack,omitempty"`
	Bonus     BonusConfig    `json:"bonus"`
	Sweep     SweepConfig    `json:"sweep"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token        string   `json:"token"`
	ManagerIDs   []string `json:"manager_ids"`
	ManagerGroup string   `json:"manager_group"`
}

// SlackConfig mirrors pending announcements into a Slack channel.
type SlackConfig struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

// BonusConfig holds loyalty settings. Amounts are decimal strings like
// "50.00".
type BonusConfig struct {
	StarterCredit string `json:"starter_credit,omitempty"`
}

// SweepConfig holds the pending-queue reminder settings.
type SweepConfig struct {
	Schedule     string `json:"schedule,omitempty"`      // cron expression or @every form
	StaleMinutes int    `json:"stale_minutes,omitempty"` // re-announce after this long
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with SUPPORTBOT_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DataDir: getenv("SUPPORTBOT_DATA_DIR", "/data"),
		Telegram: TelegramConfig{
			Token:        os.Getenv("SUPPORTBOT_TELEGRAM_TOKEN"),
			ManagerIDs:   parseList(os.Getenv("SUPPORTBOT_MANAGER_IDS")),
			ManagerGroup: os.Getenv("SUPPORTBOT_MANAGER_GROUP"),
		},
		Bonus: BonusConfig{
			StarterCredit: os.Getenv("SUPPORTBOT_STARTER_CREDIT"),
		},
		Sweep: SweepConfig{
			Schedule:     os.Getenv("SUPPORTBOT_SWEEP_SCHEDULE"),
			StaleMinutes: getenvInt("SUPPORTBOT_SWEEP_STALE_MINUTES", 0),
		},
	}

	if token := os.Getenv("SUPPORTBOT_SLACK_TOKEN"); token != "" {
		cfg.Slack = &SlackConfig{
			Token:   token,
			Channel: os.Getenv("SUPPORTBOT_SLACK_CHANNEL"),
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "@every 10m"
	}
	if c.Sweep.StaleMinutes == 0 {
		c.Sweep.StaleMinutes = 15
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required")
	}
	if len(c.Telegram.ManagerIDs) == 0 {
		errs = append(errs, "telegram.manager_ids is required")
	}
	if c.Telegram.ManagerGroup == "" {
		errs = append(errs, "telegram.manager_group is required")
	}
	if c.Slack != nil {
		if c.Slack.Token == "" {
			errs = append(errs, "slack.token is required")
		}
		if c.Slack.Channel == "" {
			errs = append(errs, "slack.channel is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		result = append(result, p)
	}
	return result
}
