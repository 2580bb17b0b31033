package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config keeps runtime settings for the bot.
type Config struct {
	TelegramToken     string
	DatabaseURL       string
	TickInterval      time.Duration
	StandupHour       int
	StandupMinute     int
	OverdueAfter      time.Duration
	OverdueSweepEvery time.Duration
	SprintAdmitLimit  int
	AdminIDs          map[int64]bool
}

// Load reads configuration from environment variables with sane defaults.
// A .env file next to the binary is picked up when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		TelegramToken:     strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		TickInterval:      parseSeconds(os.Getenv("TICK_INTERVAL_SECONDS"), 60*time.Second),
		OverdueAfter:      parseHours(os.Getenv("OVERDUE_AFTER_HOURS"), 24*time.Hour),
		OverdueSweepEvery: parseMinutes(os.Getenv("OVERDUE_SWEEP_MINUTES"), 30*time.Minute),
		SprintAdmitLimit:  parseInt(os.Getenv("SPRINT_ADMIT_LIMIT"), 10),
		AdminIDs:          parseAdminIDs(os.Getenv("ADMIN_IDS")),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "sprint_bot.db"
	}

	hour, minute, err := parseClock(strings.TrimSpace(os.Getenv("STANDUP_TIME")), 10, 0)
	if err != nil {
		return cfg, fmt.Errorf("STANDUP_TIME: %w", err)
	}
	cfg.StandupHour, cfg.StandupMinute = hour, minute

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}

	return cfg, nil
}

// IsAdmin reports whether the Telegram user has lead privileges.
func (c Config) IsAdmin(telegramID int64) bool {
	return c.AdminIDs[telegramID]
}

func parseClock(raw string, defHour, defMinute int) (int, int, error) {
	if raw == "" {
		return defHour, defMinute, nil
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hour, minute, nil
}

func parseSeconds(raw string, def time.Duration) time.Duration {
	if n := parseInt(raw, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func parseMinutes(raw string, def time.Duration) time.Duration {
	if n := parseInt(raw, 0); n > 0 {
		return time.Duration(n) * time.Minute
	}
	return def
}

func parseHours(raw string, def time.Duration) time.Duration {
	if n := parseInt(raw, 0); n > 0 {
		return time.Duration(n) * time.Hour
	}
	return def
}

func parseInt(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseAdminIDs(raw string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids[id] = true
	}
	return ids
}
