package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr    string
	DBPath  string
	Cookie  string
	GroupID int64

	MaintainerSecret string
	SecondarySecret  string
	SpectatorSecret  string
	APIKey           string

	WebhookURL string
	SelfURL    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimits RateLimits

	PingInterval time.Duration
	RestartAfter time.Duration
}

type RateLimits struct {
	RequestsPerMinute int
	ActionLimit       int
	ActionWindow      time.Duration
}

func Load() Config {
	addr := envString("RANKGATE_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	return Config{
		Addr:    addr,
		DBPath:  envString("RANKGATE_DB", "rankgate.db"),
		Cookie:  envString("RANKGATE_COOKIE", ""),
		GroupID: envInt64("RANKGATE_GROUP_ID", 0),

		MaintainerSecret: envString("RANKGATE_MAINTAINER_KEY", ""),
		SecondarySecret:  envString("RANKGATE_SECONDARY_KEY", ""),
		SpectatorSecret:  envString("RANKGATE_SPECTATOR_KEY", ""),
		APIKey:           envString("RANKGATE_API_KEY", ""),

		WebhookURL: envString("RANKGATE_WEBHOOK_URL", ""),
		SelfURL:    envString("RANKGATE_SELF_URL", ""),

		RedisAddr:     envString("RANKGATE_REDIS_ADDR", ""),
		RedisPassword: envString("RANKGATE_REDIS_PASSWORD", ""),
		RedisDB:       envInt("RANKGATE_REDIS_DB", 0),

		RateLimits: RateLimits{
			RequestsPerMinute: envInt("RANKGATE_RL_REQ_PER_MIN", 10),
			ActionLimit:       envInt("RANKGATE_RL_ACTION_LIMIT", 15),
			ActionWindow:      envDuration("RANKGATE_RL_ACTION_WINDOW", 10*time.Minute),
		},

		PingInterval: envDuration("RANKGATE_PING_INTERVAL", 4*time.Minute),
		RestartAfter: envDuration("RANKGATE_RESTART_AFTER", time.Hour),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
