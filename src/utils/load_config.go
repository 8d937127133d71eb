package utils

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type AppConfig struct {
	BotToken       string
	MetricsAddress string
	AppEnv         string
	ShardCount     int
}

// LoadConfiguration reads the environment after main has loaded the
// .env file. Missing required variables are fatal.
func LoadConfiguration() AppConfig {
	cfg := AppConfig{}
	requiredEnv := map[string]*string{
		"MAREN_BOT_TOKEN": &cfg.BotToken,
		"APP_ENV":         &cfg.AppEnv,
	}
	for k, v := range requiredEnv {
		if val, ok := os.LookupEnv(k); !ok {
			slog.Error(fmt.Sprintf("Provide: %s", k))
			os.Exit(1)
		} else {
			*v = val
		}
	}
	cfg.MetricsAddress = os.Getenv("MAREN_METRICS_ADDRESS")
	if raw := os.Getenv("MAREN_SHARD_COUNT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			slog.Error("MAREN_SHARD_COUNT must be a non-negative integer")
			os.Exit(1)
		}
		cfg.ShardCount = n
	}
	return cfg
}
