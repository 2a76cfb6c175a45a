package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const defaultDBPath = "data/signals.db"

type Config struct {
	DBPath      string
	DatabaseURL string
	RedisURL    string

	LogLevel  string
	LogFormat string
	HTTPAddr  string

	Symbols        []string
	BaseInterval   string
	RunSchedule    string
	Workers        int
	CandleLookback int

	CatalogPath  string
	TunablesPath string
	CandlesDir   string

	OTLPEndpoint string
}

func Load() *Config {
	cfg := &Config{
		DBPath:       strings.TrimSpace(os.Getenv("DB_PATH")),
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:     strings.TrimSpace(os.Getenv("REDIS_URL")),
		TunablesPath: strings.TrimSpace(os.Getenv("TUNABLES_PATH")),
		CandlesDir:   strings.TrimSpace(os.Getenv("CANDLES_DIR")),
		OTLPEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}

	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.DatabaseURL == "" {
		log.Debug().Msg("DATABASE_URL not set, using SQLite store and CSV candles")
	}
	if cfg.RedisURL == "" {
		log.Debug().Msg("REDIS_URL not set, telemetry disabled")
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if cfg.LogFormat != "console" {
		cfg.LogFormat = "json"
	}

	cfg.HTTPAddr = strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.Symbols = parseSymbols(os.Getenv("SYMBOLS"))

	cfg.BaseInterval = strings.ToLower(strings.TrimSpace(os.Getenv("BASE_INTERVAL")))
	if cfg.BaseInterval == "" {
		cfg.BaseInterval = "1h"
	}

	cfg.RunSchedule = strings.TrimSpace(os.Getenv("RUN_SCHEDULE"))
	if cfg.RunSchedule == "" {
		cfg.RunSchedule = "@every 1m"
	}

	cfg.Workers = 4
	if v := strings.TrimSpace(os.Getenv("WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		} else {
			log.Warn().Str("WORKERS", v).Msg("invalid WORKERS, defaulting to 4")
		}
	}

	cfg.CandleLookback = 500
	if v := strings.TrimSpace(os.Getenv("CANDLE_LOOKBACK")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CandleLookback = n
		} else {
			log.Warn().Str("CANDLE_LOOKBACK", v).Msg("invalid CANDLE_LOOKBACK, defaulting to 500")
		}
	}

	cfg.CatalogPath = strings.TrimSpace(os.Getenv("CATALOG_PATH"))
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "scenarios.json"
	}

	return cfg
}

func parseSymbols(raw string) []string {
	fallback := []string{"BTC", "ETH"}
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		symbol := strings.ToUpper(strings.TrimSpace(part))
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
