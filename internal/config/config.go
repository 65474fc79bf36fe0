package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/keyrace/api/internal/race"
)

type Config struct {
	HTTPAddr  string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath    string     `env:"DB_PATH" envDefault:"data/keyrace.db"`
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text"`

	ProgressMinInterval time.Duration `env:"PROGRESS_MIN_INTERVAL" envDefault:"100ms"`
	ClockTolerance      time.Duration `env:"CLOCK_TOLERANCE" envDefault:"2s"`
	ResultsTTL          time.Duration `env:"RESULTS_TTL" envDefault:"5m"`

	AntiCheatMaxWPM        int `env:"ANTICHEAT_MAX_WPM" envDefault:"250"`
	AntiCheatMinIntervalMs int `env:"ANTICHEAT_MIN_INTERVAL_MS" envDefault:"40"`
	AntiCheatSampleMin     int `env:"ANTICHEAT_SAMPLE_MIN" envDefault:"10"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

// Race converts the environment tunables into the coordinator config,
// keeping the defaults for everything not exposed.
func (c *Config) Race() race.Config {
	rc := race.DefaultConfig()
	rc.ProgressMinInterval = c.ProgressMinInterval
	rc.ClockTolerance = c.ClockTolerance
	rc.ResultsTTL = c.ResultsTTL
	rc.AntiCheat.WPMCeiling = c.AntiCheatMaxWPM
	rc.AntiCheat.MinAvgIntervalMs = float64(c.AntiCheatMinIntervalMs)
	rc.AntiCheat.SampleMin = c.AntiCheatSampleMin
	return rc
}
