package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// config is loaded from the environment. Defaults suit local development;
// deployments override per variable.
type config struct {
	Addr         string   `env:"ADDR" envDefault:":8080"`
	DatabasePath string   `env:"DATABASE" envDefault:"./games.db"`
	RulesDir     string   `env:"RULES_DIR"`
	LogSinks     []string `env:"LOG_SINKS" envSeparator:"," envDefault:"console"`
	LogJSONPath  string   `env:"LOG_JSON_PATH" envDefault:"./events.ndjson"`
	EnablePprof  bool     `env:"ENABLE_PPROF"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
