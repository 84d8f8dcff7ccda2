// Package config loads the operator-facing YAML configuration. The loaded
// tree is read-only: components receive their sections by value at wiring
// time and never see later edits.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meridianhq/tradecore/internal/aggregate"
	"github.com/meridianhq/tradecore/internal/engine"
	"github.com/meridianhq/tradecore/internal/exchange"
	"github.com/meridianhq/tradecore/internal/executor"
	"github.com/meridianhq/tradecore/internal/marketdata/ws"
	"github.com/meridianhq/tradecore/internal/risk"
	"github.com/meridianhq/tradecore/internal/witness"
)

// Postgres holds the audit database settings. An empty DSN disables the
// persistent audit store and falls back to the in-memory one.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Redis holds the bar cache settings. An empty address disables caching.
type Redis struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// Ops holds the operational HTTP surface settings.
type Ops struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Log holds logger settings.
type Log struct {
	Level string `yaml:"level"`
}

// Account seeds the global account tracker.
type Account struct {
	InitialEquity float64 `yaml:"initial_equity"`
}

// User declares one fan-out target. Encrypted credentials are optional;
// without them the user runs with synthetic paper credentials.
type User struct {
	UserID       string  `yaml:"user_id"`
	Tier         string  `yaml:"tier"`
	Leverage     float64 `yaml:"leverage"`
	Equity       float64 `yaml:"equity"`
	APIKeyEnc    string  `yaml:"api_key_enc"`
	APISecretEnc string  `yaml:"api_secret_enc"`
}

// Config is the full operator configuration tree.
type Config struct {
	Loop      engine.Config        `yaml:"loop"`
	Aggregate aggregate.Config     `yaml:"aggregate"`
	Risk      risk.Thresholds      `yaml:"risk"`
	Executor  executor.Config      `yaml:"executor"`
	Guard     exchange.GuardConfig `yaml:"exchange_guard"`
	Feed      ws.Config            `yaml:"feed"`
	Witnesses []witness.EventDef   `yaml:"witnesses"`
	Users     []User               `yaml:"users"`
	Postgres  Postgres             `yaml:"postgres"`
	Redis     Redis                `yaml:"redis"`
	Ops       Ops                  `yaml:"ops"`
	Log       Log                  `yaml:"log"`
	Account   Account              `yaml:"account"`
}

// Default returns the complete default tree.
func Default() Config {
	return Config{
		Loop:      engine.DefaultConfig(),
		Aggregate: aggregate.DefaultConfig(),
		Risk:      risk.DefaultThresholds(),
		Executor:  executor.DefaultConfig(),
		Guard:     exchange.DefaultGuardConfig(),
		Feed:      ws.DefaultConfig(),
		Ops:       Ops{ListenAddr: ":8080"},
		Log:       Log{Level: "info"},
		Account:   Account{InitialEquity: 10000},
	}
}

// Load reads path over the defaults. Risk thresholds are normalized on the
// way in, so a config that tries to widen a hard floor silently gets the
// floor instead.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config read: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config parse: %w", err)
	}
	cfg.Risk = cfg.Risk.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configs that could not be wired.
func (c Config) Validate() error {
	if c.Loop.Lookback <= 0 {
		return fmt.Errorf("config: lookback must be positive")
	}
	if c.Account.InitialEquity <= 0 {
		return fmt.Errorf("config: initial equity must be positive")
	}
	for i, def := range c.Witnesses {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("config: witness def %d (%s): %w", i, def.Name, err)
		}
	}
	for i, u := range c.Users {
		if u.UserID == "" {
			return fmt.Errorf("config: user %d missing user_id", i)
		}
		if u.Equity <= 0 {
			return fmt.Errorf("config: user %s: equity must be positive", u.UserID)
		}
	}
	return nil
}
