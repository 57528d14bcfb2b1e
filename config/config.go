// Package config loads the pipeline configuration from YAML with optional
// .env / environment overrides.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phenomenon0/courtedge/pkg/match"
	"github.com/phenomenon0/courtedge/pkg/settle"
	"github.com/phenomenon0/courtedge/pkg/strategy"
)

// Config is the complete pipeline configuration.
type Config struct {
	DataDir    string            `yaml:"data_dir"`
	Matching   MatchingConfig    `yaml:"matching"`
	Settlement SettlementConfig  `yaml:"settlement"`
	Ledger     LedgerConfig      `yaml:"ledger"`
	Strategies []strategy.Config `yaml:"strategies"`
}

// MatchingConfig tunes entity resolution.
type MatchingConfig struct {
	MinSimilarity      float64           `yaml:"min_similarity"`
	PlayerAliases      map[string]string `yaml:"player_aliases"`
	TournamentSynonyms map[string]string `yaml:"tournament_synonyms"`
}

// SettlementConfig tunes settlement policy.
type SettlementConfig struct {
	GraceDays int `yaml:"grace_days"` // pending bets older than this are voided
}

// LedgerConfig selects and locates the ledger backend.
type LedgerConfig struct {
	Backend string `yaml:"backend"` // csv | sqlite
	Path    string `yaml:"path"`    // csv file or sqlite database path
}

// Load reads the YAML file at path and applies env overrides and defaults.
// An empty path yields a default configuration, so the pipeline runs out of
// the box.
func Load(path string) (*Config, error) {
	// Load .env if present (missing file is fine).
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	for _, sc := range cfg.Strategies {
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}
	return &cfg, nil
}

// MatcherConfig adapts the matching section for the match package.
func (c *Config) MatcherConfig() match.Config {
	return match.Config{
		MinSimilarity:      c.Matching.MinSimilarity,
		PlayerAliases:      c.Matching.PlayerAliases,
		TournamentSynonyms: c.Matching.TournamentSynonyms,
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COURTEDGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("COURTEDGE_LEDGER_BACKEND"); v != "" {
		cfg.Ledger.Backend = v
	}
	if v := os.Getenv("COURTEDGE_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data_archive"
	}
	if cfg.Matching.MinSimilarity <= 0 {
		cfg.Matching.MinSimilarity = match.DefaultMinSimilarity
	}
	if cfg.Settlement.GraceDays <= 0 {
		cfg.Settlement.GraceDays = settle.DefaultGraceDays
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "csv"
	}
	if cfg.Ledger.Path == "" {
		if cfg.Ledger.Backend == "sqlite" {
			cfg.Ledger.Path = "courtedge.db"
		} else {
			cfg.Ledger.Path = "strategy_ledger.csv"
		}
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = strategy.DefaultConfigs()
	}
}
