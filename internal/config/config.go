// Package config assembles the scout configuration from built-in
// defaults, an optional YAML file, and environment overrides, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// DefaultMaterial is the full standard piece set, scattered by default.
const DefaultMaterial = "rnbqkbnrppppppppPPPPPPPPRNBQKBNR"

const (
	defaultExecutable   = "stockfish,./stockfish"
	defaultMoveTimeMS   = 1000
	defaultTargetCount  = 1000
	defaultHighlightCP  = 20
	maxPawnSquares      = 48
	maxBoardSquares     = 64
	validPieceSymbols   = "pnbrqkPNBRQK"
	redisDefaultTTLSecs = 7 * 24 * 3600
)

type AppConfig struct {
	// ExecutablePath is a comma-separated candidate list for the engine
	// binary.
	ExecutablePath string `yaml:"executable"`

	// Material is the multiset of piece symbols scattered per position.
	Material string `yaml:"material"`

	MoveTimeMillis int `yaml:"movetime_ms"`
	Depth          int `yaml:"depth"`

	TargetCount int `yaml:"target_count"`

	Highlight          bool `yaml:"highlight"`
	HighlightThreshold int  `yaml:"highlight_threshold"`

	// Optional finding sinks; empty disables them.
	RedisURL     string `yaml:"redis_url"`
	RedisTTLSecs int    `yaml:"redis_ttl_secs"`
	DatabaseURL  string `yaml:"database_url"`
}

// Load builds the configuration. A YAML file named by path or by
// FENSCOUT_CONFIG is applied over the defaults, and FENSCOUT_*
// environment variables override both.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{
		ExecutablePath:     defaultExecutable,
		Material:           DefaultMaterial,
		MoveTimeMillis:     defaultMoveTimeMS,
		TargetCount:        defaultTargetCount,
		Highlight:          true,
		HighlightThreshold: defaultHighlightCP,
		RedisTTLSecs:       redisDefaultTTLSecs,
	}

	if path == "" {
		path = strings.TrimSpace(os.Getenv("FENSCOUT_CONFIG"))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("FENSCOUT_EXECUTABLE")); v != "" {
		cfg.ExecutablePath = v
	}
	if v := strings.TrimSpace(os.Getenv("FENSCOUT_MATERIAL")); v != "" {
		cfg.Material = v
	}
	if v := strings.TrimSpace(os.Getenv("FENSCOUT_MOVETIME_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MoveTimeMillis = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FENSCOUT_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Depth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FENSCOUT_TARGET_COUNT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TargetCount = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FENSCOUT_HIGHLIGHT")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Highlight = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("FENSCOUT_HIGHLIGHT_THRESHOLD")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.HighlightThreshold = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FENSCOUT_REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("FENSCOUT_DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
}

// Validate rejects configurations the scout could never satisfy: an
// unknown piece symbol, a material multiset that cannot fit on the
// board, or a search with no limits at all.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Material) == "" {
		return errors.New("material must not be empty")
	}
	pawns := 0
	for _, sym := range c.Material {
		if !strings.ContainsRune(validPieceSymbols, sym) {
			return fmt.Errorf("invalid piece symbol %q in material", string(sym))
		}
		if sym == 'p' || sym == 'P' {
			pawns++
		}
	}
	if pawns > maxPawnSquares {
		return fmt.Errorf("material has %d pawns, at most %d fit on ranks 2-7", pawns, maxPawnSquares)
	}
	if len(c.Material) > maxBoardSquares {
		return fmt.Errorf("material has %d pieces, the board has %d squares", len(c.Material), maxBoardSquares)
	}
	if c.MoveTimeMillis <= 0 && c.Depth <= 0 {
		return errors.New("at least one of movetime_ms and depth must be positive")
	}
	if c.TargetCount <= 0 {
		return errors.New("target_count must be positive")
	}
	return nil
}
