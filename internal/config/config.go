// Package config loads the tournament definition from a YAML file and
// applies environment overrides for deploy-specific settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/laldon/cutechess/internal/chess"
)

// Engine describes one participant.
type Engine struct {
	Name     string   `yaml:"name"`
	Command  string   `yaml:"cmd"`
	Args     []string `yaml:"args"`
	Dir      string   `yaml:"dir"`
	Protocol string   `yaml:"proto"`
	TC       string   `yaml:"tc"`
	// ST is seconds per move; it takes precedence over TC.
	ST      float64           `yaml:"st"`
	Depth   int               `yaml:"depth"`
	Nodes   int64             `yaml:"nodes"`
	Options map[string]string `yaml:"options"`
}

// TimeControl resolves the engine's clock settings.
func (e Engine) TimeControl() (*chess.TimeControl, error) {
	if e.ST > 0 {
		return chess.FixedTimeControl(time.Duration(e.ST * float64(time.Second))), nil
	}
	if strings.TrimSpace(e.TC) == "" {
		return nil, fmt.Errorf("engine %q: neither tc nor st is set", e.Name)
	}
	tc, err := chess.ParseTimeControl(e.TC)
	if err != nil {
		return nil, fmt.Errorf("engine %q: %w", e.Name, err)
	}
	return tc, nil
}

// Adjudication carries the early-termination thresholds. Zero move counts
// disable the corresponding rule.
type Adjudication struct {
	DrawMoveNumber  int  `yaml:"draw_move_number"`
	DrawMoveCount   int  `yaml:"draw_move_count"`
	DrawScore       int  `yaml:"draw_score"`
	ResignMoveCount int  `yaml:"resign_move_count"`
	ResignScore     int  `yaml:"resign_score"`
	Tablebase       bool `yaml:"tb"`
}

// Openings selects where game openings come from. A Polyglot book takes
// precedence over a PGN collection. Depths are in plies.
type Openings struct {
	FEN       string `yaml:"fen"`
	Book      string `yaml:"book"`
	BookDepth int    `yaml:"book_depth"`
	PGN       string `yaml:"pgn"`
	PGNDepth  int    `yaml:"pgn_depth"`
}

// Sinks are the optional result destinations. Empty values disable a sink.
type Sinks struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	ReportURL   string `yaml:"report_url"`
}

type Config struct {
	Event   string `yaml:"event"`
	Site    string `yaml:"site"`
	Variant string `yaml:"variant"`
	Games   int    `yaml:"games"`
	// Repeat replays each even game's opening in the following game with
	// colors swapped.
	Repeat bool `yaml:"repeat"`

	Engines      []Engine     `yaml:"engines"`
	Adjudication Adjudication `yaml:"adjudication"`
	Openings     Openings     `yaml:"openings"`
	Sinks        Sinks        `yaml:"sinks"`

	PGNOut  string `yaml:"pgn_out"`
	PGNMode string `yaml:"pgn_mode"`

	CooldownMs int    `yaml:"cooldown_ms"`
	Debug      bool   `yaml:"debug"`
	LogLevel   string `yaml:"log_level"`
}

func defaults() *Config {
	return &Config{
		Variant:    "standard",
		Games:      1,
		PGNMode:    "verbose",
		CooldownMs: 2000,
	}
}

// Load reads path, fills in defaults, applies environment overrides and
// validates the result. Unknown YAML keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		c.Sinks.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		c.Sinks.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REPORT_URL")); v != "" {
		c.Sinks.ReportURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) Validate() error {
	if len(c.Engines) != 2 {
		return fmt.Errorf("exactly two engines are required, got %d", len(c.Engines))
	}
	for i, e := range c.Engines {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("engine %d", i+1)
		}
		if strings.TrimSpace(e.Command) == "" {
			return fmt.Errorf("%s: cmd is required", name)
		}
		if e.Protocol != "" && e.Protocol != "uci" {
			return fmt.Errorf("%s: unsupported protocol %q", name, e.Protocol)
		}
		if _, err := e.TimeControl(); err != nil {
			return err
		}
	}
	if c.Games < 1 {
		return errors.New("games must be at least 1")
	}
	if c.PGNMode != "verbose" && c.PGNMode != "minimal" {
		return fmt.Errorf("unknown pgn_mode %q", c.PGNMode)
	}
	if c.CooldownMs < 0 {
		return errors.New("cooldown_ms cannot be negative")
	}
	return nil
}
