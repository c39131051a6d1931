package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	JSON    JSONConfig    `toml:"json"`
	SQLite  SQLiteConfig  `toml:"sqlite"`
	Learner LearnerConfig `toml:"learner"`
	Log     LogConfig     `toml:"log"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type BackendConfig struct {
	Type string `toml:"type"` // "json" or "sqlite"
}

type JSONConfig struct {
	Dir string `toml:"dir"`
}

type SQLiteConfig struct {
	Path string `toml:"path"`
}

type LearnerConfig struct {
	MinOccurrences int `toml:"min_occurrences"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // trace, debug, info, warn, error
	Format string `toml:"format"` // "json" or "console"
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Backend: BackendConfig{
			Type: "json",
		},
		JSON: JSONConfig{
			Dir: "/data",
		},
		SQLite: SQLiteConfig{
			Path: "/data/lure-advisor.db",
		},
		Learner: LearnerConfig{
			MinOccurrences: DefaultMinOccurrences,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	// Environment wins over the file for logging only
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if cfg.Learner.MinOccurrences < 1 {
		cfg.Learner.MinOccurrences = DefaultMinOccurrences
	}
	return cfg, nil
}

func ExampleConfig() string {
	return `# lure-advisor-mcp configuration

[server]
addr = ":8080"

[backend]
# "json" (one file per collection) or "sqlite"
type = "json"

[json]
dir = "/data"

[sqlite]
path = "/data/lure-advisor.db"

[learner]
# identical sessions needed before a pattern is learned
min_occurrences = 2

[log]
level  = "info"
format = "json"   # or "console"
`
}
