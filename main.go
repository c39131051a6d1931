package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (default: look for config.toml in current dir)")
	printConfig := flag.Bool("print-config", false, "Print an example config file and exit")
	flag.Parse()

	if *printConfig {
		fmt.Print(ExampleConfig())
		os.Exit(0)
	}

	// Resolve config path: flag > env > default locations
	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		for _, candidate := range []string{"config.toml", "/config/config.toml", "/etc/lure-advisor-mcp/config.toml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	logger := newLogger(cfg.Log, os.Stderr)
	if path != "" {
		logger.Info().Str("path", path).Msg("loaded config")
	} else {
		logger.Info().Msg("using default config (no config file found)")
	}

	backend, err := NewBackend(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backend init failed")
	}
	defer backend.Close()

	tools := &Toolbox{
		Backend:        backend,
		Engine:         NewRuleEngine(backend.Spots(), logger),
		Learner:        NewPatternLearner(backend.Sessions(), backend.Patterns(), logger),
		MinOccurrences: cfg.Learner.MinOccurrences,
	}
	srv := NewServer(tools, logger)

	addr := cfg.Server.Addr
	logger.Info().Str("addr", addr).Str("backend", cfg.Backend.Type).Msg("lure-advisor-mcp listening")
	fmt.Printf("MCP endpoint:  http://localhost%s/mcp\n", addr)
	fmt.Printf("Health check:  http://localhost%s/health\n", addr)
	fmt.Printf("Metrics:       http://localhost%s/metrics\n", addr)

	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
