// Package config loads process settings from an optional YAML file. Command
// line flags override file values when they are set explicitly.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Timezone        string  `yaml:"timezone"`
	BaseParallelism int     `yaml:"base_parallelism"`
	LogLevel        string  `yaml:"log_level"`
	LogFormat       string  `yaml:"log_format"`
	Definitions     string  `yaml:"definitions"`
	DB              string  `yaml:"db"`
	Addr            string  `yaml:"addr"`
	Once            bool    `yaml:"once"`
	RunRate         float64 `yaml:"run_rate"`
	Debug           bool    `yaml:"debug"`
}

func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		RunRate:   1,
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: %q (want console or json)", c.LogFormat))
	}
	if c.BaseParallelism < 0 {
		errs = append(errs, fmt.Errorf("base_parallelism: must be >= 0"))
	}
	if c.RunRate < 0 {
		errs = append(errs, fmt.Errorf("run_rate: must be >= 0"))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone; empty means time.Local.
func (c Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

func (c Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("log_level: %w", err)
	}
	if lvl == zerolog.NoLevel {
		return zerolog.InfoLevel, nil
	}
	return lvl, nil
}

// BindFlags registers one flag per field on fs, using cfg for defaults.
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Timezone, "tz", cfg.Timezone, "IANA timezone for cron evaluation (default: local)")
	fs.IntVar(&cfg.BaseParallelism, "parallelism", cfg.BaseParallelism, "base parallelism (0 = CPUs/2)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	fs.StringVar(&cfg.Definitions, "definitions", cfg.Definitions, "directory searched for *errands.yaml files")
	fs.StringVar(&cfg.DB, "db", cfg.DB, "SQLite run journal path (empty disables)")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "admin HTTP bind address (empty disables)")
	fs.BoolVar(&cfg.Once, "once", cfg.Once, "run a single pass per errand and exit")
	fs.Float64Var(&cfg.RunRate, "run-rate", cfg.RunRate, "manual runs per second allowed on the admin API")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "mount pprof under /debug/pprof on the admin API")
}

// Parse builds the final config: defaults, then the -config file, then the
// flags that were set explicitly.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	flagCfg := Default()
	var path string
	fs.StringVar(&path, "config", "", "YAML config file")
	BindFlags(fs, &flagCfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if path == "" {
		return flagCfg, flagCfg.Validate()
	}

	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	overlay := map[string]func(){
		"tz":          func() { cfg.Timezone = flagCfg.Timezone },
		"parallelism": func() { cfg.BaseParallelism = flagCfg.BaseParallelism },
		"log-level":   func() { cfg.LogLevel = flagCfg.LogLevel },
		"log-format":  func() { cfg.LogFormat = flagCfg.LogFormat },
		"definitions": func() { cfg.Definitions = flagCfg.Definitions },
		"db":          func() { cfg.DB = flagCfg.DB },
		"addr":        func() { cfg.Addr = flagCfg.Addr },
		"once":        func() { cfg.Once = flagCfg.Once },
		"run-rate":    func() { cfg.RunRate = flagCfg.RunRate },
		"debug":       func() { cfg.Debug = flagCfg.Debug },
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := overlay[f.Name]; ok {
			apply()
		}
	})
	return cfg, cfg.Validate()
}
