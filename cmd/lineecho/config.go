// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/bassosimone/linepump"
	"github.com/spf13/viper"
)

// options is the lineecho configuration.
//
// Values come from, in increasing priority: defaults, the YAML config
// file, LINEECHO_* environment variables, and explicit flags.
type options struct {
	// Addr is the endpoint to listen on or connect to.
	Addr string `mapstructure:"addr"`

	// HealthAddr enables the health and metrics HTTP endpoint when set.
	HealthAddr string `mapstructure:"health_addr"`

	// Log configures logging.
	Log logOptions `mapstructure:"log"`

	// PollInterval is the pump and main loop cadence.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// logOptions configures logging.
type logOptions struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// File is the log file path; empty disables file logging.
	File string `mapstructure:"file"`

	// Stderr also writes logs to stderr.
	Stderr bool `mapstructure:"stderr"`

	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

func defaultOptions() *options {
	return &options{
		Addr:         "127.0.0.1:12345",
		PollInterval: linepump.DefaultPollInterval,
		Log: logOptions{
			Level:      "info",
			Stderr:     true,
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"addr":          "addr",
	"health-addr":   "health_addr",
	"log-file":      "log.file",
	"log-level":     "log.level",
	"log-stderr":    "log.stderr",
	"poll-interval": "poll_interval",
}

// newFlagSet returns the flags shared by all subcommands.
func newFlagSet(name string, configPath *string) *flag.FlagSet {
	def := defaultOptions()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(configPath, "config", "", "path to a YAML config file")
	fs.String("addr", def.Addr, "endpoint: HOST:PORT, tcp:HOST:PORT, unix:PATH, or PATH")
	fs.String("health-addr", "", "serve /live, /ready, and /metrics on this address")
	fs.String("log-file", "", "write logs to this file, rotating it")
	fs.String("log-level", def.Log.Level, "debug, info, warn, or error")
	fs.Bool("log-stderr", def.Log.Stderr, "write logs to stderr")
	fs.Duration("poll-interval", def.PollInterval, "poll loop cadence")
	return fs
}

// loadOptions merges defaults, the config file at path (if any), the
// environment, and the flags explicitly set in fs.
func loadOptions(path string, fs *flag.FlagSet) (*options, error) {
	opts := defaultOptions()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LINEECHO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", opts.Addr)
	v.SetDefault("health_addr", opts.HealthAddr)
	v.SetDefault("poll_interval", opts.PollInterval)
	v.SetDefault("log.level", opts.Log.Level)
	v.SetDefault("log.file", opts.Log.File)
	v.SetDefault("log.stderr", opts.Log.Stderr)
	v.SetDefault("log.max_size_mb", opts.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", opts.Log.MaxBackups)
	v.SetDefault("log.max_age_days", opts.Log.MaxAgeDays)
	v.SetDefault("log.compress", opts.Log.Compress)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if fs != nil {
		fs.Visit(func(f *flag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				v.Set(key, f.Value.String())
			}
		})
	}

	if err := v.Unmarshal(opts); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *options) validate() error {
	if _, err := linepump.ParseEndpoint(o.Addr); err != nil {
		return err
	}
	if _, err := parseLevel(o.Log.Level); err != nil {
		return err
	}
	if o.PollInterval <= 0 {
		return fmt.Errorf("invalid poll_interval: %s", o.PollInterval)
	}
	return nil
}
