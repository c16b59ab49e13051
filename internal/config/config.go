// Package config loads the nbexecd server configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Kernel   KernelConfig   `toml:"kernel"`
	Journal  JournalConfig  `toml:"journal"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// ShutdownTimeoutSeconds bounds HTTP drain and stack disposal.
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds"`
}

type KernelConfig struct {
	// PythonBin is the interpreter used by the subprocess transport.
	PythonBin string `toml:"python_bin"`
	// IDs are the kernel ids the dev manager accepts.
	IDs []string `toml:"ids"`
}

type JournalConfig struct {
	// Driver is "", "sqlite" or "postgres".
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8888", ShutdownTimeoutSeconds: 3},
		Kernel: KernelConfig{PythonBin: "python3"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "nbexec.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("NBEXEC_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("NBEXEC_PYTHON"); v != "" {
		cfg.Kernel.PythonBin = v
	}
	if v := os.Getenv("NBEXEC_KERNEL_IDS"); v != "" {
		cfg.Kernel.IDs = strings.Split(v, ",")
	}
	if v := os.Getenv("NBEXEC_JOURNAL_DRIVER"); v != "" {
		cfg.Journal.Driver = v
	}
	if v := os.Getenv("NBEXEC_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("NBEXEC_JOURNAL_DSN"); v != "" {
		cfg.Journal.DSN = v
	}
	if v := os.Getenv("NBEXEC_SHUTDOWN_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.ShutdownTimeoutSeconds = n
		}
	}
	if v := os.Getenv("NBEXEC_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Journal.Driver == "sqlite" && cfg.Journal.Path == "" {
		cfg.Journal.Path = "nbexec-events.db"
	}
	return cfg
}

// ShutdownTimeout returns the configured shutdown budget.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
