package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8888" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.ShutdownTimeout() != 3*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.ShutdownTimeout())
	}
	if cfg.Kernel.PythonBin != "python3" {
		t.Errorf("python bin = %q", cfg.Kernel.PythonBin)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nbexec.toml")
	data := `
[server]
addr = ":9999"
shutdown_timeout_seconds = 5

[kernel]
python_bin = "python3.12"
ids = ["11111111-2222-3333-4444-555555555555"]

[journal]
driver = "sqlite"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.ShutdownTimeout())
	}
	if len(cfg.Kernel.IDs) != 1 {
		t.Errorf("kernel ids = %v", cfg.Kernel.IDs)
	}
	// sqlite journal without a path falls back to the default file
	if cfg.Journal.Path != "nbexec-events.db" {
		t.Errorf("journal path = %q", cfg.Journal.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NBEXEC_ADDR", ":7777")
	t.Setenv("NBEXEC_KERNEL_IDS", "a-b-c-d-e,f-g-h-i-j")
	t.Setenv("NBEXEC_OBSERVER_ENABLED", "1")

	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.Server.Addr != ":7777" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Kernel.IDs) != 2 {
		t.Errorf("kernel ids = %v", cfg.Kernel.IDs)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer should be enabled")
	}
}
