package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Toolchain.Driver != "ffmpeg" {
		t.Fatalf("unexpected drivers: %+v %+v", cfg.Storage, cfg.Toolchain)
	}
	if cfg.Storage.SQLitePath != filepath.Join("./data", "chatedit.db") {
		t.Fatalf("sqlite path not derived from data dir: %q", cfg.Storage.SQLitePath)
	}
	if cfg.Storage.UploadDir != filepath.Join("./data", "uploads") || cfg.Toolchain.OutputDir != filepath.Join("./data", "artifacts") {
		t.Fatalf("dirs not derived from data dir: %+v %+v", cfg.Storage, cfg.Toolchain)
	}
	if cfg.Dispatch.MinConfidence != 0.6 {
		t.Fatalf("min confidence=%g", cfg.Dispatch.MinConfidence)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "chatedit.toml")
	body := strings.Join([]string{
		"[storage]",
		`driver = "sqlite"`,
		`data_dir = "/var/lib/chatedit"`,
		"[llm]",
		`model = "gpt-4o"`,
		`timeout = "45s"`,
		"[dispatch]",
		"min_confidence = 0.8",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHATEDIT_LLM_MODEL", "local-model")
	t.Setenv("CHATEDIT_TOOLCHAIN", "MOCK")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver=%q", cfg.Storage.Driver)
	}
	if cfg.Storage.SQLitePath != filepath.Join("/var/lib/chatedit", "chatedit.db") {
		t.Fatalf("sqlite path=%q", cfg.Storage.SQLitePath)
	}
	if cfg.LLM.Model != "local-model" {
		t.Fatalf("env should override file, model=%q", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout.Duration != 45*time.Second {
		t.Fatalf("timeout=%s", cfg.LLM.Timeout)
	}
	if cfg.Toolchain.Driver != "mock" {
		t.Fatalf("toolchain=%q", cfg.Toolchain.Driver)
	}
	if cfg.Dispatch.MinConfidence != 0.8 {
		t.Fatalf("min confidence=%g", cfg.Dispatch.MinConfidence)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CHATEDIT_ADDR=:9999\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("CHATEDIT_ADDR") })
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr=%q", cfg.Server.Addr)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown storage driver")
	}
	cfg = Default()
	cfg.Dispatch.MinConfidence = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for min confidence out of range")
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore cwd: %v", err)
		}
	})
}
