package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSentinelConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg SentinelConfig
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "info")
	}
	if cfg.Mode != "alert" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "alert")
	}
	if cfg.Downstream.Timeout != "15s" {
		t.Errorf("Downstream.Timeout = %q, want %q", cfg.Downstream.Timeout, "15s")
	}
	if cfg.Store.DSN == "" {
		t.Error("Store.DSN should default to a non-empty path")
	}
	if cfg.Breaker.Threshold != 2 {
		t.Errorf("Breaker.Threshold = %d, want 2", cfg.Breaker.Threshold)
	}
	if cfg.Breaker.Cooldown != "2m" {
		t.Errorf("Breaker.Cooldown = %q, want %q", cfg.Breaker.Cooldown, "2m")
	}
}

func TestSentinelConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := SentinelConfig{
		Server: ServerConfig{
			HTTPAddr: ":9090",
		},
		Mode: "lockdown",
		Store: StoreConfig{
			DSN: "/var/lib/sentinel-gate/custom.db",
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			Cooldown:  "30s",
		},
	}

	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q, want %q", cfg.Server.HTTPAddr, ":9090")
	}
	if cfg.Mode != "lockdown" {
		t.Errorf("Mode was overwritten: got %q, want %q", cfg.Mode, "lockdown")
	}
	if cfg.Store.DSN != "/var/lib/sentinel-gate/custom.db" {
		t.Errorf("Store.DSN was overwritten: got %q", cfg.Store.DSN)
	}
	if cfg.Breaker.Threshold != 5 {
		t.Errorf("Breaker.Threshold was overwritten: got %d, want 5", cfg.Breaker.Threshold)
	}
	if cfg.Breaker.Cooldown != "30s" {
		t.Errorf("Breaker.Cooldown was overwritten: got %q, want %q", cfg.Breaker.Cooldown, "30s")
	}
}

func TestSentinelConfig_SetDevDefaults_OnlyAppliesWhenDevMode(t *testing.T) {
	t.Parallel()

	cfg := SentinelConfig{}
	cfg.SetDevDefaults()
	if cfg.Server.LogLevel != "" {
		t.Errorf("LogLevel should stay empty when DevMode is false, got %q", cfg.Server.LogLevel)
	}

	cfg2 := SentinelConfig{DevMode: true}
	cfg2.SetDevDefaults()
	if cfg2.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q in dev mode", cfg2.Server.LogLevel, "debug")
	}
	if cfg2.Downstream.Command == "" {
		t.Error("Downstream.Command should default to a runnable placeholder in dev mode")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sentinel-gate.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sentinel-gate.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "sentinel-gate" with no extension
	_ = os.WriteFile(filepath.Join(dir, "sentinel-gate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "sentinel-gate.yaml")
	ymlPath := filepath.Join(dir, "sentinel-gate.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
