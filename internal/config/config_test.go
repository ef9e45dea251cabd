package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadFallsBackOnInvalidDurations(t *testing.T) {
	t.Setenv("STORE_TIMEOUT_SECONDS", "-3")
	t.Setenv("STATS_REFRESH_DELAY_MS", "soon")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "120")

	cfg := Load()
	if cfg.StoreTimeout() != 10*time.Second {
		t.Fatalf("expected default store timeout, got %s", cfg.StoreTimeout())
	}
	if cfg.StatsRefreshDelay() != 800*time.Millisecond {
		t.Fatalf("expected default stats delay, got %s", cfg.StatsRefreshDelay())
	}
	if cfg.ReportCacheTTL() != 2*time.Minute {
		t.Fatalf("expected 2m report cache ttl, got %s", cfg.ReportCacheTTL())
	}
}

func TestLocationFallsBackForUnknownZone(t *testing.T) {
	cfg := Config{Timezone: "Mars/Olympus_Mons"}
	if cfg.Location() != time.Local {
		t.Fatalf("expected local zone fallback")
	}
}

func TestLoadDotEnvKeepsExistingVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowershop.env")
	if err := os.WriteFile(path, []byte("TIMEZONE=UTC\nSTORE_USERNAME=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("STORE_USERNAME", "from-shell")
	t.Setenv("TIMEZONE", "")
	_ = os.Unsetenv("TIMEZONE")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}

	cfg := Load()
	if cfg.Timezone != "UTC" {
		t.Fatalf("expected TIMEZONE from file, got %q", cfg.Timezone)
	}
	if cfg.StoreUsername != "from-shell" {
		t.Fatalf("expected shell variable to win, got %q", cfg.StoreUsername)
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}
