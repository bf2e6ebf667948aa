package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ALLOWED_ORIGIN", "")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.ReportCacheTTLSeconds != 30 {
		t.Fatalf("expected default report TTL 30, got %d", cfg.ReportCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGIN", "https://pos.example.com")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "120")
	t.Setenv("AUTH_SECRET", "  secret-with-padding  ")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.AllowedOrigin != "https://pos.example.com" {
		t.Fatalf("unexpected origin %s", cfg.AllowedOrigin)
	}
	if cfg.ReportCacheTTLSeconds != 120 {
		t.Fatalf("expected report TTL 120, got %d", cfg.ReportCacheTTLSeconds)
	}
	if cfg.AuthSecret != "secret-with-padding" {
		t.Fatalf("secret must be trimmed, got %q", cfg.AuthSecret)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "not-a-number")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg := Load()
	if cfg.ReportCacheTTLSeconds != 30 {
		t.Fatalf("bad TTL must fall back to 30, got %d", cfg.ReportCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("negative token TTL must fall back to 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
