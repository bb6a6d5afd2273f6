package config

import (
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

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "CATALOG_CACHE_TTL_SECONDS", "EVENTS_EXCHANGE", "DEFAULT_CHANNEL", "RABBITMQ_URL", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Address() != ":8080" {
		t.Fatalf("expected default address :8080, got %q", cfg.Address())
	}
	if cfg.CatalogCacheTTL() != time.Minute {
		t.Fatalf("expected one minute catalog TTL, got %s", cfg.CatalogCacheTTL())
	}
	if cfg.EventsExchange != "orders" || cfg.DefaultChannel != "retail" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RabbitMQURL != "" {
		t.Fatalf("expected events to be disabled by default")
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("CATALOG_CACHE_TTL_SECONDS", "-5")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "soon")
	t.Setenv("DEFAULT_CHANNEL", "Bulk")

	cfg := Load()
	if cfg.CatalogCacheTTLSeconds != 60 {
		t.Fatalf("expected fallback TTL 60, got %d", cfg.CatalogCacheTTLSeconds)
	}
	if cfg.AccessTokenTTL() != 480*time.Minute {
		t.Fatalf("expected fallback token TTL, got %s", cfg.AccessTokenTTL())
	}
	if cfg.DefaultChannel != "bulk" {
		t.Fatalf("expected lower-cased channel, got %q", cfg.DefaultChannel)
	}
}
