package config

import (
	"testing"
	"time"
)

func TestGetEnvAsDuration(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"go duration", "45s", 45 * time.Second},
		{"milliseconds", "1500", 1500 * time.Millisecond},
		{"garbage falls back", "soon", time.Minute},
		{"negative falls back", "-5s", time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ESTADOS_TEST_DURATION", tc.value)
			if got := getEnvAsDuration("ESTADOS_TEST_DURATION", time.Minute); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLoadConfigCoreDefaults(t *testing.T) {
	t.Setenv("REACTION_LOCK_WINDOW", "")
	t.Setenv("VIEWER_TICK", "20ms")

	cfg := LoadConfig()
	if cfg.Core.ReactionLockWindow != 5*time.Second {
		t.Fatalf("lock window = %v", cfg.Core.ReactionLockWindow)
	}
	if cfg.Core.ViewerTick != 20*time.Millisecond {
		t.Fatalf("viewer tick = %v", cfg.Core.ViewerTick)
	}
	if cfg.Core.StatusLifetime != 24*time.Hour {
		t.Fatalf("status lifetime = %v", cfg.Core.StatusLifetime)
	}
}

func TestLoadConfigOriginsAndLimits(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example, ,https://b.example ")
	t.Setenv("RATE_LIMIT_REACTIONS", "10")
	t.Setenv("RATE_LIMIT_CREATE", "")

	cfg := LoadConfig()
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %q", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitReactions != 10 || cfg.RateLimitCreate != 30 {
		t.Fatalf("limits = %d/%d", cfg.RateLimitCreate, cfg.RateLimitReactions)
	}

	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	if got := LoadConfig().CORSAllowedOrigins; len(got) != 1 || got[0] != "*" {
		t.Fatalf("default origins = %q", got)
	}
}
