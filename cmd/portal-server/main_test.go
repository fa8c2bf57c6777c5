package main

import (
	"testing"

	"github.com/carelink/portal/internal/config"
)

func TestResolveRateLimit_UsesConfiguredValues(t *testing.T) {
	cfg := &config.Config{RateLimitRPS: 25, RateLimitBurst: 50}
	rl := resolveRateLimit(cfg)
	if rl.RequestsPerSecond != 25 || rl.BurstSize != 50 {
		t.Errorf("configured values should win, got %+v", rl)
	}
}

func TestResolveRateLimit_FallsBackToDefaults(t *testing.T) {
	cases := []*config.Config{
		{RateLimitRPS: 0, RateLimitBurst: 100},
		{RateLimitRPS: -1, RateLimitBurst: 100},
		{RateLimitRPS: 50, RateLimitBurst: 0},
	}
	for _, cfg := range cases {
		rl := resolveRateLimit(cfg)
		if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
			t.Errorf("unusable config %+v should fall back to defaults, got %+v", cfg, rl)
		}
	}
}
