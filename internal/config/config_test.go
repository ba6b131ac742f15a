package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		NodeAddress:        "localhost:8080",
		CallTimeout:        15 * time.Second,
		PollInterval:       10 * time.Minute,
		MaxCandidates:      3,
		RatioLow:           0.4,
		RatioHigh:          0.6,
		MaxAmountSat:       1_000_000,
		MinAmountSat:       10_000,
		ReserveSat:         10_000,
		FeeCapSat:          100,
		FeeCapPct:          0.05,
		EpochBudgetSat:     2_000,
		EpochLength:        24 * time.Hour,
		MinViableFeeSat:    1,
		CooldownBase:       10 * time.Minute,
		CooldownMax:        24 * time.Hour,
		FailureCap:         5,
		StatusPollInterval: 2 * time.Second,
		StatusPollTimeout:  90 * time.Second,
		ReconcileAttempts:  5,
		ReconcileInterval:  30 * time.Second,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing node address", func(c *Config) { c.NodeAddress = "" }},
		{"inverted band", func(c *Config) { c.RatioLow, c.RatioHigh = 0.6, 0.4 }},
		{"band above one", func(c *Config) { c.RatioHigh = 1.2 }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"min above max amount", func(c *Config) { c.MinAmountSat = c.MaxAmountSat + 1 }},
		{"negative reserve", func(c *Config) { c.ReserveSat = -1 }},
		{"zero fee cap", func(c *Config) { c.FeeCapSat = 0 }},
		{"zero epoch budget", func(c *Config) { c.EpochBudgetSat = 0 }},
		{"epoch too short", func(c *Config) { c.EpochLength = time.Second }},
		{"zero viable fee", func(c *Config) { c.MinViableFeeSat = 0 }},
		{"cooldown max below base", func(c *Config) { c.CooldownMax = c.CooldownBase - 1 }},
		{"zero failure cap", func(c *Config) { c.FailureCap = 0 }},
		{"zero candidates", func(c *Config) { c.MaxCandidates = 0 }},
		{"poll timeout below interval", func(c *Config) { c.StatusPollTimeout = c.StatusPollInterval }},
		{"negative reconcile attempts", func(c *Config) { c.ReconcileAttempts = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ECLAIR_ADDRESS", "10.0.0.5:8080")
	t.Setenv("ECLAIR_PASSWORD", "secret")
	t.Setenv("RATIO_LOW", "0.3")
	t.Setenv("RATIO_HIGH", "0.7")
	t.Setenv("EXCLUDE_PEERS", "02aaa,02bbb")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NodeAddress != "10.0.0.5:8080" || cfg.NodePassword != "secret" {
		t.Fatalf("node settings not read: %+v", cfg)
	}
	if cfg.RatioLow != 0.3 || cfg.RatioHigh != 0.7 {
		t.Fatalf("band not read: [%v, %v]", cfg.RatioLow, cfg.RatioHigh)
	}
	if len(cfg.ExcludePeers) != 2 || cfg.ExcludePeers[1] != "02bbb" {
		t.Fatalf("peer list not split: %v", cfg.ExcludePeers)
	}
	// Untouched settings keep their defaults.
	if cfg.PollInterval != 10*time.Minute || cfg.FailureCap != 5 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("RATIO_LOW", "0.8")
	t.Setenv("RATIO_HIGH", "0.2")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation failure")
	}
}
