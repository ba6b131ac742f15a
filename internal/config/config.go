package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full configuration surface of the daemon. Everything is
// read from the environment once at startup and threaded through explicitly;
// nothing mutates it after Load returns.
type Config struct {
	// Node connection.
	NodeAddress  string        `env:"ECLAIR_ADDRESS" envDefault:"localhost:8080"`
	NodePassword string        `env:"ECLAIR_PASSWORD"`
	CallTimeout  time.Duration `env:"CALL_TIMEOUT" envDefault:"15s"`

	// Pass scheduling.
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"10m"`
	MaxCandidates     int           `env:"MAX_CANDIDATES_PER_PASS" envDefault:"3"`

	// Target balance band and amount planning.
	RatioLow     float64 `env:"RATIO_LOW" envDefault:"0.4"`
	RatioHigh    float64 `env:"RATIO_HIGH" envDefault:"0.6"`
	MaxAmountSat int64   `env:"MAX_AMOUNT_SAT" envDefault:"1000000"`
	MinAmountSat int64   `env:"MIN_AMOUNT_SAT" envDefault:"10000"`
	ReserveSat   int64   `env:"RESERVE_SAT" envDefault:"10000"`

	// Fee budget.
	FeeCapSat       int64         `env:"FEE_CAP_SAT" envDefault:"100"`
	FeeCapPct       float64       `env:"FEE_CAP_PCT" envDefault:"0.05"`
	EpochBudgetSat  int64         `env:"EPOCH_BUDGET_SAT" envDefault:"2000"`
	EpochLength     time.Duration `env:"EPOCH_LENGTH" envDefault:"24h"`
	MinViableFeeSat int64         `env:"MIN_VIABLE_FEE_SAT" envDefault:"1"`

	// Failure backoff.
	CooldownBase       time.Duration `env:"COOLDOWN_BASE" envDefault:"10m"`
	CooldownMax        time.Duration `env:"COOLDOWN_MAX" envDefault:"24h"`
	FailureCap         int           `env:"FAILURE_CAP" envDefault:"5"`
	ExclusionPermanent bool          `env:"EXCLUSION_PERMANENT" envDefault:"true"`

	// Peer policy.
	AllowSamePeer bool     `env:"ALLOW_SAME_PEER" envDefault:"false"`
	IncludePeers  []string `env:"INCLUDE_PEERS" envSeparator:","`
	ExcludePeers  []string `env:"EXCLUDE_PEERS" envSeparator:","`

	// Payment status polling and reconciliation.
	StatusPollInterval time.Duration `env:"STATUS_POLL_INTERVAL" envDefault:"2s"`
	StatusPollTimeout  time.Duration `env:"STATUS_POLL_TIMEOUT" envDefault:"90s"`
	ReconcileAttempts  int           `env:"RECONCILE_ATTEMPTS" envDefault:"5"`
	ReconcileInterval  time.Duration `env:"RECONCILE_INTERVAL" envDefault:"30s"`

	// Observability API and optional persistence.
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:"127.0.0.1:9735"`
	PostgresDSN string `env:"POSTGRES_DSN"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.NodeAddress == "" {
		return errors.New("node address required")
	}
	if c.RatioLow <= 0 || c.RatioHigh >= 1 || c.RatioLow >= c.RatioHigh {
		return fmt.Errorf("invalid balance band [%v, %v]", c.RatioLow, c.RatioHigh)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.MaxAmountSat <= 0 || c.MinAmountSat <= 0 {
		return errors.New("amount caps must be positive")
	}
	if c.MinAmountSat > c.MaxAmountSat {
		return errors.New("minimum amount exceeds per-attempt cap")
	}
	if c.ReserveSat < 0 {
		return errors.New("reserve margin must not be negative")
	}
	if c.FeeCapSat <= 0 || c.FeeCapPct <= 0 || c.EpochBudgetSat <= 0 {
		return errors.New("fee caps must be positive")
	}
	if c.EpochLength < time.Minute {
		return errors.New("epoch length too short")
	}
	if c.MinViableFeeSat <= 0 {
		return errors.New("minimum viable fee must be positive")
	}
	if c.CooldownBase <= 0 || c.CooldownMax < c.CooldownBase {
		return errors.New("invalid cool-down bounds")
	}
	if c.FailureCap <= 0 {
		return errors.New("failure cap must be positive")
	}
	if c.MaxCandidates <= 0 {
		return errors.New("max candidates per pass must be positive")
	}
	if c.StatusPollInterval <= 0 || c.StatusPollTimeout <= c.StatusPollInterval {
		return errors.New("invalid status poll bounds")
	}
	if c.ReconcileAttempts < 0 || c.ReconcileInterval <= 0 {
		return errors.New("invalid reconciliation bounds")
	}
	return nil
}
