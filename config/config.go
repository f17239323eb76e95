package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the jobflow server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Billing   BillingConfig
	Jobs      JobsConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// BillingConfig carries the commission parameters. The rate is read at
// settlement time, never cached on a job.
type BillingConfig struct {
	CommissionRate    float64
	CommissionDueDays int
	KYCDeadlineDays   int
	// GatewayURL is the payment provider's API base. Empty disables direct
	// purchases; webhooks still work.
	GatewayURL string
}

type JobsConfig struct {
	// FinalPriceTimeout is the window the customer has to confirm a
	// proposed final price before the system confirms it.
	FinalPriceTimeout time.Duration
	// ReminderThresholdHours must be strictly descending, e.g. 24,12,6,2,1.
	ReminderThresholdHours []int
	DefaultMaxContractors  int
}

type SchedulerConfig struct {
	AutoConfirmInterval time.Duration
	ReminderInterval    time.Duration
	OverdueInterval     time.Duration
	AllocationInterval  time.Duration
	OutboxInterval      time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Missing or invalid required values abort startup, not a request.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("JOBFLOW_PORT", 8080),
			Env:  envString("JOBFLOW_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxConns:        envInt("DATABASE_MAX_CONNS", 25),
			MinConns:        envInt("DATABASE_MIN_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			TokenTTL:  envDuration("JWT_TOKEN_TTL", 24*time.Hour),
		},
		Billing: BillingConfig{
			CommissionDueDays: envInt("COMMISSION_DUE_DAYS", 14),
			KYCDeadlineDays:   envInt("KYC_DEADLINE_DAYS", 14),
			GatewayURL:        os.Getenv("PAYMENT_GATEWAY_URL"),
		},
		Jobs: JobsConfig{
			FinalPriceTimeout:     envDuration("FINAL_PRICE_TIMEOUT", 48*time.Hour),
			DefaultMaxContractors: envInt("DEFAULT_MAX_CONTRACTORS", 3),
		},
		Scheduler: SchedulerConfig{
			AutoConfirmInterval: envDuration("SCHEDULER_AUTO_CONFIRM_INTERVAL", time.Hour),
			ReminderInterval:    envDuration("SCHEDULER_REMINDER_INTERVAL", 6*time.Hour),
			OverdueInterval:     envDuration("SCHEDULER_OVERDUE_INTERVAL", 24*time.Hour),
			AllocationInterval:  envDuration("SCHEDULER_ALLOCATION_INTERVAL", 7*24*time.Hour),
			OutboxInterval:      envDuration("SCHEDULER_OUTBOX_INTERVAL", 5*time.Second),
		},
	}

	rate, err := requiredFloat("COMMISSION_RATE")
	if err != nil {
		return nil, err
	}
	cfg.Billing.CommissionRate = rate

	thresholds, err := parseThresholds(envString("REMINDER_THRESHOLD_HOURS", "24,12,6,2,1"))
	if err != nil {
		return nil, err
	}
	cfg.Jobs.ReminderThresholdHours = thresholds

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.Billing.CommissionRate <= 0 || c.Billing.CommissionRate >= 1 {
		return fmt.Errorf("config: COMMISSION_RATE must be between 0 and 1, got %v", c.Billing.CommissionRate)
	}
	if c.Billing.CommissionDueDays <= 0 {
		return fmt.Errorf("config: COMMISSION_DUE_DAYS must be positive")
	}
	if c.Jobs.FinalPriceTimeout <= 0 {
		return fmt.Errorf("config: FINAL_PRICE_TIMEOUT must be positive")
	}
	return nil
}

func parseThresholds(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	prev := 0
	for _, p := range parts {
		h, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("config: invalid reminder threshold %q", p)
		}
		if prev != 0 && h >= prev {
			return nil, fmt.Errorf("config: reminder thresholds must be strictly descending, got %q", raw)
		}
		out = append(out, h)
		prev = h
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: at least one reminder threshold is required")
	}
	return out, nil
}

func requiredFloat(key string) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, fmt.Errorf("config: %s is required", key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q", key, raw)
	}
	return v, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
