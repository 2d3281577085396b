// Package config loads the service configuration from an optional YAML file
// and CHECKOUT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	custom_context "github.com/yourorg/hpp-checkout/internal/context"
	"github.com/yourorg/hpp-checkout/internal/policy"
)

// EnvPrefix is prepended to every environment override, e.g. CHECKOUT_BACKEND_BASE_URL.
const EnvPrefix = "CHECKOUT"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Session   SessionConfig   `mapstructure:"session"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Stores    []StoreConfig   `mapstructure:"stores"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig points at the checkout backend.
type BackendConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	AuthToken     string        `mapstructure:"auth_token"`
}

type BreakerConfig struct {
	FailureThreshold         int           `mapstructure:"failure_threshold"`
	ResetTimeout             time.Duration `mapstructure:"reset_timeout"`
	HalfOpenSuccessThreshold int           `mapstructure:"half_open_success_threshold"`
}

// ReconcileConfig tunes the wait before the confirm lookup.
type ReconcileConfig struct {
	GracePeriod time.Duration     `mapstructure:"grace_period"`
	Rules       []GraceRuleConfig `mapstructure:"rules"`
}

type GraceRuleConfig struct {
	ID          string        `mapstructure:"id"`
	Expression  string        `mapstructure:"expression"`
	Priority    int           `mapstructure:"priority"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

type SessionConfig struct {
	// PageTimeout is how long a hosted page may stay open; zero disables it.
	PageTimeout time.Duration `mapstructure:"page_timeout"`
	// Retention keeps a finished session queryable before it is discarded.
	Retention    time.Duration `mapstructure:"retention"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

// BridgeConfig configures the hosted-page script channel.
type BridgeConfig struct {
	TokenSecret   string        `mapstructure:"token_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	AllowedOrigin []string      `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// StoreConfig is the file form of a store's checkout settings.
type StoreConfig struct {
	ID               string        `mapstructure:"id"`
	AcceptedGateways []string      `mapstructure:"accepted_gateways"`
	SessionTimeout   time.Duration `mapstructure:"session_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("backend.base_url", "http://localhost:9090")
	v.SetDefault("backend.timeout", 15*time.Second)
	v.SetDefault("backend.retry_attempts", 2)
	v.SetDefault("backend.retry_delay", 300*time.Millisecond)
	v.SetDefault("backend.auth_token", "")

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.reset_timeout", 30*time.Second)
	v.SetDefault("breaker.half_open_success_threshold", 1)

	v.SetDefault("reconcile.grace_period", policy.DefaultGracePeriod)

	v.SetDefault("session.page_timeout", 15*time.Minute)
	v.SetDefault("session.retention", 5*time.Minute)
	v.SetDefault("session.history_limit", 1000)

	v.SetDefault("bridge.token_secret", "")
	v.SetDefault("bridge.token_ttl", 15*time.Minute)

	v.SetDefault("log.level", "info")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "hpp-checkout")
}

// Load reads path (when non-empty) and applies environment overrides on top
// of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Backend.RetryAttempts < 0 {
		errs = append(errs, errors.New("backend.retry_attempts cannot be negative"))
	}
	if c.Reconcile.GracePeriod < 0 {
		errs = append(errs, errors.New("reconcile.grace_period cannot be negative"))
	}
	if c.Session.PageTimeout < 0 {
		errs = append(errs, errors.New("session.page_timeout cannot be negative"))
	}
	if c.Session.HistoryLimit < 0 {
		errs = append(errs, errors.New("session.history_limit cannot be negative"))
	}
	for _, s := range c.Stores {
		if s.ID == "" {
			errs = append(errs, errors.New("stores: id is required"))
		}
		for _, g := range s.AcceptedGateways {
			if !checkout.GatewayType(g).Valid() {
				errs = append(errs, fmt.Errorf("stores: %s: unknown gateway %q", s.ID, g))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// GraceRules converts the configured rules for policy.NewGracePolicy.
func (c *Config) GraceRules() []policy.GraceRule {
	rules := make([]policy.GraceRule, 0, len(c.Reconcile.Rules))
	for _, r := range c.Reconcile.Rules {
		rules = append(rules, policy.GraceRule{
			ID:          r.ID,
			Expression:  r.Expression,
			Priority:    r.Priority,
			GracePeriod: r.GracePeriod,
		})
	}
	return rules
}

// StoreConfigs converts the configured stores for the store repository.
func (c *Config) StoreConfigs() []custom_context.StoreConfig {
	out := make([]custom_context.StoreConfig, 0, len(c.Stores))
	for _, s := range c.Stores {
		gateways := make([]checkout.GatewayType, 0, len(s.AcceptedGateways))
		for _, g := range s.AcceptedGateways {
			gateways = append(gateways, checkout.GatewayType(g))
		}
		out = append(out, custom_context.StoreConfig{
			ID:               s.ID,
			AcceptedGateways: gateways,
			SessionTimeout:   s.SessionTimeout,
		})
	}
	return out
}
