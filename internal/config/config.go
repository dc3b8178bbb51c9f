package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Database  DatabaseConfig        `yaml:"database"`
	Redis     RedisConfig           `yaml:"redis"`
	Logging   LoggingConfig         `yaml:"logging"`
	Auth      AuthConfig            `yaml:"auth"`
	RateLimit RateLimitConfig       `yaml:"rate_limit"`
	Quota     QuotaConfig           `yaml:"quota"`
	Plans     map[string]PlanConfig `yaml:"plans"`
}

type ServerConfig struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	// TrustedProxies lists the proxy IPs or CIDRs allowed to set
	// X-Forwarded-For. Empty trusts none, so the client IP is the peer address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Addr takes precedence over Host/Port when set (REDIS_ADDR).
	Addr string `yaml:"addr"`
}

// Returns host:port, or "" when no redis is configured
func (r RedisConfig) GetRedisAddr() string {
	if r.Addr != "" {
		return r.Addr
	}
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

type LoggingConfig struct {
	Level      string `yaml:"level"`  // "debug","info","warn","error"
	Format     string `yaml:"format"` // "text" or "json"
	File       string `yaml:"file"`   // empty means stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	APIKeyHeader string `yaml:"api_key_header"`
}

type PathLimitConfig struct {
	Prefix string `yaml:"prefix"`
	Limit  int    `yaml:"limit"`
}

type BreakerConfig struct {
	MaxFailures    int `yaml:"max_failures"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type RateLimitConfig struct {
	Algorithm                string            `yaml:"algorithm"` // "sliding_window" or "fixed_window"
	UnauthenticatedPerMinute int               `yaml:"unauthenticated_per_minute"`
	ExemptPaths              []string          `yaml:"exempt_paths"`
	ExemptPrefixes           []string          `yaml:"exempt_prefixes"`
	Paths                    []PathLimitConfig `yaml:"paths"`
	Breaker                  BreakerConfig     `yaml:"breaker"`
}

func (b BreakerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type QuotaConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`
	StoreTimeoutMS int `yaml:"store_timeout_ms"`
}

func (q QuotaConfig) StoreTimeout() time.Duration {
	return time.Duration(q.StoreTimeoutMS) * time.Millisecond
}

// A zero limit means unlimited. Nil pointers keep the built-in default for the plan.
type PlanConfig struct {
	RateLimitPerMinute        *int `yaml:"rate_limit_per_minute"`
	PathMultiplier            *int `yaml:"path_multiplier"`
	MonthlyAPICalls           *int `yaml:"monthly_api_calls"`
	MonthlyCrawlPages         *int `yaml:"monthly_crawl_pages"`
	MonthlyKeywordLookups     *int `yaml:"monthly_keyword_lookups"`
	MonthlyAudits             *int `yaml:"monthly_audits"`
	MonthlyContentGenerations *int `yaml:"monthly_content_generations"`
	MonthlyJSRenders          *int `yaml:"monthly_js_renders"`
}

// Reads the YAML file at path. A missing file is not an error: defaults and
// environment overrides still apply.
func Load(path string) (*Config, error) {
	var cfg Config

	file, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Server.TrustedProxies = append(cfg.Server.TrustedProxies, p)
			}
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = "development"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:admission.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups <= 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays <= 0 {
		cfg.Logging.MaxAgeDays = 28
	}
	if cfg.Auth.APIKeyHeader == "" {
		cfg.Auth.APIKeyHeader = "X-API-Key"
	}
	if cfg.RateLimit.Algorithm == "" {
		cfg.RateLimit.Algorithm = "sliding_window"
	}
	if cfg.RateLimit.UnauthenticatedPerMinute <= 0 {
		cfg.RateLimit.UnauthenticatedPerMinute = 20
	}
	if cfg.RateLimit.ExemptPaths == nil {
		cfg.RateLimit.ExemptPaths = []string{"/health", "/metrics", "/docs", "/openapi.json", "/favicon.ico"}
	}
	if cfg.RateLimit.ExemptPrefixes == nil {
		cfg.RateLimit.ExemptPrefixes = []string{"/static/", "/docs/"}
	}
	if cfg.RateLimit.Paths == nil {
		cfg.RateLimit.Paths = []PathLimitConfig{
			{Prefix: "/api/v1/crawl", Limit: 5},
			{Prefix: "/api/v1/audits", Limit: 10},
			{Prefix: "/api/v1/content/generate", Limit: 5},
			{Prefix: "/api/v1/keywords", Limit: 30},
			{Prefix: "/api/v1/render", Limit: 10},
		}
	}
	if cfg.RateLimit.Breaker.MaxFailures <= 0 {
		cfg.RateLimit.Breaker.MaxFailures = 5
	}
	if cfg.RateLimit.Breaker.TimeoutSeconds <= 0 {
		cfg.RateLimit.Breaker.TimeoutSeconds = 10
	}
	if cfg.Quota.MaxAttempts <= 0 {
		cfg.Quota.MaxAttempts = 3
	}
	if cfg.Quota.StoreTimeoutMS <= 0 {
		cfg.Quota.StoreTimeoutMS = 2000
	}
}

func (c *Config) Validate() error {
	switch c.RateLimit.Algorithm {
	case "sliding_window", "fixed_window":
	default:
		return fmt.Errorf("unknown rate limit algorithm: %s", c.RateLimit.Algorithm)
	}

	for _, p := range c.RateLimit.Paths {
		if p.Prefix == "" || p.Limit <= 0 {
			return fmt.Errorf("invalid rate limit path entry: prefix=%q limit=%d", p.Prefix, p.Limit)
		}
	}

	for name, plan := range c.Plans {
		for field, v := range map[string]*int{
			"rate_limit_per_minute":       plan.RateLimitPerMinute,
			"path_multiplier":             plan.PathMultiplier,
			"monthly_api_calls":           plan.MonthlyAPICalls,
			"monthly_crawl_pages":         plan.MonthlyCrawlPages,
			"monthly_keyword_lookups":     plan.MonthlyKeywordLookups,
			"monthly_audits":              plan.MonthlyAudits,
			"monthly_content_generations": plan.MonthlyContentGenerations,
			"monthly_js_renders":          plan.MonthlyJSRenders,
		} {
			if v != nil && *v < 0 {
				return fmt.Errorf("plan %s: %s must not be negative", name, field)
			}
		}
	}

	return nil
}
