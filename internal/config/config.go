package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Entropy     EntropyConfig     `yaml:"entropy"`
	Penalty     PenaltyConfig     `yaml:"penalty"`
	Compression CompressionConfig `yaml:"compression"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Security    SecurityConfig    `yaml:"security"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Judge       JudgeConfig       `yaml:"judge"`
	Sieve       SieveConfig       `yaml:"sieve"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Redis       RedisConfig       `yaml:"redis"`
	Database    DatabaseConfig    `yaml:"database"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// EntropyConfig sets the band edges of the threat classification:
// H <= clean_max is CLEAN, H > weird_min is WEIRD.
type EntropyConfig struct {
	CleanMax float64 `yaml:"clean_max"`
	WeirdMin float64 `yaml:"weird_min"`
}

// PenaltyConfig controls the penalty box. HalfLife is the exponential
// decay constant of offense scores.
type PenaltyConfig struct {
	Threshold float64       `yaml:"threshold"`
	HalfLife  time.Duration `yaml:"half_life"`
}

// CompressionConfig selects sieve aggressiveness per threat state and
// the savings percentage above which a prompt counts as token stuffing.
type CompressionConfig struct {
	BaseLevel          float64 `yaml:"base_level"`
	SuspiciousLevel    float64 `yaml:"suspicious_level"`
	PenalisedLevel     float64 `yaml:"penalised_level"`
	AttackThresholdPct float64 `yaml:"attack_threshold_pct"`
}

// TimeoutsConfig bounds the three downstream calls a request can make.
type TimeoutsConfig struct {
	Sieve    time.Duration `yaml:"sieve"`
	Judge    time.Duration `yaml:"judge"`
	Upstream time.Duration `yaml:"upstream"`
}

type SecurityConfig struct {
	Patterns PatternsConfig `yaml:"patterns"`
}

// PatternsConfig carries the signature regex families. Empty lists mean
// the built-in defaults.
type PatternsConfig struct {
	RoleHijack          []string `yaml:"role_hijack"`
	InstructionOverride []string `yaml:"instruction_override"`
}

// PipelineConfig holds behavioural switches for target extraction.
// ScanLastUser relaxes the strict "final message must be the user turn"
// rule to "last user-role message anywhere in the sequence".
type PipelineConfig struct {
	ScanLastUser bool `yaml:"scan_last_user"`
}

type JudgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type SieveConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type UpstreamConfig struct {
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Model          string               `yaml:"model"`
	Headers        map[string]string    `yaml:"headers"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

// RateLimitConfig caps inbound requests per fingerprint. Requires
// redis; without it the limiter allows everything. DailyTokenBudget
// additionally caps billed tokens per fingerprint per UTC day; zero
// disables the budget.
type RateLimitConfig struct {
	Enabled           bool  `yaml:"enabled"`
	RequestsPerMinute int   `yaml:"requests_per_minute"`
	DailyTokenBudget  int64 `yaml:"daily_token_budget"`
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

// DatabaseConfig points at the audit journal. An empty host disables
// auditing entirely.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Entropy: EntropyConfig{
			CleanMax: 5.5,
			WeirdMin: 6.5,
		},
		Penalty: PenaltyConfig{
			Threshold: 2.5,
			HalfLife:  10 * time.Minute,
		},
		Compression: CompressionConfig{
			BaseLevel:          0.5,
			SuspiciousLevel:    0.7,
			PenalisedLevel:     0.8,
			AttackThresholdPct: 80,
		},
		Timeouts: TimeoutsConfig{
			Sieve:    30 * time.Second,
			Judge:    30 * time.Second,
			Upstream: 60 * time.Second,
		},
		Judge: JudgeConfig{
			Enabled: true,
			URL:     "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Sieve: SieveConfig{
			URL: "https://api.thetokencompany.com/v1/compress",
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  50,
		},
		Database: DatabaseConfig{
			Host:            "",
			Port:            5432,
			Name:            "shield",
			User:            "shield",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}
