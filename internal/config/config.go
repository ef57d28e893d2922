package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Surface modes.
const (
	SurfaceEmbedded = "embedded"
	SurfaceRemote   = "remote"
)

// Config holds bridge configuration loaded from the environment.
type Config struct {
	AppName   string `env:"APP_NAME" envDefault:"webshell_bridge"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	HTTPPort  string `env:"HTTP_PORT" envDefault:"8082"`

	// Upstream push events
	RabbitURL          string        `env:"RABBITMQ_URL"`
	PushQueue          string        `env:"PUSH_QUEUE" envDefault:"push.events"`
	DeadLetterQueue    string        `env:"PUSH_DLQ" envDefault:"push.events.failed"`
	PushExchange       string        `env:"PUSH_EXCHANGE" envDefault:"push.direct"`
	PushRoutingKey     string        `env:"PUSH_ROUTING_KEY" envDefault:"push.event"`
	PrefetchCount      int           `env:"PUSH_PREFETCH" envDefault:"50"`
	WorkerCount        int           `env:"WORKER_COUNT" envDefault:"2"`
	ConnectMaxAttempts int           `env:"CONNECT_MAX_ATTEMPTS" envDefault:"5"`
	ConnectBackoff     time.Duration `env:"CONNECT_INITIAL_BACKOFF" envDefault:"1s"`
	ConnectMaxBackoff  time.Duration `env:"CONNECT_MAX_BACKOFF" envDefault:"15s"`

	// Optional storage
	RedisURL           string        `env:"REDIS_URL"`
	TokenTTL           time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	StatusTable        string        `env:"STATUS_TABLE" envDefault:"token_deliveries"`
	StatusWriteTimeout time.Duration `env:"STATUS_WRITE_TIMEOUT" envDefault:"5s"`

	// Content surface
	Platform        string        `env:"PLATFORM" envDefault:"android"`
	SurfaceMode     string        `env:"SURFACE_MODE" envDefault:"embedded"`
	WebBundlePath   string        `env:"WEB_BUNDLE_PATH"`
	EvaluateTimeout time.Duration `env:"EVALUATE_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Token delivery
	BridgeRetryDelay   time.Duration `env:"BRIDGE_RETRY_DELAY" envDefault:"500ms"`
	SurfaceRetryDelay  time.Duration `env:"SURFACE_RETRY_DELAY" envDefault:"1s"`
	SurfaceMaxAttempts int           `env:"SURFACE_MAX_ATTEMPTS" envDefault:"10"`
	ForwardDataOnly    bool          `env:"FORWARD_DATA_ONLY" envDefault:"false"`
}

// Load reads an optional .env file, parses the environment and validates
// the result.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing, invalid []string
	if c.RabbitURL == "" {
		missing = append(missing, "RABBITMQ_URL")
	}

	switch strings.ToLower(c.SurfaceMode) {
	case SurfaceEmbedded:
		if c.WebBundlePath == "" {
			missing = append(missing, "WEB_BUNDLE_PATH")
		}
	case SurfaceRemote:
	default:
		invalid = append(invalid, "SURFACE_MODE")
	}
	c.SurfaceMode = strings.ToLower(c.SurfaceMode)

	if c.SurfaceMaxAttempts < 1 {
		invalid = append(invalid, "SURFACE_MAX_ATTEMPTS")
	}
	if c.BridgeRetryDelay <= 0 {
		invalid = append(invalid, "BRIDGE_RETRY_DELAY")
	}
	if c.SurfaceRetryDelay <= 0 {
		invalid = append(invalid, "SURFACE_RETRY_DELAY")
	}
	if c.EvaluateTimeout <= 0 {
		invalid = append(invalid, "EVALUATE_TIMEOUT")
	}
	if c.WorkerCount < 1 {
		invalid = append(invalid, "WORKER_COUNT")
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, fmt.Sprintf("missing required environment variables: %v", missing))
	}
	if len(invalid) > 0 {
		problems = append(problems, fmt.Sprintf("invalid environment variables: %v", invalid))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
