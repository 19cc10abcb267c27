// Package config loads process configuration from environment variables once
// at startup. The resulting Config is treated as immutable.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the vahan-rakshak server.
type Config struct {
	Port     int      `env:"VAHAN_PORT"      envDefault:"8000"`
	Version  string   `env:"VAHAN_VERSION"   envDefault:"0.2.0"`
	LogLevel string   `env:"VAHAN_LOG_LEVEL" envDefault:"info"`
	APIKeys  []string `env:"VAHAN_API_KEYS"  envSeparator:","`
	// CORSOrigins lists allowed browser origins for the dashboard.
	CORSOrigins []string `env:"VAHAN_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	// WriteTimeout bounds one HTTP response. Zero derives it from the
	// orchestrate timeouts, see ResponseTimeout.
	WriteTimeout time.Duration `env:"VAHAN_WRITE_TIMEOUT"`

	Orchestrate OrchestrateConfig
	Agents      AgentsConfig
	Store       StoreConfig
	Notify      NotifyConfig
	Telemetry   TelemetryConfig
}

// OrchestrateConfig locates the remote agent execution service.
type OrchestrateConfig struct {
	URL       string `env:"WATSONX_API_URL"`
	APIKey    string `env:"WATSONX_API_KEY"`
	ProjectID string `env:"WATSONX_PROJECT_ID"`
	SpaceID   string `env:"WATSONX_SPACE_ID"`
	IAMURL    string `env:"WATSONX_IAM_URL" envDefault:"https://iam.cloud.ibm.com/identity/token"`

	// Require makes missing credentials fatal at startup. When false the
	// server starts anyway and agent routes answer 503.
	Require bool `env:"VAHAN_REQUIRE_ORCHESTRATE" envDefault:"false"`

	SubmitTimeout     time.Duration `env:"VAHAN_SUBMIT_TIMEOUT"      envDefault:"600s"`
	ReadTimeout       time.Duration `env:"VAHAN_POLL_READ_TIMEOUT"   envDefault:"10s"`
	MaxWait           time.Duration `env:"VAHAN_POLL_MAX_WAIT"       envDefault:"600s"`
	PollInterval      time.Duration `env:"VAHAN_POLL_INTERVAL"       envDefault:"2s"`
	TokenSafetyMargin time.Duration `env:"VAHAN_TOKEN_SAFETY_MARGIN" envDefault:"60s"`
	TokenTimeout      time.Duration `env:"VAHAN_TOKEN_TIMEOUT"       envDefault:"10s"`
}

// Configured reports whether the credentials needed to reach the service are
// present.
func (c OrchestrateConfig) Configured() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.APIKey) != ""
}

// AgentsConfig names the capabilities and guardian actions used by the API.
type AgentsConfig struct {
	GatekeeperID  string `env:"GATEKEEPER_AGENT_ID"            envDefault:"gatekeeper_v1"`
	GuardianID    string `env:"GUARDIAN_AGENT_ID"              envDefault:"guardian_v1"`
	MonitorAction string `env:"WATSONX_GUARDIAN_ACTION_MONITOR" envDefault:"monitor_driver"`
	SpeedAction   string `env:"WATSONX_GUARDIAN_ACTION_SPEED"   envDefault:"monitor_speed"`
}

// StoreConfig selects where finished workflow results are kept.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend   string        `env:"VAHAN_STORE"           envDefault:"memory"`
	DataDir   string        `env:"VAHAN_DATA_DIR"`
	Retention time.Duration `env:"VAHAN_RESULT_RETENTION" envDefault:"168h"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"   envDefault:"0"`
}

// NotifyConfig lists operator webhooks told about finished workflows.
type NotifyConfig struct {
	WebhookURLs []string      `env:"VAHAN_WEBHOOK_URLS"    envSeparator:","`
	Secret      string        `env:"VAHAN_WEBHOOK_SECRET"`
	Events      []string      `env:"VAHAN_WEBHOOK_EVENTS"  envSeparator:","`
	Timeout     time.Duration `env:"VAHAN_WEBHOOK_TIMEOUT" envDefault:"15s"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled      bool    `env:"OTEL_ENABLED"                envDefault:"false"`
	OTLPEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	ServiceName  string  `env:"OTEL_SERVICE_NAME"           envDefault:"vahan-rakshak"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_ARG"     envDefault:"1"`
	Environment  string  `env:"VAHAN_ENVIRONMENT"           envDefault:"development"`

	// Insecure disables TLS to the collector, the usual sidecar setup.
	Insecure bool `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from environ instead of the process
// environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// maxAgentCallsPerWorkflow is the longest pipeline's agent step count.
const maxAgentCallsPerWorkflow = 5

// ResponseTimeout is WriteTimeout when set. Otherwise it covers the longest
// workflow: every agent call may spend the full submit timeout and then the
// full poll budget, plus one minute of slack.
func (c *Config) ResponseTimeout() time.Duration {
	if c.WriteTimeout > 0 {
		return c.WriteTimeout
	}
	perCall := c.Orchestrate.SubmitTimeout + c.Orchestrate.MaxWait
	return maxAgentCallsPerWorkflow*perCall + time.Minute
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("VAHAN_PORT %d out of range", c.Port))
	}
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("VAHAN_STORE %q must be memory or redis", c.Store.Backend))
	}
	if c.Orchestrate.PollInterval <= 0 || c.Orchestrate.MaxWait <= 0 {
		errs = append(errs, errors.New("poll interval and max wait must be positive"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG %g must be between 0 and 1", c.Telemetry.SampleRatio))
	}
	if c.Orchestrate.Require && !c.Orchestrate.Configured() {
		errs = append(errs, errors.New("VAHAN_REQUIRE_ORCHESTRATE is set but WATSONX_API_URL or WATSONX_API_KEY is missing"))
	}
	return errors.Join(errs...)
}
