package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/owulveryck/agentcore/internal/observability"
	"github.com/owulveryck/agentcore/internal/orchestrator"
)

// AppConfig holds all application configuration
type AppConfig struct {
	// Transport
	GRPCAddr   string
	HealthAddr string

	// Service Configuration
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
	OTLPEndpoint   string

	// Observability
	SampleInterval   time.Duration
	MetricsRetention int

	// Orchestration
	DefaultMode      string
	MaxIterations    int
	ConvergenceToken string
	ConcurrencyLimit int
	FailFast         bool

	// Gemini backend; the mock brain is used when neither key nor project is set
	GeminiAPIKey string
	GCPProject   string
	GCPLocation  string
	GeminiModel  string

	AgentsFile string
	Agents     AgentsFile
}

// Load reads .env.local and .env when present, then the environment, then
// the agents file named by AGENTCORE_AGENTS_FILE. Without an agents file the
// default agents are used.
func Load() (*AppConfig, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	c := &AppConfig{
		GRPCAddr:   getEnv("AGENTCORE_GRPC_ADDR", "localhost:50051"),
		HealthAddr: getEnv("AGENTCORE_HEALTH_ADDR", ":8080"),

		ServiceName:    getEnv("SERVICE_NAME", "agentcore"),
		ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", ""),

		SampleInterval:   getEnvAsDuration("AGENTCORE_SAMPLE_INTERVAL", observability.DefaultSampleInterval),
		MetricsRetention: getEnvAsInt("AGENTCORE_METRICS_RETENTION", observability.DefaultRetention),

		DefaultMode:      getEnv("AGENTCORE_DEFAULT_MODE", string(orchestrator.ModeSingle)),
		MaxIterations:    getEnvAsInt("AGENTCORE_MAX_ITERATIONS", orchestrator.DefaultMaxIterations),
		ConvergenceToken: getEnv("AGENTCORE_CONVERGENCE_TOKEN", orchestrator.DefaultConvergenceToken),
		ConcurrencyLimit: getEnvAsInt("AGENTCORE_CONCURRENCY_LIMIT", 0),
		FailFast:         getEnvAsBool("AGENTCORE_FAIL_FAST", false),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GCPProject:   getEnv("GCP_PROJECT", ""),
		GCPLocation:  getEnv("GCP_LOCATION", "us-central1"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		AgentsFile: getEnv("AGENTCORE_AGENTS_FILE", ""),
	}

	if c.AgentsFile != "" {
		agents, err := LoadAgentsFile(c.AgentsFile)
		if err != nil {
			return nil, err
		}
		c.Agents = *agents
	}
	if len(c.Agents.Agents) == 0 {
		c.Agents.Agents = DefaultAgents()
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadEnvFiles loads .env.local then .env; variables already set win.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// UseGemini reports whether a Gemini backend is configured.
func (c *AppConfig) UseGemini() bool {
	return c.GeminiAPIKey != "" || c.GCPProject != ""
}

// Validate rejects values the server cannot start with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("sample interval must be positive, got %s", c.SampleInterval))
	}
	if c.MetricsRetention <= 0 {
		errs = append(errs, fmt.Errorf("metrics retention must be positive, got %d", c.MetricsRetention))
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max iterations must be positive, got %d", c.MaxIterations))
	}
	if c.ConcurrencyLimit < 0 {
		errs = append(errs, fmt.Errorf("concurrency limit cannot be negative, got %d", c.ConcurrencyLimit))
	}
	if strings.TrimSpace(c.ConvergenceToken) == "" {
		errs = append(errs, errors.New("convergence token cannot be empty"))
	}
	if _, err := orchestrator.ParseMode(c.DefaultMode); err != nil {
		errs = append(errs, err)
	}
	if err := c.Agents.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
