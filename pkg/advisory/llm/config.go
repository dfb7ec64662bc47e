package llm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultModel      = "gpt-4o-mini"
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2

	envAPIKey     = "PERPCORE_LLM_API_KEY"
	envBaseURL    = "PERPCORE_LLM_BASE_URL"
	envModel      = "PERPCORE_LLM_MODEL"
	envTimeout    = "PERPCORE_LLM_TIMEOUT"
	envMaxRetries = "PERPCORE_LLM_MAX_RETRIES"
)

// Config holds runtime settings for the advisory model client.
type Config struct {
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"api_key"`
	Model               string        `yaml:"model"`
	TimeoutRaw          string        `yaml:"timeout"`
	Timeout             time.Duration `yaml:"-"`
	MaxRetries          int           `yaml:"max_retries"`
	Temperature         *float64      `yaml:"temperature,omitempty"`
	MaxCompletionTokens int           `yaml:"max_completion_tokens"`
	JSONMode            bool          `yaml:"json_mode"`
	PromptCostPer1K     float64       `yaml:"prompt_cost_per_1k"`
	CompletionCostPer1K float64       `yaml:"completion_cost_per_1k"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open llm config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from YAML.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read llm config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal llm config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies defaults and environment overrides, then parses the
// timeout. It does not require an API key; see Validate.
func (c *Config) Normalize() error {
	c.applyDefaults()
	c.applyEnvOverrides()
	return c.parseTimeout()
}

// Validate checks that the client can be built.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("llm config: api_key is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("llm config: base_url is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("llm config: model is required")
	}
	if c.Timeout <= 0 {
		return errors.New("llm config: timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("llm config: max_retries cannot be negative")
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Temperature != nil {
		t := *c.Temperature
		cp.Temperature = &t
	}
	return &cp
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = defaultModel
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
}

func (c *Config) applyEnvOverrides() {
	c.BaseURL = expandAndOverride(c.BaseURL, envBaseURL)
	c.APIKey = expandAndOverride(c.APIKey, envAPIKey)
	c.Model = expandAndOverride(c.Model, envModel)
	if raw := os.Getenv(envTimeout); raw != "" {
		c.TimeoutRaw = raw
	} else {
		c.TimeoutRaw = os.ExpandEnv(c.TimeoutRaw)
	}
	if raw := os.Getenv(envMaxRetries); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			c.MaxRetries = v
		}
	}
}

func (c *Config) parseTimeout() error {
	if strings.TrimSpace(c.TimeoutRaw) == "" {
		if c.Timeout <= 0 {
			c.Timeout = defaultTimeout
		}
		return nil
	}
	d, err := time.ParseDuration(c.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("llm config: invalid timeout %q: %w", c.TimeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("llm config: timeout must be positive, got %s", d)
	}
	c.Timeout = d
	return nil
}

func expandAndOverride(current, envKey string) string {
	current = os.ExpandEnv(current)
	if envVal := os.Getenv(envKey); envVal != "" {
		return envVal
	}
	return current
}
