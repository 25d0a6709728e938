package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL         = "https://api.groq.com/openai/v1"
	defaultModel           = "moonshotai/kimi-k2-instruct"
	defaultMaxOutputTokens = 16384
	defaultHost            = "localhost"
	defaultPort            = 7187
)

// Config represents the full application configuration. It is captured once
// at startup and treated as immutable afterwards.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	Upstream Upstream     `yaml:"upstream"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Upstream captures authentication and routing info for the backend
// completion provider.
type Upstream struct {
	APIKey          string  `yaml:"api_key"`
	BaseURL         string  `yaml:"base_url"`
	Model           string  `yaml:"model"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Provider        string  `yaml:"provider"`
	Headers         Headers `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with a backend request.
type Headers map[string]string

// Default returns the configuration baseline before file and environment
// layering.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: defaultHost,
			Port: defaultPort,
		},
		Upstream: Upstream{
			BaseURL:         defaultBaseURL,
			Model:           defaultModel,
			MaxOutputTokens: defaultMaxOutputTokens,
		},
	}
}

// Load assembles the configuration: defaults, then the optional YAML file,
// then environment variables (with an optional .env file loaded first).
// The result is validated before being returned.
func Load(cfgPath, envPath string) (Config, error) {
	cfg := Default()

	if cfgPath != "" {
		if err := cfg.loadFile(cfgPath); err != nil {
			return Config{}, err
		}
	}

	if err := loadDotenv(envPath); err != nil {
		return Config{}, err
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if cfg.Upstream.Provider == "" {
		cfg.Upstream.Provider = inferProvider(cfg.Upstream.BaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", absPath, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", absPath, err)
	}
	return nil
}

// loadDotenv loads an explicit .env file, or ./.env when one exists.
// A missing default file is not an error.
func loadDotenv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %q: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("API_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		c.Upstream.Model = v
	}
	if v := os.Getenv("PROVIDER_NAME"); v != "" {
		c.Upstream.Provider = v
	}
	if v := os.Getenv("PROXY_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("MAX_OUTPUT_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_OUTPUT_TOKENS %q must be an integer: %w", v, err)
		}
		c.Upstream.MaxOutputTokens = n
	}
	if v := os.Getenv("PROXY_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PROXY_PORT %q must be an integer: %w", v, err)
		}
		c.Server.Port = n
	}
	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be a valid TCP port, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		return fmt.Errorf("upstream api_key must be provided (set API_KEY)")
	}
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		return fmt.Errorf("upstream base_url must be provided (set BASE_URL)")
	}
	if strings.TrimSpace(c.Upstream.Model) == "" {
		return fmt.Errorf("upstream model must be provided (set MODEL_NAME)")
	}
	if c.Upstream.MaxOutputTokens <= 0 {
		return fmt.Errorf("upstream max_output_tokens must be positive, got %d", c.Upstream.MaxOutputTokens)
	}
	for headerKey := range c.Upstream.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("upstream header %q is not a valid canonical HTTP header", headerKey)
		}
	}
	return nil
}

// ModelLabel is the provider-qualified model name echoed on responses.
func (c Config) ModelLabel() string {
	return c.Upstream.Provider + "/" + c.Upstream.Model
}

func inferProvider(baseURL string) string {
	base := strings.ToLower(baseURL)
	switch {
	case strings.Contains(base, "groq.com"):
		return "groq"
	case strings.Contains(base, "openai.com"):
		return "openai"
	case strings.Contains(base, "openrouter.ai"):
		return "openrouter"
	case strings.Contains(base, "ollama"):
		return "ollama"
	case strings.Contains(base, "anthropic.com"), strings.Contains(base, "claude"):
		return "anthropic"
	case strings.Contains(base, "novita"):
		return "novita"
	case strings.Contains(base, "baseten"):
		return "baseten"
	default:
		return "custom"
	}
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
