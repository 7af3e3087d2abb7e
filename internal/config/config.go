// Package config defines the application configuration for the Volvo bridge
// and provides functionality to load it from a YAML file with environment
// variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultPollSeconds is used when poll-seconds is absent from the config.
const DefaultPollSeconds = 300

// Config holds the complete runtime configuration of the bridge.
type Config struct {
	// ClientID is the OAuth client identifier issued by the Volvo developer portal.
	ClientID string `yaml:"client-id"`

	// ClientSecret is the OAuth client secret paired with ClientID.
	ClientSecret string `yaml:"client-secret"`

	// RedirectURI is the OAuth redirect URI registered for this client.
	// The callback route must be reachable at this address.
	RedirectURI string `yaml:"redirect-uri"`

	// Scopes is the space-separated OAuth scope string. It must include the
	// conve:vehicle_relation scope or VIN discovery will be rejected.
	Scopes string `yaml:"scopes"`

	// VCCAPIKey is the Volvo API key sent as the vcc-api-key header on every
	// telemetry request.
	VCCAPIKey string `yaml:"vcc-api-key"`

	// PollSeconds is the telemetry poll interval in seconds.
	PollSeconds int `yaml:"poll-seconds"`

	// Listen is the host:port the HTTP surface binds to.
	Listen string `yaml:"listen"`

	// TokenFile is the path of the persisted OAuth token set.
	TokenFile string `yaml:"token-file"`

	// LoggingToFile mirrors logs into a rotated file under LogDir when true.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogDir is the directory for rotated log files.
	LogDir string `yaml:"log-dir"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug"`
}

// LoadConfig reads the YAML configuration file at the given path, applies
// defaults and environment overrides, and validates the result.
//
// Parameters:
//   - configFile: Path to the YAML configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if reading, parsing or validation fails
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PollSeconds <= 0 {
		c.PollSeconds = DefaultPollSeconds
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8765"
	}
	if c.TokenFile == "" {
		c.TokenFile = "tokens.json"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
}

// applyEnvOverrides applies VOLVOBRIDGE_* environment variables on top of
// the file values. Empty variables are ignored.
func (c *Config) applyEnvOverrides() {
	overrides := map[string]*string{
		"VOLVOBRIDGE_CLIENT_ID":     &c.ClientID,
		"VOLVOBRIDGE_CLIENT_SECRET": &c.ClientSecret,
		"VOLVOBRIDGE_REDIRECT_URI":  &c.RedirectURI,
		"VOLVOBRIDGE_SCOPES":        &c.Scopes,
		"VOLVOBRIDGE_VCC_API_KEY":   &c.VCCAPIKey,
		"VOLVOBRIDGE_LISTEN":        &c.Listen,
		"VOLVOBRIDGE_TOKEN_FILE":    &c.TokenFile,
	}
	for name, target := range overrides {
		if v := os.Getenv(name); v != "" {
			*target = v
		}
	}
	if v := os.Getenv("VOLVOBRIDGE_POLL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PollSeconds = n
		}
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures. Login credentials are intentionally not required here:
// the /login route reports missing OAuth settings on its own so the server
// can still start and serve /ping.
func (c *Config) Validate() error {
	if c.PollSeconds <= 0 {
		return fmt.Errorf("poll-seconds must be positive, got %d", c.PollSeconds)
	}
	if c.RedirectURI != "" {
		if _, err := url.Parse(c.RedirectURI); err != nil {
			return fmt.Errorf("redirect-uri is not a valid URL: %w", err)
		}
	}
	return nil
}

// HasLoginConfig reports whether the settings required by the /login route
// are present.
func (c *Config) HasLoginConfig() bool {
	return c.ClientID != "" && c.RedirectURI != "" && c.Scopes != ""
}
