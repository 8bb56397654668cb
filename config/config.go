/*
Package config loads Socket Mode client settings from a yaml file. Environment variables take
precedence over the file so a deployment can override a checked-in config without editing it.
*/
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slacknet/slacksdk/logger"
)

const (
	AppTokenEnvVar        = "SLACK_APP_TOKEN"
	ApiUrlEnvVar          = "SLACK_API_URL"
	ConnectionsEnvVar     = "SLACK_SOCKET_CONNECTIONS"
	DebugReconnectsEnvVar = "SLACK_DEBUG_RECONNECTS"
	LogLevelEnvVar        = "SLACK_LOG_LEVEL"
	LogFileEnvVar         = "SLACK_LOG_FILE"

	appTokenPrefix = "xapp-"

	// the platform refuses more than this many simultaneous connections per app
	MaxConnections = 10
)

type Config struct {
	AppToken            string        `yaml:"appToken"`
	ApiUrl              string        `yaml:"apiUrl"`
	NumberOfConnections int           `yaml:"numberOfConnections"`
	ConnectionDelay     time.Duration `yaml:"connectionDelay"`
	DebugReconnects     bool          `yaml:"debugReconnects"`
	PingTimeout         time.Duration `yaml:"pingTimeout"`
	AckDeadline         time.Duration `yaml:"ackDeadline"`
	SubscriberBuffer    int           `yaml:"subscriberBuffer"`

	Backoff Backoff `yaml:"backoff"`
	Log     Log     `yaml:"log"`
}

type Backoff struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	ResetAfter time.Duration `yaml:"resetAfter"`
}

type Log struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"filePath"`
}

func Default() *Config {
	return &Config{
		ApiUrl:              "https://slack.com/api/",
		NumberOfConnections: 1,
		ConnectionDelay:     time.Second,
		PingTimeout:         30 * time.Second,
		AckDeadline:         2500 * time.Millisecond,
		SubscriberBuffer:    100,
		Backoff: Backoff{
			Initial:    time.Second,
			Max:        5 * time.Second,
			Multiplier: 2,
			ResetAfter: 5 * time.Minute,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates the result.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &FileError{Path: path, InnerErr: err}
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, &ValidationError{InnerErr: fmt.Errorf("malformed yaml in %s: %w", path, err)}
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	if value, ok := os.LookupEnv(AppTokenEnvVar); ok {
		c.AppToken = value
	}

	if value, ok := os.LookupEnv(ApiUrlEnvVar); ok {
		c.ApiUrl = value
	}

	if value, ok := os.LookupEnv(ConnectionsEnvVar); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ValidationError{Field: ConnectionsEnvVar, InnerErr: err}
		}
		c.NumberOfConnections = n
	}

	if value, ok := os.LookupEnv(DebugReconnectsEnvVar); ok {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return &ValidationError{Field: DebugReconnectsEnvVar, InnerErr: err}
		}
		c.DebugReconnects = enabled
	}

	if value, ok := os.LookupEnv(LogLevelEnvVar); ok {
		c.Log.Level = value
	}

	if value, ok := os.LookupEnv(LogFileEnvVar); ok {
		c.Log.FilePath = value
	}

	return nil
}

func (c *Config) Validate() error {
	if c.AppToken == "" {
		return &ValidationError{Field: "appToken", InnerErr: fmt.Errorf("an app-level token is required, set %s", AppTokenEnvVar)}
	} else if !strings.HasPrefix(c.AppToken, appTokenPrefix) {
		return &ValidationError{Field: "appToken", InnerErr: fmt.Errorf("app-level tokens start with %s", appTokenPrefix)}
	}

	if _, err := url.ParseRequestURI(c.ApiUrl); err != nil {
		return &ValidationError{Field: "apiUrl", InnerErr: err}
	}

	if c.NumberOfConnections < 1 || c.NumberOfConnections > MaxConnections {
		return &ValidationError{Field: "numberOfConnections", InnerErr: fmt.Errorf("must be between 1 and %d, got %d", MaxConnections, c.NumberOfConnections)}
	}

	durations := map[string]time.Duration{
		"pingTimeout":        c.PingTimeout,
		"ackDeadline":        c.AckDeadline,
		"backoff.initial":    c.Backoff.Initial,
		"backoff.max":        c.Backoff.Max,
		"backoff.resetAfter": c.Backoff.ResetAfter,
	}
	for field, d := range durations {
		if d <= 0 {
			return &ValidationError{Field: field, InnerErr: fmt.Errorf("must be positive, got %s", d)}
		}
	}

	if c.ConnectionDelay < 0 {
		return &ValidationError{Field: "connectionDelay", InnerErr: fmt.Errorf("must not be negative")}
	}

	if c.Backoff.Max < c.Backoff.Initial {
		return &ValidationError{Field: "backoff.max", InnerErr: fmt.Errorf("%s is less than the initial interval %s", c.Backoff.Max, c.Backoff.Initial)}
	}

	if c.Backoff.Multiplier < 1 {
		return &ValidationError{Field: "backoff.multiplier", InnerErr: fmt.Errorf("must be at least 1, got %v", c.Backoff.Multiplier)}
	}

	if _, err := logger.ToLogLevel(c.Log.Level); err != nil {
		return &ValidationError{Field: "log.level", InnerErr: err}
	}

	return nil
}
