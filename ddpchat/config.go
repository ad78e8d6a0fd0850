package ddpchat

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config controls how the client connects and what it asks for.
type Config struct {
	URL   string `yaml:"url" env:"DDPCHAT_URL"`
	Token string `yaml:"token" env:"DDPCHAT_TOKEN"` // resume token for login

	// ProtocolVersions are offered in the connect frame, preferred first.
	ProtocolVersions []string `yaml:"protocol_versions" env:"DDPCHAT_PROTOCOL_VERSIONS" envSeparator:","`

	// HistoryLimit is how many recent messages loadHistory asks for.
	HistoryLimit int `yaml:"history_limit" env:"DDPCHAT_HISTORY_LIMIT"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"DDPCHAT_HANDSHAKE_TIMEOUT"`
	// ReadTimeout bounds the silence between frames. The server pings
	// periodically, so a silent link past this is treated as dead.
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"DDPCHAT_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"DDPCHAT_WRITE_TIMEOUT"`

	MaxFrameBytes int64 `yaml:"max_frame_bytes" env:"DDPCHAT_MAX_FRAME_BYTES"`
	SendBuffer    int   `yaml:"send_buffer" env:"DDPCHAT_SEND_BUFFER"`
}

// DefaultConfig returns sensible defaults.
// Set a timeout to 0 to disable it.
func DefaultConfig() Config {
	return Config{
		ProtocolVersions: []string{"1", "pre2", "pre1"},
		HistoryLimit:     10,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxFrameBytes:    1 << 20,
		SendBuffer:       64,
	}
}

// LoadConfig reads the config with ReadConfig and validates it.
func LoadConfig(path string) (Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadConfig starts from DefaultConfig, applies the YAML file at path (if
// path is not empty) and then DDPCHAT_* environment overrides.
func ReadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports the first problem with the config.
func (c Config) Validate() error {
	if c.URL == "" {
		return WrapError(ErrorInvalidConfig, "invalid config", errors.New("empty URL"))
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return WrapError(ErrorInvalidConfig, "invalid config", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return WrapError(ErrorInvalidConfig, "invalid config",
			fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if len(c.ProtocolVersions) == 0 {
		return WrapError(ErrorInvalidConfig, "invalid config", errors.New("no protocol versions"))
	}
	if c.HistoryLimit <= 0 {
		return WrapError(ErrorInvalidConfig, "invalid config",
			fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit))
	}
	return nil
}
