//Package conf loads the messaging client configuration: defaults, then an
//optional TOML file, then KELMAH_-prefixed environment variables.
package conf

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

//Config is the client configuration.
type Config struct {
	API struct {
		BaseURL string `koanf:"base_url"`
		Token   string `koanf:"token"`
	} `koanf:"api"`
	WS struct {
		URL string `koanf:"url"`
	} `koanf:"ws"`
	Messaging struct {
		TypingQuietWindowMS int `koanf:"typing_quiet_window_ms"`
		SweepIntervalMS     int `koanf:"sweep_interval_ms"`
		SendAckTimeoutMS    int `koanf:"send_ack_timeout_ms"`
	} `koanf:"messaging"`
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

//TypingQuietWindow returns the configured quiet window as a duration.
func (c *Config) TypingQuietWindow() time.Duration {
	return time.Duration(c.Messaging.TypingQuietWindowMS) * time.Millisecond
}

//SweepInterval returns the configured sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Messaging.SweepIntervalMS) * time.Millisecond
}

//SendAckTimeout returns the configured send acknowledgement timeout.
func (c *Config) SendAckTimeout() time.Duration {
	return time.Duration(c.Messaging.SendAckTimeoutMS) * time.Millisecond
}

//Load reads the configuration. An empty configPath tries the default
//locations and silently falls back to defaults + environment.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"api.base_url":                     "http://localhost:5000/api/messages",
		"ws.url":                           "ws://localhost:5000/socket",
		"messaging.typing_quiet_window_ms": 2000,
		"messaging.sweep_interval_ms":      1000,
		"messaging.send_ack_timeout_ms":    10000,
		"log.level":                        "info",
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, path := range []string{"./kelmah-messaging.toml", "$HOME/.kelmah-messaging.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	//Config keys are two levels deep, so only the first underscore separates
	//section from leaf: KELMAH_MESSAGING_TYPING_QUIET_WINDOW_MS maps to
	//messaging.typing_quiet_window_ms.
	k.Load(env.Provider("KELMAH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "KELMAH_")), "_", ".", 1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &config, nil
}

//Validate checks the fields nothing can run without.
func Validate(config *Config) error {
	if config.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if config.WS.URL == "" {
		return fmt.Errorf("ws.url is required")
	}
	if config.Messaging.TypingQuietWindowMS < 0 {
		return fmt.Errorf("messaging.typing_quiet_window_ms must not be negative")
	}
	return nil
}
