// Package config loads and validates the gateway's YAML configuration.
package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18880,
			Bind: "loopback",
		},
		Router: RouterConfig{
			EngineURL:      "http://chat-service:8000",
			TimeoutSeconds: 30,
			MaxRetries:     3,
			RetryDelaySecs: 1.0,
		},
		Normalizer: NormalizerConfig{
			MaxTextLength:  4096,
			MaxElements:    10,
			MaxImageSizeKB: 10240,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "mcpgate.db",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}

// applyDefaults fills zero-valued fields after unmarshal so partial config
// files inherit the defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = def.Gateway.Bind
	}
	if cfg.Router.EngineURL == "" {
		cfg.Router.EngineURL = def.Router.EngineURL
	}
	if cfg.Router.TimeoutSeconds == 0 {
		cfg.Router.TimeoutSeconds = def.Router.TimeoutSeconds
	}
	if cfg.Router.MaxRetries == 0 {
		cfg.Router.MaxRetries = def.Router.MaxRetries
	}
	if cfg.Router.RetryDelaySecs == 0 {
		cfg.Router.RetryDelaySecs = def.Router.RetryDelaySecs
	}
	if cfg.Normalizer.MaxTextLength == 0 {
		cfg.Normalizer.MaxTextLength = def.Normalizer.MaxTextLength
	}
	if cfg.Normalizer.MaxElements == 0 {
		cfg.Normalizer.MaxElements = def.Normalizer.MaxElements
	}
	if cfg.Normalizer.MaxImageSizeKB == 0 {
		cfg.Normalizer.MaxImageSizeKB = def.Normalizer.MaxImageSizeKB
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
}
