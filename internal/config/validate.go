package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid. All issues
// are collected in one pass rather than stopping at the first.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.Host == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.host",
			Message: "required when bind is custom",
		})
	}

	if cfg.Router.EngineURL == "" {
		issues = append(issues, ValidationIssue{
			Path:    "router.engineUrl",
			Message: "engine URL is required",
		})
	}
	if cfg.Router.MaxRetries < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "router.maxRetries",
			Message: fmt.Sprintf("must be non-negative, got %d", cfg.Router.MaxRetries),
		})
	}

	seen := make(map[string]int)
	for i, ch := range cfg.Channels {
		path := fmt.Sprintf("channels[%d]", i)
		if ch.Type == "" {
			issues = append(issues, ValidationIssue{Path: path + ".type", Message: "channel type is required"})
		}
		if ch.ChannelID == "" {
			issues = append(issues, ValidationIssue{Path: path + ".channelId", Message: "channel id is required"})
		} else if prev, dup := seen[ch.ChannelID]; dup {
			issues = append(issues, ValidationIssue{
				Path:    path + ".channelId",
				Message: fmt.Sprintf("duplicate channel id %q, first declared at channels[%d]", ch.ChannelID, prev),
			})
		} else {
			seen[ch.ChannelID] = i
		}
	}

	if cfg.Normalizer.MaxTextLength < 4 {
		issues = append(issues, ValidationIssue{
			Path:    "normalizer.maxTextLength",
			Message: fmt.Sprintf("must be at least 4, got %d", cfg.Normalizer.MaxTextLength),
		})
	}
	if cfg.Normalizer.MaxElements < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "normalizer.maxElements",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Normalizer.MaxElements),
		})
	}

	validBackends := []string{"sqlite", "memory"}
	if cfg.Store.Backend != "" && !slices.Contains(validBackends, cfg.Store.Backend) {
		issues = append(issues, ValidationIssue{
			Path:    "store.backend",
			Message: fmt.Sprintf("must be one of %v, got %q", validBackends, cfg.Store.Backend),
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}
	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	return issues
}
