package config

// Config is the root configuration for the gateway service.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway,omitempty"`
	Router     RouterConfig     `yaml:"router,omitempty"`
	Channels   []ChannelConfig  `yaml:"channels,omitempty"`
	Normalizer NormalizerConfig `yaml:"normalizer,omitempty"`
	Store      StoreConfig      `yaml:"store,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// GatewayConfig controls the webhook HTTP/WebSocket server.
type GatewayConfig struct {
	Port int    `yaml:"port,omitempty"`
	Bind string `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	Host string `yaml:"host,omitempty"` // used when bind is "custom"
}

// RouterConfig controls delivery to the conversation engine.
type RouterConfig struct {
	EngineURL      string  `yaml:"engineUrl,omitempty"`
	TimeoutSeconds int     `yaml:"timeoutSeconds,omitempty"`
	MaxRetries     int     `yaml:"maxRetries,omitempty"`
	RetryDelaySecs float64 `yaml:"retryDelaySeconds,omitempty"`
}

// ChannelConfig declares one channel instance. Type selects the adapter;
// Settings carries provider credentials and tuning, with ${ENV_VAR}
// references expanded at load time.
type ChannelConfig struct {
	Type      string         `yaml:"type"`
	ChannelID string         `yaml:"channelId"`
	TenantID  string         `yaml:"tenantId,omitempty"`
	Enabled   *bool          `yaml:"enabled,omitempty"` // nil means enabled
	Settings  map[string]any `yaml:"settings,omitempty"`
}

// IsEnabled reports the effective enabled state.
func (c ChannelConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// NormalizerConfig tunes payload normalization.
type NormalizerConfig struct {
	MaxTextLength   int   `yaml:"maxTextLength,omitempty"`
	MaxElements     int   `yaml:"maxElements,omitempty"`
	MaxImageSizeKB  int   `yaml:"maxImageSizeKb,omitempty"`
	DetectEntities  *bool `yaml:"detectEntities,omitempty"`
	SanitizeInput   *bool `yaml:"sanitizeInput,omitempty"`
	AllowRemoteURLs *bool `yaml:"allowRemoteUrls,omitempty"`
}

// AdapterDefaults renders the normalizer section as adapter settings.
// Per-channel settings override these key for key.
func (c NormalizerConfig) AdapterDefaults() map[string]any {
	defaults := make(map[string]any)
	if c.MaxTextLength > 0 {
		defaults["max_message_length"] = c.MaxTextLength
	}
	if c.MaxElements > 0 {
		defaults["max_elements"] = c.MaxElements
	}
	if c.MaxImageSizeKB > 0 {
		defaults["max_image_size_kb"] = c.MaxImageSizeKB
	}
	if c.DetectEntities != nil {
		defaults["detect_entities"] = *c.DetectEntities
	}
	if c.SanitizeInput != nil {
		defaults["sanitize_input"] = *c.SanitizeInput
	}
	if c.AllowRemoteURLs != nil {
		defaults["allow_remote_urls"] = *c.AllowRemoteURLs
	}
	return defaults
}

// StoreConfig controls conversation persistence.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"` // "sqlite" | "memory"
	Path    string `yaml:"path,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
