// Package webchat implements the embedded web widget channel adapter.
// Inbound payloads arrive over WebSocket or webhook in the generic field
// layout; outbound messages are pushed to the user's live session.
package webchat

import (
	"context"
	"errors"

	"github.com/soyeahso/mcpgate/internal/channel"
	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/formatter"
	"github.com/soyeahso/mcpgate/internal/logging"
	"github.com/soyeahso/mcpgate/internal/normalizer"
)

// Type is the registry name for this adapter.
const Type = "webchat"

var errConnClosed = errors.New("webchat: connection closed")

var configSchema = []channel.ConfigField{
	{Name: "max_message_length", Type: "int", Required: false, Description: "Maximum text length before truncation"},
	{Name: "detect_entities", Type: "bool", Required: false, Description: "Run entity extraction on inbound text"},
	{Name: "sanitize_input", Type: "bool", Required: false, Description: "Strip control characters and collapse whitespace"},
	{Name: "max_elements", Type: "int", Required: false, Description: "Interactive element count above which a warning is logged"},
	{Name: "max_image_size_kb", Type: "int", Required: false, Description: "Image size above which the advisory flag is set"},
	{Name: "allow_remote_urls", Type: "bool", Required: false, Description: "Accept http(s) image URLs"},
}

// Register binds the webchat adapter type into the registry.
func Register(r *channel.Registry) error {
	return r.Register(Type, New, configSchema)
}

// Adapter is the webchat channel implementation. It keeps a normalizer per
// message-type family and a manager of live sessions for delivery.
type Adapter struct {
	cfg         channel.Config
	text        *normalizer.TextNormalizer
	image       *normalizer.ImageNormalizer
	interactive *normalizer.InteractiveNormalizer
	textFmt     *formatter.TextFormatter
	conns       *ConnManager
	log         *logging.Logger
}

// New builds a webchat adapter from configuration.
func New(cfg channel.Config, log *logging.Logger) (channel.Adapter, error) {
	if cfg.ChannelID == "" {
		return nil, &domain.ChannelConfigError{
			ChannelType: Type,
			Cause:       domain.NewValidationError("channel_id is required"),
		}
	}

	textOpts := normalizer.DefaultTextOptions()
	if n, ok := settingInt(cfg.Settings, "max_message_length"); ok {
		textOpts.MaxLength = n
	}
	if b, ok := settingBool(cfg.Settings, "detect_entities"); ok {
		textOpts.DetectEntities = b
	}
	if b, ok := settingBool(cfg.Settings, "sanitize_input"); ok {
		textOpts.SanitizeInput = b
	}
	imageOpts := normalizer.DefaultImageOptions()
	if n, ok := settingInt(cfg.Settings, "max_image_size_kb"); ok {
		imageOpts.MaxSizeKB = n
	}
	if b, ok := settingBool(cfg.Settings, "allow_remote_urls"); ok {
		imageOpts.AllowRemoteURLs = b
	}
	interactiveOpts := normalizer.DefaultInteractiveOptions()
	if n, ok := settingInt(cfg.Settings, "max_elements"); ok {
		interactiveOpts.MaxElements = n
	}

	alog := log.Sub("webchat").WithChannel(cfg.ChannelID, cfg.TenantID)
	return &Adapter{
		cfg:         cfg,
		text:        normalizer.NewText(cfg.ChannelID, cfg.TenantID, textOpts, log),
		image:       normalizer.NewImage(cfg.ChannelID, cfg.TenantID, imageOpts, log),
		interactive: normalizer.NewInteractive(cfg.ChannelID, cfg.TenantID, interactiveOpts, log),
		textFmt:     formatter.NewText(log),
		conns:       NewConnManager(alog),
		log:         alog,
	}, nil
}

// Type returns the provider type this adapter serves.
func (a *Adapter) Type() string { return Type }

// ChannelID returns the configured channel identifier.
func (a *Adapter) ChannelID() string { return a.cfg.ChannelID }

// IsEnabled reports whether the channel is enabled.
func (a *Adapter) IsEnabled() bool { return a.cfg.Enabled }

// Connections exposes the live session manager for the gateway's
// WebSocket handler.
func (a *Adapter) Connections() *ConnManager { return a.conns }

// Descriptor returns the channel's capability descriptor.
func (a *Adapter) Descriptor() *domain.Channel {
	return &domain.Channel{
		ChannelID: a.cfg.ChannelID,
		Name:      "Web Chat",
		Provider:  Type,
		TenantID:  a.cfg.TenantID,
		Enabled:   a.cfg.Enabled,
		SupportedMessageTypes: []domain.MessageType{
			domain.MessageTypeText, domain.MessageTypeImage, domain.MessageTypeInteractive,
		},
		SupportedContentTypes: map[domain.MessageType][]string{
			domain.MessageTypeText:        {"text/plain"},
			domain.MessageTypeImage:       {"image/jpeg", "image/png", "image/gif", "image/webp"},
			domain.MessageTypeInteractive: {"application/json"},
		},
		Features: map[string]bool{
			"typing_indicator": true,
			"interactive":      true,
			"markdown":         true,
		},
	}
}

// ReceiveMessage normalizes one inbound webchat payload. Webchat carries a
// single message per delivery.
func (a *Adapter) ReceiveMessage(ctx context.Context, payload map[string]any) ([]*domain.Message, error) {
	msg, err := a.NormalizeMessage(payload)
	if err != nil {
		return nil, &domain.MessageProcessingError{ChannelID: a.cfg.ChannelID, Cause: err}
	}
	return []*domain.Message{msg}, nil
}

// NormalizeMessage routes the payload to the normalizer for its declared
// or detected message type.
func (a *Adapter) NormalizeMessage(payload map[string]any) (*domain.Message, error) {
	switch a.detectType(payload) {
	case domain.MessageTypeImage:
		return a.image.Normalize(payload)
	case domain.MessageTypeInteractive:
		return a.interactive.Normalize(payload)
	default:
		return a.text.Normalize(payload)
	}
}

// FormatResponse renders a canonical message into the widget's delivery
// payload.
func (a *Adapter) FormatResponse(msg *domain.Message) (map[string]any, error) {
	if msg == nil {
		return nil, domain.NewValidationError("message cannot be nil")
	}
	switch msg.Type {
	case domain.MessageTypeText:
		return a.textFmt.Format(msg, Type)
	case domain.MessageTypeImage:
		return a.image.Denormalize(msg)
	case domain.MessageTypeInteractive:
		return a.interactive.Denormalize(msg)
	default:
		return nil, &domain.MessageProcessingError{
			ChannelID: a.cfg.ChannelID,
			Cause:     domain.NewValidationError("unsupported message type for webchat: " + string(msg.Type)),
		}
	}
}

// SendMessage pushes a canonical message to the recipient's live session.
// A recipient with no live session is a delivery failure.
func (a *Adapter) SendMessage(ctx context.Context, msg *domain.Message) (*channel.Receipt, error) {
	formatted, err := a.FormatResponse(msg)
	if err != nil {
		return nil, err
	}
	if msg.RecipientID == "" {
		return nil, &domain.MessageProcessingError{
			ChannelID: a.cfg.ChannelID,
			Cause:     domain.NewValidationError("recipient_id is required to send a message"),
		}
	}

	conn, ok := a.conns.Get(msg.RecipientID)
	if !ok {
		return nil, &domain.MessageProcessingError{
			ChannelID: a.cfg.ChannelID,
			Cause:     errors.New("recipient has no live webchat session"),
		}
	}
	if err := conn.Send(formatted); err != nil {
		a.log.Error().Err(err).Str("recipient", msg.RecipientID).Msg("failed to deliver webchat message")
		return nil, &domain.MessageProcessingError{ChannelID: a.cfg.ChannelID, Cause: err}
	}

	a.log.Info().Str("recipient", msg.RecipientID).Str("type", string(msg.Type)).Msg("message delivered")
	return &channel.Receipt{
		ChannelMessageID: msg.MessageID,
		Status:           "delivered",
		RecipientID:      msg.RecipientID,
		Timestamp:        msg.Timestamp,
	}, nil
}

// detectType classifies an inbound payload. Explicit declarations win;
// otherwise the structure decides, with text as the fallback family.
func (a *Adapter) detectType(payload map[string]any) domain.MessageType {
	if t, ok := payload["message_type"].(string); ok {
		switch domain.MessageType(t) {
		case domain.MessageTypeImage, domain.MessageTypeInteractive, domain.MessageTypeText:
			return domain.MessageType(t)
		}
	}
	for _, key := range []string{"image_url", "media_url", "file_id", "media_id"} {
		if _, ok := payload[key]; ok {
			return domain.MessageTypeImage
		}
	}
	for _, key := range []string{"buttons", "quick_replies", "replies", "items", "interactive"} {
		if _, ok := payload[key]; ok {
			return domain.MessageTypeInteractive
		}
	}
	return domain.MessageTypeText
}

func settingInt(settings map[string]any, key string) (int, bool) {
	switch v := settings[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func settingBool(settings map[string]any, key string) (bool, bool) {
	if v, ok := settings[key].(bool); ok {
		return v, true
	}
	return false, false
}
