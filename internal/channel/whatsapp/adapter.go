// Package whatsapp implements the WhatsApp Business API channel adapter:
// webhook payload normalization inbound, Business API delivery outbound.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/soyeahso/mcpgate/internal/channel"
	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

// Type is the registry name for this adapter.
const Type = "whatsapp"

const defaultAPIVersion = "v18.0"
const defaultBaseURL = "https://graph.facebook.com"

// configSchema documents the settings keys the adapter accepts.
var configSchema = []channel.ConfigField{
	{Name: "phone_number_id", Type: "string", Required: true, Description: "WhatsApp Business phone number ID (digits only)"},
	{Name: "business_account_id", Type: "string", Required: true, Description: "WhatsApp Business account ID"},
	{Name: "access_token", Type: "string", Required: true, Description: "Graph API access token"},
	{Name: "api_version", Type: "string", Required: false, Description: "Graph API version, defaults to " + defaultAPIVersion},
	{Name: "webhook_secret", Type: "string", Required: false, Description: "App secret for webhook signature verification"},
	{Name: "verify_token", Type: "string", Required: false, Description: "Token echoed back during webhook subscription"},
	{Name: "base_url", Type: "string", Required: false, Description: "Graph API base URL"},
}

// Register binds the whatsapp adapter type into the registry.
func Register(r *channel.Registry) error {
	return r.Register(Type, New, configSchema)
}

// Adapter is the WhatsApp Business API channel implementation.
type Adapter struct {
	cfg           channel.Config
	phoneNumberID string
	webhookSecret string
	verifyToken   string
	client        *Client
	log           *logging.Logger
}

// New builds a WhatsApp adapter from configuration. Construction fails
// closed: missing or malformed required settings produce a
// ChannelConfigError and no adapter.
func New(cfg channel.Config, log *logging.Logger) (channel.Adapter, error) {
	verr := &domain.ValidationError{}

	phoneNumberID := settingString(cfg.Settings, "phone_number_id")
	if phoneNumberID == "" {
		verr.Add("phone_number_id is required")
	} else if !digitsOnly(phoneNumberID) {
		verr.Add("phone_number_id must be a string of digits")
	}
	if settingString(cfg.Settings, "business_account_id") == "" {
		verr.Add("business_account_id is required")
	}
	accessToken := settingString(cfg.Settings, "access_token")
	if accessToken == "" {
		verr.Add("access_token is required")
	}
	if cfg.ChannelID == "" {
		verr.Add("channel_id is required")
	}
	if verr.HasIssues() {
		return nil, &domain.ChannelConfigError{ChannelType: Type, Cause: verr}
	}

	apiVersion := settingString(cfg.Settings, "api_version")
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	baseURL := settingString(cfg.Settings, "base_url")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	alog := log.Sub("whatsapp").WithChannel(cfg.ChannelID, cfg.TenantID)
	a := &Adapter{
		cfg:           cfg,
		phoneNumberID: phoneNumberID,
		webhookSecret: settingString(cfg.Settings, "webhook_secret"),
		verifyToken:   settingString(cfg.Settings, "verify_token"),
		client:        NewClient(baseURL, apiVersion, phoneNumberID, accessToken, log),
		log:           alog,
	}
	if !cfg.Enabled {
		alog.Warn().Msg("channel is disabled")
	}
	alog.Info().Str("phoneNumberId", phoneNumberID).Msg("whatsapp channel initialized")
	return a, nil
}

// Type returns the provider type this adapter serves.
func (a *Adapter) Type() string { return Type }

// ChannelID returns the configured channel identifier.
func (a *Adapter) ChannelID() string { return a.cfg.ChannelID }

// IsEnabled reports whether the channel is enabled.
func (a *Adapter) IsEnabled() bool { return a.cfg.Enabled }

// VerifyWebhook checks a webhook signature against the configured secret.
func (a *Adapter) VerifyWebhook(body []byte, signature string) bool {
	return VerifySignature(a.webhookSecret, body, signature)
}

// VerifySubscription checks the token presented during the provider's
// webhook subscription handshake. Without a configured token every
// subscription attempt is rejected.
func (a *Adapter) VerifySubscription(token string) bool {
	return a.verifyToken != "" && token == a.verifyToken
}

// Descriptor returns the channel's capability descriptor.
func (a *Adapter) Descriptor() *domain.Channel {
	return &domain.Channel{
		ChannelID: a.cfg.ChannelID,
		Name:      "WhatsApp",
		Provider:  Type,
		TenantID:  a.cfg.TenantID,
		Enabled:   a.cfg.Enabled,
		SupportedMessageTypes: []domain.MessageType{
			domain.MessageTypeText, domain.MessageTypeImage, domain.MessageTypeAudio,
			domain.MessageTypeVideo, domain.MessageTypeDocument, domain.MessageTypeLocation,
			domain.MessageTypeInteractive, domain.MessageTypeTemplate,
		},
		SupportedContentTypes: map[domain.MessageType][]string{
			domain.MessageTypeText:        {"text/plain"},
			domain.MessageTypeImage:       {"image/jpeg", "image/png", "image/webp"},
			domain.MessageTypeInteractive: {"application/json"},
		},
		Features: map[string]bool{
			"read_receipts": true,
			"templates":     true,
			"media":         true,
			"interactive":   true,
		},
	}
}

// ReceiveMessage walks a webhook delivery and normalizes every message
// object it carries. One delivery may hold several entries and changes.
func (a *Adapter) ReceiveMessage(ctx context.Context, payload map[string]any) ([]*domain.Message, error) {
	a.log.Debug().Msg("received webhook payload")

	var messages []*domain.Message
	for _, entryAny := range anySlice(payload["entry"]) {
		entry, ok := entryAny.(map[string]any)
		if !ok {
			continue
		}
		for _, changeAny := range anySlice(entry["changes"]) {
			change, ok := changeAny.(map[string]any)
			if !ok {
				continue
			}
			value, ok := change["value"].(map[string]any)
			if !ok {
				continue
			}
			for _, msgAny := range anySlice(value["messages"]) {
				raw, ok := msgAny.(map[string]any)
				if !ok {
					continue
				}
				msg, err := a.NormalizeMessage(raw)
				if err != nil {
					return nil, &domain.MessageProcessingError{ChannelID: a.cfg.ChannelID, Cause: err}
				}
				messages = append(messages, msg)
			}
		}
	}

	if len(messages) == 0 {
		return nil, &domain.MessageProcessingError{
			ChannelID: a.cfg.ChannelID,
			Cause:     domain.NewValidationError("webhook payload carries no messages"),
		}
	}
	a.log.Info().Int("count", len(messages)).Msg("normalized webhook messages")
	return messages, nil
}

// NormalizeMessage converts a single Business API message object into the
// canonical model.
func (a *Adapter) NormalizeMessage(raw map[string]any) (*domain.Message, error) {
	senderID, _ := raw["from"].(string)
	if senderID == "" {
		return nil, domain.NewValidationError("could not find sender id in channel message")
	}
	channelMessageID, _ := raw["id"].(string)
	if channelMessageID == "" {
		return nil, domain.NewValidationError("could not find message id in channel message")
	}

	msg := domain.NewMessage()
	msg.ChannelMessageID = channelMessageID
	msg.ChannelID = a.cfg.ChannelID
	msg.TenantID = a.cfg.TenantID
	msg.SenderID = senderID
	msg.RecipientID = a.phoneNumberID
	msg.Timestamp = parseUnixTimestamp(raw["timestamp"])

	switch {
	case hasKey(raw, "text"):
		body, _ := mapField(raw, "text")["body"].(string)
		msg.Type = domain.MessageTypeText
		msg.ContentType = "text/plain"
		msg.Content = body

	case hasKey(raw, "image"):
		a.fillMedia(msg, mapField(raw, "image"), domain.MessageTypeImage, "image/*")

	case hasKey(raw, "audio"):
		a.fillMedia(msg, mapField(raw, "audio"), domain.MessageTypeAudio, "audio/*")

	case hasKey(raw, "video"):
		a.fillMedia(msg, mapField(raw, "video"), domain.MessageTypeVideo, "video/*")

	case hasKey(raw, "document"):
		doc := mapField(raw, "document")
		a.fillMedia(msg, doc, domain.MessageTypeDocument, "application/octet-stream")
		if filename, ok := doc["filename"].(string); ok {
			msg.MergeMetadata(map[string]any{"filename": filename})
		}

	case hasKey(raw, "location"):
		loc := mapField(raw, "location")
		msg.Type = domain.MessageTypeLocation
		msg.ContentType = "application/json"
		encoded, err := json.Marshal(loc)
		if err != nil {
			return nil, fmt.Errorf("encode location: %w", err)
		}
		msg.Content = string(encoded)

	case hasKey(raw, "interactive"):
		interactive := mapField(raw, "interactive")
		msg.Type = domain.MessageTypeInteractive
		msg.ContentType = "application/json"
		encoded, err := json.Marshal(interactive)
		if err != nil {
			return nil, fmt.Errorf("encode interactive reply: %w", err)
		}
		msg.Content = string(encoded)
		if t, ok := interactive["type"].(string); ok {
			msg.MergeMetadata(map[string]any{"interactive_type": t})
		}

	default:
		return nil, domain.NewValidationError("unsupported whatsapp message payload")
	}

	a.log.Info().
		Str("sender", senderID).
		Str("type", string(msg.Type)).
		Str("channelMessageId", channelMessageID).
		Msg("normalized whatsapp message")
	return msg, nil
}

// FormatResponse renders a canonical message into the shape SendMessage
// consumes: recipient plus the type-specific delivery fields.
func (a *Adapter) FormatResponse(msg *domain.Message) (map[string]any, error) {
	if msg == nil {
		return nil, domain.NewValidationError("message cannot be nil")
	}
	out := map[string]any{
		"recipient_id": msg.RecipientID,
		"type":         string(msg.Type),
	}

	switch msg.Type {
	case domain.MessageTypeText:
		out["text"] = msg.Content

	case domain.MessageTypeImage, domain.MessageTypeVideo, domain.MessageTypeAudio, domain.MessageTypeDocument:
		out["media_type"] = string(msg.Type)
		out["media_url"] = msg.Content
		out["caption"] = msg.Text

	case domain.MessageTypeInteractive:
		var elements []domain.InteractiveElement
		if msg.Content != "" {
			if err := json.Unmarshal([]byte(msg.Content), &elements); err != nil {
				return nil, &domain.MessageProcessingError{
					ChannelID: a.cfg.ChannelID,
					Cause:     fmt.Errorf("parse interactive elements: %w", err),
				}
			}
		}
		elementType := "button"
		if t, ok := msg.Metadata["interactive_type"].(string); ok && t != "" {
			elementType = t
		}
		out["interactive"] = a.buildInteractivePayload(elements, elementType, msg.Text)

	case domain.MessageTypeTemplate:
		name, _ := msg.Metadata["template_name"].(string)
		if name == "" {
			return nil, domain.NewValidationError("template message requires template_name metadata")
		}
		out["template_name"] = name
		if lang, ok := msg.Metadata["template_language"].(string); ok {
			out["template_language"] = lang
		}

	case domain.MessageTypeLocation:
		var loc map[string]any
		if err := json.Unmarshal([]byte(msg.Content), &loc); err != nil {
			return nil, &domain.MessageProcessingError{
				ChannelID: a.cfg.ChannelID,
				Cause:     fmt.Errorf("parse location content: %w", err),
			}
		}
		out["location"] = loc

	default:
		return nil, &domain.MessageProcessingError{
			ChannelID: a.cfg.ChannelID,
			Cause:     domain.NewValidationError("unsupported message type for whatsapp: " + string(msg.Type)),
		}
	}
	return out, nil
}

// SendMessage delivers a canonical message through the Business API.
func (a *Adapter) SendMessage(ctx context.Context, msg *domain.Message) (*channel.Receipt, error) {
	formatted, err := a.FormatResponse(msg)
	if err != nil {
		return nil, err
	}
	recipientID, _ := formatted["recipient_id"].(string)
	if recipientID == "" {
		return nil, &domain.MessageProcessingError{
			ChannelID: a.cfg.ChannelID,
			Cause:     domain.NewValidationError("recipient_id is required to send a message"),
		}
	}

	var resp *SendResponse
	switch msg.Type {
	case domain.MessageTypeText:
		resp, err = a.client.SendText(ctx, recipientID, msg.Content)
	case domain.MessageTypeImage, domain.MessageTypeVideo, domain.MessageTypeAudio, domain.MessageTypeDocument:
		resp, err = a.client.SendMedia(ctx, recipientID, string(msg.Type), msg.Content, msg.Text)
	case domain.MessageTypeInteractive:
		interactive, _ := formatted["interactive"].(map[string]any)
		resp, err = a.client.SendInteractive(ctx, recipientID, interactive)
	case domain.MessageTypeTemplate:
		name, _ := formatted["template_name"].(string)
		lang, _ := formatted["template_language"].(string)
		resp, err = a.client.SendTemplate(ctx, recipientID, name, lang, nil)
	case domain.MessageTypeLocation:
		loc, _ := formatted["location"].(map[string]any)
		lat, _ := loc["latitude"].(float64)
		lng, _ := loc["longitude"].(float64)
		name, _ := loc["name"].(string)
		address, _ := loc["address"].(string)
		resp, err = a.client.SendLocation(ctx, recipientID, lat, lng, name, address)
	default:
		err = domain.NewValidationError("unsupported message type for whatsapp: " + string(msg.Type))
	}
	if err != nil {
		a.log.Error().Err(err).Str("recipient", recipientID).Msg("failed to send whatsapp message")
		return nil, &domain.MessageProcessingError{ChannelID: a.cfg.ChannelID, Cause: err}
	}

	receipt := &channel.Receipt{
		Status:      "sent",
		RecipientID: recipientID,
		Timestamp:   time.Now().UTC(),
	}
	if len(resp.Messages) > 0 {
		receipt.ChannelMessageID = resp.Messages[0].ID
	}
	a.log.Info().Str("recipient", recipientID).Str("type", string(msg.Type)).Msg("message sent")
	return receipt, nil
}

// buildInteractivePayload renders canonical elements into the Business API
// interactive object. Button payloads use reply buttons; lists use one
// section holding every row.
func (a *Adapter) buildInteractivePayload(elements []domain.InteractiveElement, elementType, bodyText string) map[string]any {
	if bodyText == "" {
		bodyText = "Select an option"
	}
	body := map[string]any{"text": bodyText}

	if elementType == "list" {
		rows := make([]map[string]any, 0, len(elements))
		for i, e := range elements {
			rows = append(rows, map[string]any{
				"id":          nonEmpty(e.ID, fmt.Sprintf("item_%d", i)),
				"title":       nonEmpty(e.Text, "Item"),
				"description": e.Description,
			})
		}
		return map[string]any{
			"type": "list",
			"body": body,
			"action": map[string]any{
				"button":   "Choose",
				"sections": []map[string]any{{"rows": rows}},
			},
		}
	}

	buttons := make([]map[string]any, 0, len(elements))
	for i, e := range elements {
		buttons = append(buttons, map[string]any{
			"type": "reply",
			"reply": map[string]any{
				"id":    nonEmpty(e.ID, fmt.Sprintf("btn_%d", i)),
				"title": nonEmpty(e.Text, "Button"),
			},
		})
	}
	return map[string]any{
		"type":   "button",
		"body":   body,
		"action": map[string]any{"buttons": buttons},
	}
}

// fillMedia populates the canonical media fields shared by image, audio,
// video and document payloads. Content carries the provider media id; the
// gateway resolves it to bytes on demand.
func (a *Adapter) fillMedia(msg *domain.Message, media map[string]any, mt domain.MessageType, fallbackMime string) {
	msg.Type = mt
	mime, _ := media["mime_type"].(string)
	if mime == "" {
		mime = fallbackMime
	}
	msg.ContentType = mime
	if id, ok := media["id"].(string); ok {
		msg.Content = id
	}
	if caption, ok := media["caption"].(string); ok {
		msg.Text = caption
	}
	msg.MergeMetadata(map[string]any{"mime_type": mime})
}

func settingString(settings map[string]any, key string) string {
	if v, ok := settings[key].(string); ok {
		return v
	}
	return ""
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hasKey(raw map[string]any, key string) bool {
	_, ok := raw[key]
	return ok
}

func mapField(raw map[string]any, key string) map[string]any {
	if m, ok := raw[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func anySlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

// parseUnixTimestamp reads the Business API's unix-seconds string.
func parseUnixTimestamp(v any) time.Time {
	switch ts := v.(type) {
	case string:
		if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC()
		}
	case float64:
		return time.Unix(int64(ts), 0).UTC()
	}
	return time.Now().UTC()
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
