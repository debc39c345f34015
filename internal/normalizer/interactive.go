package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

// interactiveTypes is the closed set of recognized interactive sub-types.
var interactiveTypes = map[string]struct{}{
	"button": {}, "list": {}, "menu": {}, "quick_reply": {},
	"carousel": {}, "card": {}, "action": {}, "selection": {},
}

// selectionAliases is the probe order for user-selection payload fields.
var selectionAliases = []string{"selected", "selection", "action", "response", "payload"}

// interactiveTextAliases extends the text aliases with the header and
// title fields interactive payloads commonly use.
var interactiveTextAliases = []string{"text", "content", "header", "title", "message", "body"}

// InteractiveOptions tunes the interactive normalizer.
type InteractiveOptions struct {
	MaxElements       int
	ValidateStructure bool
}

// DefaultInteractiveOptions returns the standard interactive tuning.
func DefaultInteractiveOptions() InteractiveOptions {
	return InteractiveOptions{MaxElements: 10, ValidateStructure: true}
}

// InteractiveNormalizer converts button, list, quick-reply and similar
// structured payloads to and from the canonical model. Canonical content is
// the JSON-serialized element list; the detected sub-type and element count
// travel in metadata.
type InteractiveNormalizer struct {
	base
	opts InteractiveOptions
}

// NewInteractive creates an interactive normalizer for a channel and tenant.
func NewInteractive(channelID, tenantID string, opts InteractiveOptions, log *logging.Logger) *InteractiveNormalizer {
	if opts.MaxElements <= 0 {
		opts.MaxElements = DefaultInteractiveOptions().MaxElements
	}
	return &InteractiveNormalizer{base: newBase(channelID, tenantID, log), opts: opts}
}

// Type returns the message type this normalizer handles.
func (n *InteractiveNormalizer) Type() domain.MessageType { return domain.MessageTypeInteractive }

// Normalize converts a raw interactive payload into a canonical Message.
func (n *InteractiveNormalizer) Normalize(raw map[string]any) (*domain.Message, error) {
	n.logAttempt("normalize", "")

	if err := n.Validate(raw); err != nil {
		return nil, err
	}

	senderID, err := n.extractSenderID(raw)
	if err != nil {
		return nil, normalizeErr(err)
	}
	channelMessageID, err := n.extractMessageID(raw)
	if err != nil {
		return nil, normalizeErr(err)
	}

	elements := n.extractElements(raw)

	var content string
	if len(elements) > 0 {
		encoded, err := json.Marshal(elements)
		if err != nil {
			return nil, normalizeErr(fmt.Errorf("encode interactive elements: %w", err))
		}
		content = string(encoded)
	}

	metadata := n.extractMetadata(raw)
	if len(elements) > 0 {
		metadata["interactive_type"] = n.detectType(raw)
		metadata["interactive_count"] = len(elements)
	}

	msg := domain.NewMessage()
	msg.ChannelMessageID = channelMessageID
	msg.ChannelID = n.channelID
	msg.TenantID = n.tenantID
	msg.SenderID = senderID
	msg.Type = domain.MessageTypeInteractive
	msg.ContentType = "application/json"
	msg.Content = content
	if text, ok := n.extractText(raw); ok {
		msg.Text = text
	}
	msg.Timestamp = n.extractTimestamp(raw)
	msg.MergeMetadata(metadata)
	return msg, nil
}

// Denormalize converts a canonical interactive message into the generic
// provider-agnostic payload shape. Unparseable element content is dropped
// with a log entry rather than failing the whole conversion.
func (n *InteractiveNormalizer) Denormalize(msg *domain.Message) (map[string]any, error) {
	if msg == nil {
		return nil, denormalizeErr(domain.NewValidationError("message cannot be nil"))
	}
	n.logAttempt("denormalize", msg.MessageID)

	if msg.Type != domain.MessageTypeInteractive {
		return nil, domain.NewValidationError(
			"cannot denormalize non-interactive message with type " + string(msg.Type))
	}

	out := n.denormBase(msg)
	out["type"] = "interactive"
	if msg.Text != "" {
		out["text"] = msg.Text
	}

	var elements []domain.InteractiveElement
	if msg.Content != "" {
		if err := json.Unmarshal([]byte(msg.Content), &elements); err != nil {
			n.log.Error().Err(err).Str("messageId", msg.MessageID).Msg("failed to parse interactive elements")
			elements = nil
		}
	}

	elementType := "button"
	if t, ok := msg.Metadata["interactive_type"].(string); ok && t != "" {
		elementType = t
	}
	out["interactive"] = n.BuildInteractiveElements(elements, elementType)

	if len(msg.Metadata) > 0 {
		out["metadata"] = msg.Metadata
	}
	return out, nil
}

// Validate checks the structure of a raw interactive payload. The payload
// must carry a message id and resolve to a known interactive sub-type with
// at least one well-formed element.
func (n *InteractiveNormalizer) Validate(raw map[string]any) error {
	if err := n.validateBase(raw); err != nil {
		return err
	}
	if n.detectType(raw) == "unknown" {
		return domain.NewValidationError("message does not contain interactive elements")
	}
	if !n.opts.ValidateStructure {
		return nil
	}

	items := n.rawElements(raw)
	if len(items) == 0 {
		return domain.NewValidationError("no interactive elements found in message")
	}
	if len(items) > n.opts.MaxElements {
		n.log.Warn().
			Int("count", len(items)).
			Int("maxElements", n.opts.MaxElements).
			Msg("interactive element count exceeds maximum")
	}
	// Checked before extraction so the display-text defaults cannot mask a
	// malformed element.
	for i, v := range items {
		item, ok := v.(map[string]any)
		if !ok {
			continue
		}
		id := stringOr(item, "id", "")
		text := stringOr(item, "title", stringOr(item, "text", ""))
		if id == "" && text == "" {
			return domain.NewValidationError(
				fmt.Sprintf("interactive element %d missing both id and text", i))
		}
	}
	return nil
}

// ExtractSelection pulls the user's choice out of an interactive response
// payload. String values are tried as JSON objects first and fall back to a
// raw value; a selection must carry an id or a value.
func (n *InteractiveNormalizer) ExtractSelection(raw map[string]any) (map[string]any, error) {
	var selection map[string]any

	for _, field := range selectionAliases {
		v, ok := raw[field]
		if !ok {
			continue
		}
		switch data := v.(type) {
		case string:
			var parsed map[string]any
			if err := json.Unmarshal([]byte(data), &parsed); err == nil {
				selection = parsed
			} else {
				selection = map[string]any{"value": data}
			}
		case map[string]any:
			selection = data
		default:
			selection = map[string]any{"value": data}
		}
		break
	}

	if len(selection) == 0 {
		return nil, domain.NewValidationError("could not extract selection data from interactive message")
	}
	if _, hasID := selection["id"]; !hasID {
		if _, hasValue := selection["value"]; !hasValue {
			return nil, domain.NewValidationError("selection data must contain an id or value")
		}
	}
	return selection, nil
}

// BuildInteractiveElements renders canonical elements into the generic
// channel structure for the given sub-type, capped at the configured
// maximum. Unknown sub-types fall back to button.
func (n *InteractiveNormalizer) BuildInteractiveElements(elements []domain.InteractiveElement, elementType string) map[string]any {
	if len(elements) == 0 {
		return map[string]any{}
	}
	if _, known := interactiveTypes[elementType]; !known {
		elementType = "button"
	}
	if len(elements) > n.opts.MaxElements {
		elements = elements[:n.opts.MaxElements]
	}

	switch elementType {
	case "button":
		buttons := make([]map[string]any, 0, len(elements))
		for i, e := range elements {
			buttons = append(buttons, map[string]any{
				"id":      orDefault(e.ID, fmt.Sprintf("btn_%d", i)),
				"title":   orDefault(e.Text, "Button"),
				"payload": e.Payload,
				"style":   orDefault(e.Style, "default"),
			})
		}
		return map[string]any{"type": "button", "buttons": buttons}

	case "list":
		items := make([]map[string]any, 0, len(elements))
		for i, e := range elements {
			items = append(items, map[string]any{
				"id":          orDefault(e.ID, fmt.Sprintf("item_%d", i)),
				"title":       orDefault(e.Text, "Item"),
				"description": e.Description,
				"payload":     e.Payload,
			})
		}
		return map[string]any{"type": "list", "title": "Select an option", "items": items}

	case "quick_reply":
		replies := make([]map[string]any, 0, len(elements))
		for i, e := range elements {
			replies = append(replies, map[string]any{
				"id":      orDefault(e.ID, fmt.Sprintf("qr_%d", i)),
				"title":   orDefault(e.Text, "Reply"),
				"payload": e.Payload,
			})
		}
		return map[string]any{"type": "quick_reply", "replies": replies}
	}

	return map[string]any{"type": elementType, "elements": elements}
}

// detectType resolves the interactive sub-type. Explicit type declarations
// win over structural detection; structural checks run in a fixed order so
// mixed payloads classify deterministically.
func (n *InteractiveNormalizer) detectType(raw map[string]any) string {
	if t, ok := raw["type"].(string); ok {
		if _, known := interactiveTypes[strings.ToLower(t)]; known {
			return strings.ToLower(t)
		}
	}
	if nested, ok := raw["interactive"].(map[string]any); ok {
		if t, ok := nested["type"].(string); ok {
			if _, known := interactiveTypes[strings.ToLower(t)]; known {
				return strings.ToLower(t)
			}
		}
	}

	if _, ok := raw["buttons"]; ok {
		return "button"
	}
	if _, ok := raw["quick_replies"]; ok {
		return "quick_reply"
	}
	if _, ok := raw["replies"]; ok {
		return "quick_reply"
	}
	if _, ok := raw["items"]; ok {
		return "list"
	}
	if _, ok := raw["list"]; ok {
		return "list"
	}
	if _, ok := raw["carousel"]; ok {
		return "carousel"
	}
	if _, ok := raw["card"]; ok {
		return "card"
	}
	return "unknown"
}

// rawElements locates the element list for the detected sub-type before any
// extraction defaults are applied, probing top-level and nested interactive
// containers. Both extraction and validation run off this single probe.
func (n *InteractiveNormalizer) rawElements(raw map[string]any) []any {
	switch n.detectType(raw) {
	case "unknown":
		return nil

	case "button":
		if buttons := listField(raw, "buttons"); buttons != nil {
			return buttons
		}
		if nested, ok := raw["interactive"].(map[string]any); ok {
			return listField(nested, "buttons")
		}
		return nil

	case "list":
		if items := listField(raw, "items"); items != nil {
			return items
		}
		if nested, ok := raw["list"].(map[string]any); ok {
			if items := listField(nested, "items"); items != nil {
				return items
			}
		}
		if nested, ok := raw["interactive"].(map[string]any); ok {
			return listField(nested, "items")
		}
		return nil

	case "quick_reply":
		if replies := listField(raw, "quick_replies"); replies != nil {
			return replies
		}
		if replies := listField(raw, "replies"); replies != nil {
			return replies
		}
		if nested, ok := raw["interactive"].(map[string]any); ok {
			return listField(nested, "replies")
		}
		return nil
	}

	// Carousel, card and other generic containers: take the first populated
	// element list in probe order.
	elementType := n.detectType(raw)
	for _, field := range []string{"elements", "items", "buttons", "replies", "actions", elementType} {
		items := listField(raw, field)
		if items == nil {
			if nested, ok := raw[elementType].(map[string]any); ok {
				items = listField(nested, field)
			}
		}
		if len(items) > 0 {
			return items
		}
	}
	return nil
}

// extractElements builds canonical elements for the detected sub-type,
// applying display-text and id defaults the raw payload may omit.
func (n *InteractiveNormalizer) extractElements(raw map[string]any) []domain.InteractiveElement {
	items := n.rawElements(raw)

	switch elementType := n.detectType(raw); elementType {
	case "unknown":
		return nil

	case "button":
		return mapElements(items, func(item map[string]any, _ int) domain.InteractiveElement {
			payload := stringOr(item, "payload", stringOr(item, "value", ""))
			return domain.InteractiveElement{
				Type:    "button",
				ID:      stringOr(item, "id", stringOr(item, "payload", "")),
				Text:    stringOr(item, "title", stringOr(item, "text", "Button")),
				Payload: payload,
				Style:   stringOr(item, "style", "default"),
			}
		})

	case "list":
		return mapElements(items, func(item map[string]any, _ int) domain.InteractiveElement {
			return domain.InteractiveElement{
				Type:        "list_item",
				ID:          stringOr(item, "id", stringOr(item, "payload", "")),
				Text:        stringOr(item, "title", stringOr(item, "text", "Item")),
				Description: stringOr(item, "description", ""),
				Payload:     stringOr(item, "payload", stringOr(item, "value", "")),
			}
		})

	case "quick_reply":
		return mapElements(items, func(item map[string]any, _ int) domain.InteractiveElement {
			return domain.InteractiveElement{
				Type:    "quick_reply",
				ID:      stringOr(item, "id", stringOr(item, "payload", "")),
				Text:    stringOr(item, "title", stringOr(item, "text", "Reply")),
				Payload: stringOr(item, "payload", stringOr(item, "value", "")),
			}
		})

	default:
		return mapElements(items, func(item map[string]any, _ int) domain.InteractiveElement {
			e := domain.InteractiveElement{
				Type: elementType,
				ID:   stringOr(item, "id", ""),
				Text: stringOr(item, "title", stringOr(item, "text", "")),
			}
			e.Description = stringOr(item, "description", "")
			e.Payload = stringOr(item, "payload", stringOr(item, "value", ""))
			return e
		})
	}
}

// extractText probes the interactive text aliases, falling back to the
// nested interactive container's header fields.
func (n *InteractiveNormalizer) extractText(raw map[string]any) (string, bool) {
	if text, ok := firstString(raw, interactiveTextAliases); ok {
		return text, true
	}
	if nested, ok := raw["interactive"].(map[string]any); ok {
		return firstString(nested, []string{"text", "content", "header", "title"})
	}
	return "", false
}

func listField(raw map[string]any, key string) []any {
	if v, ok := raw[key].([]any); ok {
		return v
	}
	return nil
}

func mapElements(items []any, build func(map[string]any, int) domain.InteractiveElement) []domain.InteractiveElement {
	var elements []domain.InteractiveElement
	for i, v := range items {
		item, ok := v.(map[string]any)
		if !ok {
			continue
		}
		elements = append(elements, build(item, i))
	}
	return elements
}

func stringOr(item map[string]any, key, fallback string) string {
	if v, ok := item[key]; ok {
		if s := stringify(v); s != "" {
			return s
		}
	}
	return fallback
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
