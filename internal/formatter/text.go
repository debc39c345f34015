package formatter

import (
	"regexp"
	"strings"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

// markupSupport lists the markdown features a channel can render.
type markupSupport struct {
	bold    bool
	italic  bool
	code    bool
	links   bool
}

// channelLimits caps text length per provider. Unknown providers use the
// default entry.
var channelLimits = map[string]int{
	"whatsapp": 4096,
	"facebook": 2000,
	"telegram": 4096,
	"webchat":  10000,
	"default":  4000,
}

var channelMarkup = map[string]markupSupport{
	"whatsapp": {bold: true, italic: true, code: false, links: true},
	"facebook": {bold: false, italic: false, code: false, links: true},
	"telegram": {bold: true, italic: true, code: true, links: true},
	"webchat":  {bold: true, italic: true, code: true, links: true},
}

// defaultMarkup is the conservative fallback for unknown channels: plain
// text with clickable links only.
var defaultMarkup = markupSupport{links: true}

var markdownLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// TextFormatter renders text messages for a channel, truncating to the
// channel limit and stripping markup the channel cannot display.
type TextFormatter struct {
	log *logging.Logger
}

// NewText creates a text formatter.
func NewText(log *logging.Logger) *TextFormatter {
	return &TextFormatter{log: log.Sub("formatter")}
}

// Supports reports whether this formatter handles the message type.
func (f *TextFormatter) Supports(mt domain.MessageType) bool {
	return mt == domain.MessageTypeText
}

// Format renders a text message for the channel. Overlong content is
// truncated, never rejected.
func (f *TextFormatter) Format(msg *domain.Message, channelID string) (map[string]any, error) {
	if msg == nil {
		return nil, domain.NewValidationError("message cannot be nil")
	}
	if !f.Supports(msg.Type) {
		return nil, domain.NewValidationError(
			"text formatter cannot format message type " + string(msg.Type))
	}

	content := msg.Content
	if limit := channelLimit(channelID); len([]rune(content)) > limit {
		f.log.Warn().Str("channel", channelID).Int("limit", limit).Msg("message exceeds channel length limit")
		content = Truncate(content, limit)
	}
	content = f.applyMarkup(content, channelID)

	return map[string]any{
		"type":     "text",
		"content":  content,
		"metadata": metadataEnvelope(msg),
	}, nil
}

// Truncate caps text at max characters, spending the final three on an
// ellipsis. Text at or under the limit is returned unchanged.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}

// applyMarkup strips markers the channel cannot render, keeping the
// content between them, and flattens markdown links to their label when
// links are unsupported.
func (f *TextFormatter) applyMarkup(text, channelID string) string {
	markup, ok := channelMarkup[channelID]
	if !ok {
		markup = defaultMarkup
	}

	if !markup.bold {
		text = StripUnsupported(text, "**", "**")
	}
	if !markup.italic {
		text = StripUnsupported(text, "_", "_")
	}
	if !markup.code {
		text = StripUnsupported(text, "`", "`")
	}
	if !markup.links {
		text = markdownLinkPattern.ReplaceAllString(text, "$1")
	}
	return text
}

// StripUnsupported removes marker pairs but keeps the enclosed content.
// Pairing is left to right: each start marker pairs with the nearest
// following end marker; unpaired markers stay in the text.
func StripUnsupported(text, startMarker, endMarker string) string {
	result := text
	markerLen := len(startMarker)

	searchFrom := 0
	for {
		start := strings.Index(result[searchFrom:], startMarker)
		if start == -1 {
			break
		}
		start += searchFrom
		end := strings.Index(result[start+markerLen:], endMarker)
		if end == -1 {
			break
		}
		end += start + markerLen
		result = result[:start] + result[start+markerLen:end] + result[end+len(endMarker):]
		searchFrom = start
	}
	return result
}

func channelLimit(channelID string) int {
	if limit, ok := channelLimits[channelID]; ok {
		return limit
	}
	return channelLimits["default"]
}
