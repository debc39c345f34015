package normalizer

import (
	"regexp"
	"strings"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

// textContentAliases is the extraction order for text content.
var textContentAliases = []string{"text", "content", "message", "body"}

// entityPattern pairs an entity type with its detection regex. Extraction
// runs in this fixed order against the full text.
type entityPattern struct {
	name string
	re   *regexp.Regexp
}

var entityPatterns = []entityPattern{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"phone", regexp.MustCompile(`\b\+?[0-9]{1,3}[-.\s]?[0-9]{3}[-.\s]?[0-9]{3,4}[-.\s]?[0-9]{3,4}\b`)},
	{"url", regexp.MustCompile(`https?://(?:[-\w.]|(?:%[\da-fA-F]{2}))+[/\w.-]*\??[/\w.\-=%&]*`)},
	{"hashtag", regexp.MustCompile(`#[A-Za-z0-9_]+`)},
	{"mention", regexp.MustCompile(`@[A-Za-z0-9_]+`)},
	{"date", regexp.MustCompile(`\b(?:\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|\d{4}[-/]\d{1,2}[-/]\d{1,2})\b`)},
	{"time", regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?(?:\s?[AP]M)?\b`)},
	{"currency", regexp.MustCompile(`(?:[$€£¥]|\bUSD|\bEUR|\bGBP|\bJPY)\s?\d+(?:\.\d{2})?\b`)},
}

var (
	controlCharPattern = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// TextOptions tunes the text normalizer.
type TextOptions struct {
	MaxLength      int
	DetectEntities bool
	SanitizeInput  bool
}

// DefaultTextOptions returns the standard text normalizer tuning.
func DefaultTextOptions() TextOptions {
	return TextOptions{MaxLength: 4096, DetectEntities: true, SanitizeInput: true}
}

// TextNormalizer converts channel text payloads to and from the canonical
// message model.
type TextNormalizer struct {
	base
	opts TextOptions
}

// NewText creates a text normalizer for a channel and tenant. MaxLength
// values too small to hold the truncation ellipsis fall back to the
// default.
func NewText(channelID, tenantID string, opts TextOptions, log *logging.Logger) *TextNormalizer {
	if opts.MaxLength < 4 {
		opts.MaxLength = DefaultTextOptions().MaxLength
	}
	return &TextNormalizer{base: newBase(channelID, tenantID, log), opts: opts}
}

// Type returns the message type this normalizer handles.
func (n *TextNormalizer) Type() domain.MessageType { return domain.MessageTypeText }

// Normalize converts a raw text payload into a canonical Message.
func (n *TextNormalizer) Normalize(raw map[string]any) (*domain.Message, error) {
	n.logAttempt("normalize", "")

	if err := n.Validate(raw); err != nil {
		return nil, normalizeErr(err)
	}

	senderID, err := n.extractSenderID(raw)
	if err != nil {
		return nil, normalizeErr(err)
	}
	channelMessageID, err := n.extractMessageID(raw)
	if err != nil {
		return nil, normalizeErr(err)
	}
	content, ok := firstString(raw, textContentAliases)
	if !ok {
		return nil, normalizeErr(domain.NewValidationError("could not find text content in channel message"))
	}

	if n.opts.SanitizeInput {
		content = n.CleanText(content)
	}

	var entities map[string][]string
	if n.opts.DetectEntities {
		entities = n.ExtractEntities(content)
	}

	msg := domain.NewMessage()
	msg.ChannelMessageID = channelMessageID
	msg.ChannelID = n.channelID
	msg.TenantID = n.tenantID
	msg.SenderID = senderID
	msg.Type = domain.MessageTypeText
	msg.ContentType = "text/plain"
	msg.Content = content
	msg.Entities = entities
	msg.Timestamp = n.extractTimestamp(raw)
	msg.MergeMetadata(n.extractMetadata(raw))
	return msg, nil
}

// Denormalize converts a canonical text message into the generic
// provider-agnostic payload shape.
func (n *TextNormalizer) Denormalize(msg *domain.Message) (map[string]any, error) {
	if msg == nil {
		return nil, denormalizeErr(domain.NewValidationError("message cannot be nil"))
	}
	n.logAttempt("denormalize", msg.MessageID)

	if msg.Type != domain.MessageTypeText {
		return nil, domain.NewValidationError(
			"cannot denormalize non-text message with type " + string(msg.Type))
	}

	out := n.denormBase(msg)
	out["text"] = msg.Content
	if len(msg.Metadata) > 0 {
		out["metadata"] = msg.Metadata
	}
	return out, nil
}

// Validate checks the structure of a raw text payload: it must be present,
// carry a message id, and hold text under at least one known alias.
func (n *TextNormalizer) Validate(raw map[string]any) error {
	if err := n.validateBase(raw); err != nil {
		return err
	}
	if _, ok := firstString(raw, textContentAliases); !ok {
		return domain.NewValidationError("payload has no text content field")
	}
	return nil
}

// ExtractEntities runs the fixed regex families over the text and returns
// deduplicated matches per entity type. Types with no matches are omitted
// entirely; absence means "not detected", not "detected zero".
func (n *TextNormalizer) ExtractEntities(text string) map[string][]string {
	if text == "" {
		return nil
	}
	entities := make(map[string][]string)
	for _, p := range entityPatterns {
		matches := p.re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(matches))
		var unique []string
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			unique = append(unique, m)
		}
		entities[p.name] = unique
	}
	if len(entities) == 0 {
		return nil
	}
	return entities
}

// CleanText strips control characters, collapses runs of whitespace, and
// truncates to the configured maximum. Truncated text occupies exactly
// max length characters with the final three spent on an ellipsis.
func (n *TextNormalizer) CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = controlCharPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(strings.TrimSpace(text), " ")

	runes := []rune(text)
	if len(runes) > n.opts.MaxLength {
		text = string(runes[:n.opts.MaxLength-3]) + "..."
		n.log.Warn().Int("maxLength", n.opts.MaxLength).Msg("text message truncated")
	}
	return text
}
