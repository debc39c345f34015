// Package normalizer converts raw channel payloads to and from the
// canonical message model. One normalizer handles one message-type family;
// each is stateless per call and safe for concurrent use.
package normalizer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

// Normalizer is the two-way conversion contract between one channel
// wire-format family and the canonical Message.
type Normalizer interface {
	// Type returns the message type this normalizer handles.
	Type() domain.MessageType

	// Normalize converts a raw channel payload into a canonical Message.
	// Returns a NormalizationError wrapping the cause when a required
	// field cannot be located.
	Normalize(raw map[string]any) (*domain.Message, error)

	// Denormalize converts a canonical Message into a generic
	// provider-agnostic payload. Returns a ValidationError when the
	// message type does not match the normalizer's declared type.
	Denormalize(msg *domain.Message) (map[string]any, error)

	// Validate checks the raw payload structurally without converting it.
	Validate(raw map[string]any) error
}

// Field alias tables, first-match-wins in priority order. Kept as named
// configuration so channel-specific normalizers can override them.
var (
	senderAliases    = []string{"sender_id", "sender", "from", "user_id", "from_user"}
	messageIDAliases = []string{"id", "message_id", "msg_id"}
	timestampAliases = []string{"timestamp", "time", "date", "created_at"}

	// Common payload fields copied into metadata before type-specific
	// extraction adds its own.
	commonMetadataFields = []string{"timestamp", "message_type", "channel_id", "source"}
)

// base carries the shared identity and helpers every concrete normalizer
// embeds.
type base struct {
	channelID string
	tenantID  string
	log       *logging.Logger
}

func newBase(channelID, tenantID string, log *logging.Logger) base {
	return base{
		channelID: channelID,
		tenantID:  tenantID,
		log:       log.Sub("normalizer").WithChannel(channelID, tenantID),
	}
}

// firstString probes the payload for the first present alias and returns
// its value stringified. Later aliases are ignored once one matches, even
// if several are present.
func firstString(raw map[string]any, aliases []string) (string, bool) {
	for _, key := range aliases {
		if v, ok := raw[key]; ok {
			return stringify(v), true
		}
	}
	return "", false
}

// stringify renders a scalar payload value the way the wire format would.
// JSON numbers arrive as float64; integral values drop the decimal point.
func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// extractSenderID locates the sender using the alias priority order.
// Missing senders are a hard failure, never defaulted.
func (b *base) extractSenderID(raw map[string]any) (string, error) {
	if s, ok := firstString(raw, senderAliases); ok {
		return s, nil
	}
	return "", domain.NewValidationError("could not find sender id in channel message")
}

// extractMessageID locates the provider message identifier.
func (b *base) extractMessageID(raw map[string]any) (string, error) {
	if s, ok := firstString(raw, messageIDAliases); ok {
		return s, nil
	}
	return "", domain.NewValidationError("could not find message id in channel message")
}

// extractTimestamp parses a provider timestamp if present, accepting
// RFC3339 strings and unix-second values. Falls back to wall-clock time;
// a missing timestamp is not an error.
func (b *base) extractTimestamp(raw map[string]any) time.Time {
	for _, key := range timestampAliases {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch ts := v.(type) {
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				return parsed
			}
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				return parsed
			}
			if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
				return time.Unix(secs, 0).UTC()
			}
		case float64:
			return time.Unix(int64(ts), 0).UTC()
		}
		b.log.Debug().Str("field", key).Msg("unparseable timestamp, using wall clock")
		break
	}
	return time.Now().UTC()
}

// extractMetadata pulls the fixed set of common fields plus anything
// already nested under a metadata key. Type-specific extraction merges on
// top of this without discarding it.
func (b *base) extractMetadata(raw map[string]any) map[string]any {
	metadata := make(map[string]any)
	for _, field := range commonMetadataFields {
		if v, ok := raw[field]; ok {
			metadata[field] = v
		}
	}
	if nested, ok := raw["metadata"].(map[string]any); ok {
		for k, v := range nested {
			metadata[k] = v
		}
	}
	return metadata
}

// validateBase checks the payload is non-nil and carries a message id
// under at least one known alias. The alias table, not a literal key,
// decides what counts as an id.
func (b *base) validateBase(raw map[string]any) error {
	if raw == nil {
		return domain.NewValidationError("message cannot be nil")
	}
	if _, ok := firstString(raw, messageIDAliases); !ok {
		return domain.NewValidationError("could not find message id in channel message")
	}
	return nil
}

// denormBase builds the generic provider-agnostic envelope shared by every
// denormalized payload.
func (b *base) denormBase(msg *domain.Message) map[string]any {
	out := map[string]any{
		"id":        msg.MessageID,
		"sender":    msg.SenderID,
		"channel":   b.channelID,
		"tenant":    b.tenantID,
		"timestamp": "",
	}
	if !msg.Timestamp.IsZero() {
		out["timestamp"] = msg.Timestamp.Format(time.RFC3339Nano)
	}
	return out
}

func (b *base) logAttempt(direction string, messageID string) {
	b.log.Debug().Str("direction", direction).Str("messageId", messageID).Msg("conversion attempt")
}

// normalizeErr wraps an extraction or validation failure with context.
func normalizeErr(cause error) error {
	return &domain.NormalizationError{Op: "normalize", Cause: cause}
}

func denormalizeErr(cause error) error {
	return &domain.NormalizationError{Op: "denormalize", Cause: cause}
}
