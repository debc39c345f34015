// Package routing forwards canonical messages to the downstream
// conversation engine with bounded retry. Routing failures surface as a
// structured error envelope, never as a panic or a bare transport error.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

// Options tunes the router's transport behavior.
type Options struct {
	EngineURL  string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultOptions returns the standard router tuning.
func DefaultOptions(engineURL string) Options {
	return Options{
		EngineURL:  engineURL,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Router delivers canonical messages to the conversation engine.
type Router struct {
	opts       Options
	httpClient *http.Client
	log        *logging.Logger
}

// New creates a router for the given engine endpoint.
func New(opts Options, log *logging.Logger) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Router{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		log:        log.Sub("router"),
	}
}

// Route validates and delivers a message to the engine. The returned map is
// either the engine's response annotated with routing provenance, or an
// error envelope {success:false, error:{type,message}, message_id}; Route
// never returns a Go error to the caller for per-message failures.
func (r *Router) Route(ctx context.Context, msg *domain.Message) map[string]any {
	if err := r.validateMessage(msg); err != nil {
		return r.errorEnvelope(err, msg)
	}

	request := r.buildRequest(msg)
	r.log.Debug().
		Str("messageId", msg.MessageID).
		Str("channel", msg.ChannelID).
		Str("type", string(msg.Type)).
		Msg("routing message")

	response, err := r.deliver(ctx, request)
	if err != nil {
		return r.errorEnvelope(&domain.RoutingError{Destination: r.opts.EngineURL, Cause: err}, msg)
	}

	if success, ok := response["success"].(bool); ok && !success {
		r.log.Warn().Str("messageId", msg.MessageID).Any("error", response["error"]).Msg("engine reported an error")
		return response
	}

	response["routing"] = map[string]any{
		"original_message_id": msg.MessageID,
		"routed_at":           time.Now().UTC().Format(time.RFC3339Nano),
		"router":              "chat_router",
	}
	r.log.Info().Str("messageId", msg.MessageID).Msg("message routed")
	return response
}

// validateMessage applies the routing preconditions.
func (r *Router) validateMessage(msg *domain.Message) error {
	if msg == nil {
		return domain.NewValidationError("message cannot be nil")
	}
	verr := &domain.ValidationError{}
	if msg.MessageID == "" {
		verr.Add("message must have an id")
	}
	if msg.Content == "" && len(msg.Attachments) == 0 {
		verr.Add("message must have content or attachments")
	}
	if verr.HasIssues() {
		return verr
	}
	return nil
}

// buildRequest projects the canonical message into the engine request
// body. Every request carries a correlation id; an existing one in the
// metadata is preserved.
func (r *Router) buildRequest(msg *domain.Message) map[string]any {
	metadata := make(map[string]any, len(msg.Metadata)+1)
	for k, v := range msg.Metadata {
		metadata[k] = v
	}
	if _, ok := metadata["correlation_id"]; !ok {
		metadata["correlation_id"] = uuid.New().String()
	}

	request := map[string]any{
		"message_id":      msg.MessageID,
		"conversation_id": msg.ConversationID,
		"tenant_id":       msg.TenantID,
		"user_id":         msg.SenderID,
		"content":         msg.Content,
		"timestamp":       msg.Timestamp.Format(time.RFC3339Nano),
		"channel_id":      msg.ChannelID,
		"message_type":    string(msg.Type),
		"metadata":        metadata,
	}
	if len(msg.Attachments) > 0 {
		request["attachments"] = msg.Attachments
	}
	return request
}

// deliver posts the request with bounded retry. Network failures, timeouts,
// 429 and 5xx are retried with exponential backoff and jitter; other 4xx
// responses fail immediately.
func (r *Router) deliver(ctx context.Context, request map[string]any) (map[string]any, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	endpoint := strings.TrimRight(r.opts.EngineURL, "/") + "/api/v1/messages"
	correlationID, _ := request["metadata"].(map[string]any)["correlation_id"].(string)
	tenantID, _ := request["tenant_id"].(string)

	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.opts.RetryDelay * time.Duration(1<<(attempt-1))
			backoff += time.Duration(rand.Int64N(int64(backoff/2 + 1)))
			r.log.Warn().Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying engine request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-ID", correlationID)
		req.Header.Set("X-Tenant-ID", tenantID)

		resp, err := r.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = err
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("engine returned HTTP %d: %s", resp.StatusCode, string(raw))
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("engine rejected message (HTTP %d): %s", resp.StatusCode, string(raw))
		}
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}

		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode engine response: %w", err)
		}
		return out, nil
	}

	return nil, fmt.Errorf("engine unreachable after %d attempts: %w", r.opts.MaxRetries+1, lastErr)
}

// errorEnvelope builds the structured failure response.
func (r *Router) errorEnvelope(err error, msg *domain.Message) map[string]any {
	messageID := ""
	if msg != nil {
		messageID = msg.MessageID
	}
	r.log.Error().Err(err).Str("messageId", messageID).Msg("failed to route message")
	return map[string]any{
		"success": false,
		"error": map[string]any{
			"type":    errorType(err),
			"message": err.Error(),
		},
		"message_id": messageID,
	}
}

// errorType names the failure class for the envelope.
func errorType(err error) string {
	var verr *domain.ValidationError
	var rerr *domain.RoutingError
	switch {
	case errors.As(err, &verr):
		return "ValidationError"
	case errors.As(err, &rerr):
		return "RoutingError"
	default:
		return "RoutingError"
	}
}
