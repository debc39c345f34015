package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/mcpgate/internal/channel"
	"github.com/soyeahso/mcpgate/internal/channel/webchat"
	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/store"
	"github.com/soyeahso/mcpgate/internal/version"
)

// webhookVerifier is implemented by adapters that authenticate webhook
// deliveries with a body signature.
type webhookVerifier interface {
	VerifyWebhook(body []byte, signature string) bool
}

// subscriptionVerifier is implemented by adapters whose provider performs
// a GET subscription handshake before delivering webhooks.
type subscriptionVerifier interface {
	VerifySubscription(token string) bool
}

// sessionHost is implemented by adapters that deliver over live
// WebSocket sessions.
type sessionHost interface {
	Connections() *webchat.ConnManager
}

// ChannelStatus is one entry in the health endpoint's channel list.
type ChannelStatus struct {
	ChannelID string `json:"channel_id"`
	Type      string `json:"type"`
	Enabled   bool   `json:"enabled"`
}

// handleHealth reports server health and the configured channels.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	channels := make([]ChannelStatus, 0, len(s.adapters))
	for _, adapter := range s.adapters {
		channels = append(channels, ChannelStatus{
			ChannelID: adapter.ChannelID(),
			Type:      adapter.Type(),
			Enabled:   adapter.IsEnabled(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  version.Version,
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
		"channels": channels,
	})
}

// handleWebhookVerify answers the provider's GET subscription handshake.
// WhatsApp sends hub.mode=subscribe with a verify token and expects the
// challenge echoed back verbatim.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.lookupAdapter(r.PathValue("channel"))
	if !ok {
		handleNotFound(w, r)
		return
	}
	verifier, ok := adapter.(subscriptionVerifier)
	if !ok {
		handleNotFound(w, r)
		return
	}

	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || !verifier.VerifySubscription(q.Get("hub.verify_token")) {
		s.log.Warn().Str("channel", adapter.ChannelID()).Msg("webhook subscription rejected")
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	s.log.Info().Str("channel", adapter.ChannelID()).Msg("webhook subscription verified")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge")))
}

// handleWebhook processes one webhook delivery. Signature verification
// happens on the raw body before any parsing; a bad signature is a 401.
// Normalization failures still return 200 so the provider does not retry
// a payload that will never parse.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.lookupAdapter(r.PathValue("channel"))
	if !ok {
		handleNotFound(w, r)
		return
	}
	if !adapter.IsEnabled() {
		http.Error(w, "channel is disabled", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if verifier, ok := adapter.(webhookVerifier); ok {
		if !verifier.VerifyWebhook(body, r.Header.Get("X-Hub-Signature")) {
			s.log.Warn().Str("channel", adapter.ChannelID()).Msg("webhook signature verification failed")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "error",
			"error":  "invalid json payload",
		})
		return
	}

	messages, err := adapter.ReceiveMessage(r.Context(), payload)
	if err != nil {
		s.log.Warn().Err(err).Str("channel", adapter.ChannelID()).Msg("failed to process webhook payload")
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	results := s.processMessages(r.Context(), adapter, messages)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"processed": len(messages),
		"results":   results,
	})
}

// handleWebSocket upgrades a webchat session and pumps inbound payloads
// through the adapter. Each routing result is written back on the socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.lookupAdapter(r.PathValue("channel"))
	if !ok {
		handleNotFound(w, r)
		return
	}
	host, ok := adapter.(sessionHost)
	if !ok {
		http.Error(w, "channel does not support live sessions", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := webchat.NewConn(userID, socket)
	host.Connections().Add(conn)
	defer func() {
		host.Connections().Remove(conn)
		conn.Close()
	}()

	for {
		var payload map[string]any
		if err := socket.ReadJSON(&payload); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("user", userID).Msg("webchat session closed")
			} else {
				s.log.Warn().Err(err).Str("user", userID).Msg("webchat read error")
			}
			return
		}

		// The session identifies the sender; widgets may omit both.
		if _, ok := payload["sender_id"]; !ok {
			payload["sender_id"] = userID
		}
		if _, ok := payload["message_id"]; !ok {
			if _, ok := payload["id"]; !ok {
				payload["message_id"] = uuid.New().String()
			}
		}

		messages, err := adapter.ReceiveMessage(r.Context(), payload)
		if err != nil {
			conn.Send(map[string]any{"status": "error", "error": err.Error()})
			continue
		}
		for _, result := range s.processMessages(r.Context(), adapter, messages) {
			conn.Send(result)
		}
	}
}

// processMessages persists and routes normalized messages, returning one
// routing result per message. Engine replies go back out through the
// adapter. Persistence failures are logged but do not block routing.
func (s *Server) processMessages(ctx context.Context, adapter channel.Adapter, messages []*domain.Message) []map[string]any {
	results := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		if s.store != nil {
			conv, err := s.store.GetOrCreateConversation(msg.TenantID, msg.ChannelID, msg.SenderID)
			if err != nil {
				s.log.Warn().Err(err).Str("messageId", msg.MessageID).Msg("failed to resolve conversation")
			} else {
				msg.ConversationID = conv.ID
				if err := s.store.SaveMessage(conv.ID, store.DirectionInbound, msg); err != nil {
					s.log.Warn().Err(err).Str("messageId", msg.MessageID).Msg("failed to persist message")
				}
			}
		}
		result := s.router.Route(ctx, msg)
		s.deliverReply(ctx, adapter, msg, result)
		results = append(results, result)
	}
	return results
}

// deliverReply sends the engine's reply, when it carries one, back to the
// sender through the originating adapter. Delivery failures are logged;
// the routing result already reached the caller either way.
func (s *Server) deliverReply(ctx context.Context, adapter channel.Adapter, inbound *domain.Message, result map[string]any) {
	if success, ok := result["success"].(bool); ok && !success {
		return
	}
	text := replyText(result)
	if text == "" {
		return
	}

	reply := domain.NewMessage()
	reply.TenantID = inbound.TenantID
	reply.ChannelID = inbound.ChannelID
	reply.ConversationID = inbound.ConversationID
	reply.SenderID = "engine"
	reply.RecipientID = inbound.SenderID
	reply.Type = domain.MessageTypeText
	reply.ContentType = "text/plain"
	reply.Content = text

	receipt, err := adapter.SendMessage(ctx, reply)
	if err != nil {
		s.log.Warn().Err(err).Str("recipient", reply.RecipientID).Msg("failed to deliver engine reply")
		return
	}
	reply.ChannelMessageID = receipt.ChannelMessageID

	if s.store != nil && inbound.ConversationID != "" {
		if err := s.store.SaveMessage(inbound.ConversationID, store.DirectionOutbound, reply); err != nil {
			s.log.Warn().Err(err).Str("messageId", reply.MessageID).Msg("failed to persist engine reply")
		}
	}
}

// replyText probes the engine response for a textual reply body.
func replyText(result map[string]any) string {
	for _, key := range []string{"reply", "response", "message"} {
		if s, ok := result[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
