package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/mcpgate/internal/channel"
	"github.com/soyeahso/mcpgate/internal/channel/webchat"
	"github.com/soyeahso/mcpgate/internal/channel/whatsapp"
	"github.com/soyeahso/mcpgate/internal/config"
	"github.com/soyeahso/mcpgate/internal/logging"
	"github.com/soyeahso/mcpgate/internal/routing"
	"github.com/soyeahso/mcpgate/internal/store"
)

const webhookSecret = "topsecret"

func testLogger() *logging.Logger {
	return logging.New(io.Discard, "silent")
}

type fixture struct {
	ts    *httptest.Server
	store *store.ConversationStore
}

// newFixture builds a gateway over a whatsapp and a webchat channel, with
// a fake engine behind the router and an in-memory store.
func newFixture(t *testing.T, engineHandler http.HandlerFunc) *fixture {
	t.Helper()
	log := testLogger()

	if engineHandler == nil {
		engineHandler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"reply":"acknowledged"}`))
		}
	}
	engine := httptest.NewServer(engineHandler)
	t.Cleanup(engine.Close)

	// Fake Graph API for outbound whatsapp sends.
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.out.1"}]}`))
	}))
	t.Cleanup(graph.Close)

	registry := channel.NewRegistry(log)
	require.NoError(t, whatsapp.Register(registry))
	require.NoError(t, webchat.Register(registry))

	cfg := config.Defaults()
	cfg.Channels = []config.ChannelConfig{
		{
			Type:      whatsapp.Type,
			ChannelID: "wa-main",
			TenantID:  "t1",
			Settings: map[string]any{
				"phone_number_id":     "15550001111",
				"business_account_id": "biz-1",
				"access_token":        "token",
				"webhook_secret":      webhookSecret,
				"verify_token":        "vtok",
				"base_url":            graph.URL,
			},
		},
		{Type: webchat.Type, ChannelID: "web-main", TenantID: "t1"},
	}

	adapters := BuildAdapters(cfg, registry, log)
	require.Len(t, adapters, 2)

	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	cs := store.NewConversationStore(db)

	router := routing.New(routing.Options{
		EngineURL:  engine.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 0,
		RetryDelay: 10 * time.Millisecond,
	}, log)

	srv := New(cfg, router, log, WithAdapters(adapters), WithStore(cs))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{ts: ts, store: cs}
}

func sign(body []byte) string {
	mac := hmac.New(sha1.New, []byte(webhookSecret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, f *fixture, path string, body []byte, signature string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Hub-Signature", signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	json.Unmarshal(raw, &decoded)
	return resp, decoded
}

func whatsappDelivery(text string) []byte {
	body, _ := json.Marshal(map[string]any{
		"entry": []any{map[string]any{
			"changes": []any{map[string]any{
				"value": map[string]any{
					"messages": []any{map[string]any{
						"from":      "15557654321",
						"id":        "wamid.test.1",
						"timestamp": "1724668800",
						"text":      map[string]any{"body": text},
					}},
				},
			}},
		}},
	})
	return body
}

func TestBuildAdapters_NormalizerDefaults(t *testing.T) {
	log := testLogger()
	registry := channel.NewRegistry(log)
	require.NoError(t, webchat.Register(registry))

	cfg := config.Defaults()
	cfg.Normalizer.MaxTextLength = 10
	cfg.Channels = []config.ChannelConfig{
		{Type: webchat.Type, ChannelID: "web-a", TenantID: "t1"},
		{Type: webchat.Type, ChannelID: "web-b", TenantID: "t1",
			Settings: map[string]any{"max_message_length": 40}},
	}

	adapters := BuildAdapters(cfg, registry, log)
	require.Len(t, adapters, 2)

	long := map[string]any{"id": "m1", "sender": "u1", "text": strings.Repeat("a", 100)}

	defaulted, ok := adapters["web-a"].(*webchat.Adapter)
	require.True(t, ok)
	msg, err := defaulted.NormalizeMessage(long)
	require.NoError(t, err)
	assert.Len(t, []rune(msg.Content), 10)

	// per-channel settings win over the normalizer section
	overridden, ok := adapters["web-b"].(*webchat.Adapter)
	require.True(t, ok)
	msg, err = overridden.NormalizeMessage(long)
	require.NoError(t, err)
	assert.Len(t, []rune(msg.Content), 40)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Len(t, health["channels"], 2)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	body := whatsappDelivery("hello")

	resp, _ := postWebhook(t, f, "/webhooks/whatsapp", body, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postWebhook(t, f, "/webhooks/whatsapp", body, "sha1=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhook_DeliversAndRoutes(t *testing.T) {
	var engineBody map[string]any
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&engineBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply":"acknowledged"}`))
	})
	body := whatsappDelivery("hello")

	resp, decoded := postWebhook(t, f, "/webhooks/whatsapp", body, sign(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decoded["status"])
	assert.EqualValues(t, 1, decoded["processed"])

	results, ok := decoded["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	result := results[0].(map[string]any)
	assert.Contains(t, result, "routing")

	// The engine saw the canonical projection.
	assert.Equal(t, "hello", engineBody["content"])
	assert.Equal(t, "15557654321", engineBody["user_id"])
	assert.Equal(t, "wa-main", engineBody["channel_id"])

	// Both the inbound message and the engine's reply were persisted.
	conv, err := f.store.FindActiveConversation("wa-main", "15557654321")
	require.NoError(t, err)
	msgs, err := f.store.ListMessages(conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "wamid.test.1", msgs[0].ChannelMessageID)
	assert.Equal(t, store.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, store.DirectionOutbound, msgs[1].Direction)
	assert.Equal(t, "acknowledged", msgs[1].Content)
	assert.Equal(t, "wamid.out.1", msgs[1].ChannelMessageID)
}

func TestWebhook_EmptyDeliveryReturns200Error(t *testing.T) {
	f := newFixture(t, nil)
	body, _ := json.Marshal(map[string]any{"entry": []any{}})

	resp, decoded := postWebhook(t, f, "/webhooks/whatsapp", body, sign(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "error", decoded["status"])
}

func TestWebhook_InvalidJSONReturns200Error(t *testing.T) {
	f := newFixture(t, nil)
	body := []byte("{not json")

	resp, decoded := postWebhook(t, f, "/webhooks/whatsapp", body, sign(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "error", decoded["status"])
	assert.Equal(t, "invalid json payload", decoded["error"])
}

func TestWebhook_UnknownChannel(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := postWebhook(t, f, "/webhooks/telegram", []byte("{}"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookVerify_Subscription(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.ts.URL + "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=vtok&hub.challenge=12345")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	challenge, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "12345", string(challenge))

	resp, err = http.Get(f.ts.URL + "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocket_InboundRoundTrip(t *testing.T) {
	f := newFixture(t, nil)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/webchat?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"message_id": "web-1",
		"text":       "hi from the widget",
	}))

	// The engine's reply is pushed to the live session first, then the
	// routing result.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "text", reply["type"])
	assert.Equal(t, "acknowledged", reply["content"])

	var result map[string]any
	require.NoError(t, conn.ReadJSON(&result))
	assert.Contains(t, result, "routing")

	// The gateway injected the session user as the sender.
	conv, err := f.store.FindActiveConversation("web-main", "u1")
	require.NoError(t, err)
	msgs, err := f.store.ListMessages(conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi from the widget", msgs[0].Content)
	assert.Equal(t, store.DirectionOutbound, msgs[1].Direction)
}

func TestWebSocket_RequiresUserID(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.ts.URL + "/ws/webchat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
