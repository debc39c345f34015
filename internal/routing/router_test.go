package routing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(io.Discard, "silent")
}

func testOptions(url string) Options {
	return Options{EngineURL: url, Timeout: 2 * time.Second, MaxRetries: 3, RetryDelay: 5 * time.Millisecond}
}

func routableMessage() *domain.Message {
	msg := domain.NewMessage()
	msg.TenantID = "t1"
	msg.ChannelID = "wc-1"
	msg.SenderID = "u1"
	msg.Type = domain.MessageTypeText
	msg.ContentType = "text/plain"
	msg.Content = "hello"
	return msg
}

func TestRoute_Success(t *testing.T) {
	var gotBody map[string]any
	var gotCorrelation, gotTenant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/messages", r.URL.Path)
		gotCorrelation = r.Header.Get("X-Correlation-ID")
		gotTenant = r.Header.Get("X-Tenant-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"reply":"hi there"}`))
	}))
	defer srv.Close()

	r := New(testOptions(srv.URL), testLogger())
	msg := routableMessage()
	resp := r.Route(context.Background(), msg)

	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "hi there", resp["reply"])

	routing, ok := resp["routing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, msg.MessageID, routing["original_message_id"])
	assert.Equal(t, "chat_router", routing["router"])
	assert.NotEmpty(t, routing["routed_at"])

	assert.Equal(t, msg.MessageID, gotBody["message_id"])
	assert.Equal(t, "u1", gotBody["user_id"])
	assert.Equal(t, "hello", gotBody["content"])
	assert.Equal(t, "t1", gotTenant)
	assert.NotEmpty(t, gotCorrelation)
	meta := gotBody["metadata"].(map[string]any)
	assert.Equal(t, gotCorrelation, meta["correlation_id"])
}

func TestRoute_PreservesExistingCorrelationID(t *testing.T) {
	var gotCorrelation string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = r.Header.Get("X-Correlation-ID")
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	r := New(testOptions(srv.URL), testLogger())
	msg := routableMessage()
	msg.Metadata = map[string]any{"correlation_id": "corr-42"}

	resp := r.Route(context.Background(), msg)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "corr-42", gotCorrelation)
}

func TestRoute_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	r := New(testOptions(srv.URL), testLogger())
	resp := r.Route(context.Background(), routableMessage())

	assert.Equal(t, true, resp["success"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestRoute_ExhaustedRetriesReturnEnvelope(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(testOptions(srv.URL), testLogger())
	msg := routableMessage()
	resp := r.Route(context.Background(), msg)

	assert.Equal(t, false, resp["success"])
	assert.Equal(t, msg.MessageID, resp["message_id"])
	errShape := resp["error"].(map[string]any)
	assert.Equal(t, "RoutingError", errShape["type"])
	assert.Contains(t, errShape["message"].(string), "HTTP 500")
	// initial attempt plus three retries
	assert.Equal(t, int32(4), calls.Load())
}

func TestRoute_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"bad message"}`))
	}))
	defer srv.Close()

	r := New(testOptions(srv.URL), testLogger())
	resp := r.Route(context.Background(), routableMessage())

	assert.Equal(t, false, resp["success"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestRoute_UnreachableEngine(t *testing.T) {
	opts := testOptions("http://127.0.0.1:1")
	r := New(opts, testLogger())

	resp := r.Route(context.Background(), routableMessage())
	assert.Equal(t, false, resp["success"])
	errShape := resp["error"].(map[string]any)
	assert.Equal(t, "RoutingError", errShape["type"])
}

func TestRoute_ValidationFailure(t *testing.T) {
	r := New(testOptions("http://unused"), testLogger())

	msg := routableMessage()
	msg.Content = ""
	resp := r.Route(context.Background(), msg)

	assert.Equal(t, false, resp["success"])
	errShape := resp["error"].(map[string]any)
	assert.Equal(t, "ValidationError", errShape["type"])
	assert.Contains(t, errShape["message"].(string), "content or attachments")

	resp = r.Route(context.Background(), nil)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "", resp["message_id"])
}

func TestRoute_ContextCancellationStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.RetryDelay = 200 * time.Millisecond
	r := New(opts, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp := r.Route(ctx, routableMessage())
	assert.Equal(t, false, resp["success"])
	assert.LessOrEqual(t, calls.Load(), int32(2))
}
