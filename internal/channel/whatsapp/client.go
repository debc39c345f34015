package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/mcpgate/internal/logging"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
)

// retryableError indicates a transient API failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// apiError is a non-transient Business API failure.
type apiError struct {
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("whatsapp api error (HTTP %d): %s", e.statusCode, e.message)
}

// SendResponse is the Business API acknowledgement for an outbound message.
type SendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Contacts []struct {
		WaID string `json:"wa_id"`
	} `json:"contacts"`
}

// Client talks to the WhatsApp Business API for one phone number.
type Client struct {
	baseURL       string
	apiVersion    string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
	log           *logging.Logger
}

// NewClient creates a Business API client.
func NewClient(baseURL, apiVersion, phoneNumberID, accessToken string, log *logging.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiVersion:    apiVersion,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		log:           log.Sub("whatsapp-client"),
	}
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, recipientID, text string) (*SendResponse, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipientID,
		"type":              "text",
		"text":              map[string]any{"body": text},
	}
	return c.post(ctx, "/messages", payload)
}

// SendMedia sends an image, video, audio or document message by URL.
func (c *Client) SendMedia(ctx context.Context, recipientID, mediaType, mediaURL, caption string) (*SendResponse, error) {
	switch mediaType {
	case "image", "video", "audio", "document":
	default:
		return nil, fmt.Errorf("invalid media type: %s", mediaType)
	}

	media := map[string]any{"link": mediaURL}
	if caption != "" && mediaType != "audio" {
		media["caption"] = caption
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipientID,
		"type":              mediaType,
		mediaType:           media,
	}
	return c.post(ctx, "/messages", payload)
}

// SendInteractive sends a button or list message. The interactive object
// must carry a type the Business API understands.
func (c *Client) SendInteractive(ctx context.Context, recipientID string, interactive map[string]any) (*SendResponse, error) {
	t, _ := interactive["type"].(string)
	switch t {
	case "button", "list", "product", "product_list":
	default:
		return nil, fmt.Errorf("invalid interactive type: %q", t)
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipientID,
		"type":              "interactive",
		"interactive":       interactive,
	}
	return c.post(ctx, "/messages", payload)
}

// SendTemplate sends a pre-approved template message.
func (c *Client) SendTemplate(ctx context.Context, recipientID, templateName, language string, components []map[string]any) (*SendResponse, error) {
	if language == "" {
		language = "en_US"
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipientID,
		"type":              "template",
		"template": map[string]any{
			"name":       templateName,
			"language":   map[string]any{"code": language},
			"components": components,
		},
	}
	return c.post(ctx, "/messages", payload)
}

// SendLocation sends a location pin.
func (c *Client) SendLocation(ctx context.Context, recipientID string, latitude, longitude float64, name, address string) (*SendResponse, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipientID,
		"type":              "location",
		"location": map[string]any{
			"latitude":  latitude,
			"longitude": longitude,
			"name":      name,
			"address":   address,
		},
	}
	return c.post(ctx, "/messages", payload)
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) (*SendResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s%s", c.baseURL, c.apiVersion, c.phoneNumberID, endpoint)

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &apiError{statusCode: resp.StatusCode, message: parseErrorMessage(raw)}
	}

	var out SendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// doWithRetry executes an HTTP request with exponential backoff retry for
// transient failures (network errors, 5xx, 429). Other 4xx responses are
// returned to the caller without retrying.
func (c *Client) doWithRetry(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * time.Second
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			c.log.Warn().Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				c.log.Warn().Err(err).Msg("request failed, will retry")
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(raw)}
			if attempt < maxRetries {
				c.log.Warn().Int("status", resp.StatusCode).Msg("server error, will retry")
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}

// parseErrorMessage extracts the Graph API error message from an error
// response body, falling back to the raw body.
func parseErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(raw)
}
