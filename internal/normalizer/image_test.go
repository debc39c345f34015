package normalizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/mcpgate/internal/domain"
)

func newTestImage(t *testing.T, opts ImageOptions) *ImageNormalizer {
	t.Helper()
	return NewImage("wa-1", "t1", opts, testLogger())
}

func TestImageNormalize_URLContent(t *testing.T) {
	n := newTestImage(t, DefaultImageOptions())

	msg, err := n.Normalize(map[string]any{
		"id":        "m1",
		"sender":    "u1",
		"image_url": "https://cdn.example.com/pic.png",
		"caption":   "a picture",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.MessageTypeImage, msg.Type)
	assert.Equal(t, "https://cdn.example.com/pic.png", msg.Content)
	assert.Equal(t, "image/png", msg.ContentType)
	assert.Equal(t, "a picture", msg.Text)
	assert.Equal(t, "image/png", msg.Metadata["mime_type"])
	assert.NoError(t, msg.Validate())
}

func TestImageNormalize_FileIDContent(t *testing.T) {
	n := newTestImage(t, DefaultImageOptions())

	msg, err := n.Normalize(map[string]any{
		"id":      "m1",
		"sender":  "u1",
		"file_id": "media-abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, "media-abc123", msg.Content)
	assert.Equal(t, "image/*", msg.ContentType)
}

func TestImageNormalize_NestedAttachment(t *testing.T) {
	n := newTestImage(t, DefaultImageOptions())

	msg, err := n.Normalize(map[string]any{
		"id":         "m1",
		"sender":     "u1",
		"attachment": map[string]any{"url": "https://cdn.example.com/a.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.jpg", msg.Content)
	assert.Equal(t, "image/jpeg", msg.ContentType)
}

func TestImageNormalize_RemoteURLsDisallowed(t *testing.T) {
	opts := DefaultImageOptions()
	opts.AllowRemoteURLs = false
	n := newTestImage(t, opts)

	_, err := n.Normalize(map[string]any{
		"id":        "m1",
		"sender":    "u1",
		"image_url": "https://cdn.example.com/pic.png",
	})
	require.Error(t, err)

	var verr *domain.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Contains(t, err.Error(), "remote image URLs are not allowed")

	// opaque file references still pass
	msg, err := n.Normalize(map[string]any{"id": "m2", "sender": "u1", "file_id": "media-1"})
	require.NoError(t, err)
	assert.Equal(t, "media-1", msg.Content)
}

func TestImageNormalize_Dimensions(t *testing.T) {
	n := newTestImage(t, DefaultImageOptions())

	// nested dimensions object wins
	msg, err := n.Normalize(map[string]any{
		"id":         "m1",
		"sender":     "u1",
		"image_url":  "https://x.io/a.png",
		"dimensions": map[string]any{"width": float64(800), "height": float64(600)},
	})
	require.NoError(t, err)
	assert.Equal(t, 800, msg.Metadata["width"])
	assert.Equal(t, 600, msg.Metadata["height"])

	// flat aliases
	msg, err = n.Normalize(map[string]any{
		"id": "m2", "sender": "u1", "image_url": "https://x.io/a.png",
		"w": float64(100), "h": float64(50),
	})
	require.NoError(t, err)
	assert.Equal(t, 100, msg.Metadata["width"])
	assert.Equal(t, 50, msg.Metadata["height"])
}

func TestImageNormalize_OversizeIsAdvisory(t *testing.T) {
	opts := DefaultImageOptions()
	opts.MaxSizeKB = 1
	n := newTestImage(t, opts)

	msg, err := n.Normalize(map[string]any{
		"id": "m1", "sender": "u1", "image_url": "https://x.io/a.png",
		"size": float64(4096),
	})
	require.NoError(t, err)
	assert.Equal(t, true, msg.Metadata["exceeds_max_size"])
	assert.Equal(t, int64(4096), msg.Metadata["size"])
}

func TestImageNormalize_MissingReference(t *testing.T) {
	n := newTestImage(t, DefaultImageOptions())

	_, err := n.Normalize(map[string]any{"id": "m1", "sender": "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image data")
}

func TestImageNormalize_MessageIDAlias(t *testing.T) {
	n := newTestImage(t, DefaultImageOptions())

	msg, err := n.Normalize(map[string]any{
		"message_id": "m-alias",
		"sender":     "u1",
		"file_id":    "media-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "m-alias", msg.ChannelMessageID)
}

func TestImageNormalize_CaptionAliases(t *testing.T) {
	n := newTestImage(t, DefaultImageOptions())

	msg, err := n.Normalize(map[string]any{
		"id": "m1", "sender": "u1", "file_id": "f1",
		"alt_text": "fallback", "caption": "primary",
	})
	require.NoError(t, err)
	assert.Equal(t, "primary", msg.Text)
}

func TestImageDenormalize(t *testing.T) {
	n := newTestImage(t, DefaultImageOptions())

	msg, err := n.Normalize(map[string]any{
		"id": "m1", "sender": "u1",
		"image_url": "https://x.io/a.png",
		"caption":   "pic",
		"size":      float64(100),
	})
	require.NoError(t, err)

	out, err := n.Denormalize(msg)
	require.NoError(t, err)
	assert.Equal(t, "https://x.io/a.png", out["image_url"])
	_, hasFileID := out["file_id"]
	assert.False(t, hasFileID)
	assert.Equal(t, "pic", out["caption"])
	assert.Equal(t, "image", out["type"])

	// opaque content goes out as file_id
	msg.Content = "media-abc"
	out, err = n.Denormalize(msg)
	require.NoError(t, err)
	assert.Equal(t, "media-abc", out["file_id"])
	_, hasURL := out["image_url"]
	assert.False(t, hasURL)
}

func TestImageDenormalize_WrongType(t *testing.T) {
	n := newTestImage(t, DefaultImageOptions())

	msg := domain.NewMessage()
	msg.Type = domain.MessageTypeText
	_, err := n.Denormalize(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-image")
}

func TestIsURL(t *testing.T) {
	assert.True(t, isURL("https://example.com/a.png"))
	assert.True(t, isURL("http://example.com"))
	assert.False(t, isURL("media-abc123"))
	assert.False(t, isURL("wamid.HBgL"))
	assert.False(t, isURL(""))
}
