package normalizer

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

// Extraction orders for image payload fields.
var (
	imageURLAliases    = []string{"image_url", "url", "media_url", "attachment"}
	imageFileIDAliases = []string{"file_id", "media_id", "attachment_id"}
	imageMimeAliases   = []string{"mime_type", "content_type", "media_type"}
	imageSizeAliases   = []string{"size", "file_size", "media_size"}
	imageWidthAliases  = []string{"width", "image_width", "w"}
	imageHeightAliases = []string{"height", "image_height", "h"}
	captionAliases     = []string{"caption", "text", "description", "alt_text"}
)

// extensionMIMETypes maps image file extensions to MIME types for URLs
// that carry no explicit type field.
var extensionMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

// imageData is the projection of image-specific payload fields.
type imageData struct {
	url      string
	fileID   string
	mimeType string
	width    int
	height   int
	size     int64
}

// ImageOptions tunes the image normalizer.
type ImageOptions struct {
	MaxSizeKB       int
	AllowRemoteURLs bool
	VerifyMimeType  bool
}

// DefaultImageOptions returns the standard image normalizer tuning.
func DefaultImageOptions() ImageOptions {
	return ImageOptions{MaxSizeKB: 10240, AllowRemoteURLs: true, VerifyMimeType: true}
}

// ImageNormalizer converts channel image payloads to and from the
// canonical message model. Content carries either a URL or an opaque file
// reference; the same URL test decides which on both directions.
type ImageNormalizer struct {
	base
	opts ImageOptions
}

// NewImage creates an image normalizer for a channel and tenant.
func NewImage(channelID, tenantID string, opts ImageOptions, log *logging.Logger) *ImageNormalizer {
	if opts.MaxSizeKB <= 0 {
		opts.MaxSizeKB = DefaultImageOptions().MaxSizeKB
	}
	return &ImageNormalizer{base: newBase(channelID, tenantID, log), opts: opts}
}

// Type returns the message type this normalizer handles.
func (n *ImageNormalizer) Type() domain.MessageType { return domain.MessageTypeImage }

// Normalize converts a raw image payload into a canonical Message.
func (n *ImageNormalizer) Normalize(raw map[string]any) (*domain.Message, error) {
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
	data, err := n.extractImageData(raw)
	if err != nil {
		return nil, normalizeErr(err)
	}

	content := data.url
	if content == "" {
		content = data.fileID
	}

	msg := domain.NewMessage()
	msg.ChannelMessageID = channelMessageID
	msg.ChannelID = n.channelID
	msg.TenantID = n.tenantID
	msg.SenderID = senderID
	msg.Type = domain.MessageTypeImage
	msg.ContentType = n.contentType(data)
	msg.Content = content
	if caption, ok := firstString(raw, captionAliases); ok {
		msg.Text = caption
	}
	msg.Timestamp = n.extractTimestamp(raw)
	msg.MergeMetadata(n.processMetadata(raw, data))
	return msg, nil
}

// Denormalize converts a canonical image message into the generic
// provider-agnostic payload shape, picking image_url for URL content and
// file_id for opaque references.
func (n *ImageNormalizer) Denormalize(msg *domain.Message) (map[string]any, error) {
	if msg == nil {
		return nil, denormalizeErr(domain.NewValidationError("message cannot be nil"))
	}
	n.logAttempt("denormalize", msg.MessageID)

	if msg.Type != domain.MessageTypeImage {
		return nil, domain.NewValidationError(
			"cannot denormalize non-image message with type " + string(msg.Type))
	}

	out := n.denormBase(msg)
	out["type"] = "image"

	if msg.Content != "" {
		if isURL(msg.Content) {
			out["image_url"] = msg.Content
		} else {
			out["file_id"] = msg.Content
		}
	}
	if msg.Text != "" {
		out["caption"] = msg.Text
	}
	if len(msg.Metadata) > 0 {
		if mime, ok := msg.Metadata["mime_type"]; ok {
			out["mime_type"] = mime
		}
		width, hasWidth := msg.Metadata["width"]
		height, hasHeight := msg.Metadata["height"]
		if hasWidth && hasHeight {
			out["dimensions"] = map[string]any{"width": width, "height": height}
		}
		if size, ok := msg.Metadata["size"]; ok {
			out["size"] = size
		}
		out["metadata"] = msg.Metadata
	}
	return out, nil
}

// Validate checks the structure of a raw image payload. The payload must
// resolve to a URL or opaque file reference; URL content is additionally
// checked against the remote-URL and MIME policies.
func (n *ImageNormalizer) Validate(raw map[string]any) error {
	if err := n.validateBase(raw); err != nil {
		return err
	}
	data, err := n.extractImageData(raw)
	if err != nil {
		return err
	}
	if data.url == "" && data.fileID == "" {
		return domain.NewValidationError("image message must contain a URL or file reference")
	}
	if data.url != "" {
		if err := n.checkURL(data.url); err != nil {
			return err
		}
	}
	return nil
}

// checkURL applies the URL policies. Non-URL content (file ids, opaque
// references) always passes.
func (n *ImageNormalizer) checkURL(ref string) error {
	if !isURL(ref) {
		return nil
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return domain.NewValidationError("invalid image URL: " + err.Error())
	}
	if !n.opts.AllowRemoteURLs && (parsed.Scheme == "http" || parsed.Scheme == "https") {
		return domain.NewValidationError("remote image URLs are not allowed")
	}
	switch parsed.Scheme {
	case "http", "https", "file":
	default:
		return domain.NewValidationError("invalid URL scheme: " + parsed.Scheme)
	}
	if n.opts.VerifyMimeType {
		ext := strings.ToLower(path.Ext(parsed.Path))
		if ext != "" {
			if _, ok := extensionMIMETypes[ext]; !ok {
				return domain.NewValidationError("unsupported image extension: " + ext)
			}
		}
	}
	return nil
}

// processMetadata merges the base extraction with image-specific fields.
// Oversized images are annotated, not rejected; the size limit is advisory.
func (n *ImageNormalizer) processMetadata(raw map[string]any, data imageData) map[string]any {
	metadata := n.extractMetadata(raw)

	if data.mimeType != "" {
		metadata["mime_type"] = data.mimeType
	} else if data.url != "" {
		if mime := mimeTypeFromURL(data.url); mime != "" {
			metadata["mime_type"] = mime
		}
	}
	if data.width > 0 && data.height > 0 {
		metadata["width"] = data.width
		metadata["height"] = data.height
	}
	if data.size > 0 {
		metadata["size"] = data.size
		if n.opts.MaxSizeKB > 0 && data.size > int64(n.opts.MaxSizeKB)*1024 {
			n.log.Warn().
				Int64("size", data.size).
				Int("maxSizeKb", n.opts.MaxSizeKB).
				Msg("image exceeds maximum size")
			metadata["exceeds_max_size"] = true
		}
	}
	return metadata
}

// contentType resolves the canonical content type for the image. When the
// payload carries no explicit type and the URL extension is unknown, the
// wildcard image type is used rather than guessing a concrete one.
func (n *ImageNormalizer) contentType(data imageData) string {
	if data.mimeType != "" {
		return data.mimeType
	}
	if data.url != "" {
		if mime := mimeTypeFromURL(data.url); mime != "" {
			return mime
		}
	}
	return "image/*"
}

// extractImageData projects the image-specific fields out of the payload,
// probing each alias list in priority order.
func (n *ImageNormalizer) extractImageData(raw map[string]any) (imageData, error) {
	var data imageData

	for _, field := range imageURLAliases {
		v, ok := raw[field]
		if !ok {
			continue
		}
		switch ref := v.(type) {
		case map[string]any:
			if nested, ok := ref["url"].(string); ok {
				data.url = nested
			}
		case string:
			data.url = ref
		}
		break
	}
	if id, ok := firstString(raw, imageFileIDAliases); ok {
		data.fileID = id
	}

	if dims, ok := raw["dimensions"].(map[string]any); ok {
		data.width = intField(dims, "width")
		data.height = intField(dims, "height")
	} else {
		for _, field := range imageWidthAliases {
			if w := intField(raw, field); w > 0 {
				data.width = w
				break
			}
		}
		for _, field := range imageHeightAliases {
			if h := intField(raw, field); h > 0 {
				data.height = h
				break
			}
		}
	}

	if mime, ok := firstString(raw, imageMimeAliases); ok {
		data.mimeType = mime
	}
	for _, field := range imageSizeAliases {
		if s := intField(raw, field); s > 0 {
			data.size = int64(s)
			break
		}
	}

	if data == (imageData{}) {
		return data, domain.NewValidationError("could not extract image data from message")
	}
	return data, nil
}

func intField(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return 0
}

// isURL reports whether the reference parses as a URL with both a scheme
// and a host. Opaque file references fail this test and pass through.
func isURL(ref string) bool {
	if ref == "" {
		return false
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && parsed.Host != ""
}

// mimeTypeFromURL infers a MIME type from the URL path extension using the
// fixed extension table. Returns empty when the extension is unknown.
func mimeTypeFromURL(ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return extensionMIMETypes[strings.ToLower(path.Ext(parsed.Path))]
}
