package ir

import (
	"strings"

	log "github.com/llmbridge-dev/llmbridge/internal/logging"
)

// DefaultMime is the generic fallback applied when no MIME type can be
// resolved from a data URI header or a file extension.
const DefaultMime = "application/octet-stream"

var extMimes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ParseDataURI splits a data: URI into its MIME type and payload.
// ok is false when the URI is not a well-formed data URI. The returned
// mime may be empty when the URI omits its media type.
func ParseDataURI(uri string) (mime, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	rest := uri[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}
	header, payload := rest[:comma], rest[comma+1:]
	if i := strings.IndexByte(header, ';'); i >= 0 {
		header = header[:i]
	}
	return strings.TrimSpace(header), payload, true
}

// ResolveMime determines the MIME type for an image reference.
// Resolution order: data URI header, known file extension, DefaultMime
// with a logged fallback. Never a silent jpeg assumption.
func ResolveMime(uri string) string {
	if m, _, ok := ParseDataURI(uri); ok && m != "" {
		return m
	}
	lower := strings.ToLower(uri)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for ext, m := range extMimes {
		if strings.HasSuffix(lower, ext) {
			return m
		}
	}
	log.WithField("mime", DefaultMime).Warn("image mime type unresolved, using generic default")
	return DefaultMime
}

// ImagePartFromURI builds an ImagePart from either a data: URI (decoded
// into inline data) or an external reference (kept as a file URI for
// the backend to fetch).
func ImagePartFromURI(uri string) *ImagePart {
	if mime, data, ok := ParseDataURI(uri); ok {
		if mime == "" {
			log.WithField("mime", DefaultMime).Warn("data uri without media type, using generic default")
			mime = DefaultMime
		}
		return &ImagePart{MimeType: mime, Data: data}
	}
	return &ImagePart{MimeType: ResolveMime(uri), FileURI: uri}
}

// SourceURL renders the part back into a single URL: the external
// reference when present, otherwise an inline data URI.
func (p *ImagePart) SourceURL() string {
	if p.FileURI != "" {
		return p.FileURI
	}
	return "data:" + p.MimeType + ";base64," + p.Data
}
