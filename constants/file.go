package constants

import "strings"

// Media types the adapters know how to frame.
const (
	MediaTypePDF     = "application/pdf"
	MediaTypePNG     = "image/png"
	MediaTypeJPEG    = "image/jpeg"
	MediaTypeWebP    = "image/webp"
	MediaTypeText    = "text/plain"
	MediaTypeJSON    = "application/json"
	MediaTypeUnknown = "application/octet-stream"
)

// AllowedExtensions holds the default file extensions picked up by directory ingest.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
	"txt":  {},
}

var extMediaTypes = map[string]string{
	"pdf":  MediaTypePDF,
	"png":  MediaTypePNG,
	"jpg":  MediaTypeJPEG,
	"jpeg": MediaTypeJPEG,
	"webp": MediaTypeWebP,
	"txt":  MediaTypeText,
	"md":   MediaTypeText,
	"json": MediaTypeJSON,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MediaTypeForExt maps a file extension to its media type; "" when unknown.
func MediaTypeForExt(ext string) string {
	return extMediaTypes[NormalizeExt(ext)]
}

// NormalizeMediaType drops parameters (";charset=...") and lowercases.
func NormalizeMediaType(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsImage reports whether mt is an image media type.
func IsImage(mt string) bool {
	return strings.HasPrefix(NormalizeMediaType(mt), "image/")
}

// IsText reports whether mt can be flattened into prompt text as-is.
func IsText(mt string) bool {
	mt = NormalizeMediaType(mt)
	return strings.HasPrefix(mt, "text/") || mt == MediaTypeJSON
}
