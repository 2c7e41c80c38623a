package rehydrate

import (
	"path"
	"strings"
)

// DefaultMIME is used for assets whose extension is not in the table.
const DefaultMIME = "application/octet-stream"

var mimeTypes = map[string]string{
	".css":   "text/css",
	".js":    "application/javascript",
	".mjs":   "application/javascript",
	".json":  "application/json",
	".map":   "application/json",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".woff2": "font/woff2",
	".woff":  "font/woff",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".mp3":   "audio/mpeg",
	".ogg":   "audio/ogg",
	".wav":   "audio/wav",
	".txt":   "text/plain",
	".xml":   "application/xml",
}

// MimeType returns the MIME type for an asset path from a fixed extension
// table. Unknown extensions map to DefaultMIME.
func MimeType(p string) string {
	if mt, ok := mimeTypes[strings.ToLower(path.Ext(p))]; ok {
		return mt
	}
	return DefaultMIME
}
