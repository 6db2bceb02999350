package artifact

import "strings"

// mimeExtensions maps a handful of common MIME types to a file extension
// used when the caller supplied no usable name. Anything unrecognized
// falls back to .bin.
var mimeExtensions = map[string]string{
	"text/plain":       ".txt",
	"application/json": ".json",
	"application/xml":  ".xml",
	"application/zip":  ".zip",
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"application/octet-stream": ".bin",
	"application/x-pcap":       ".pcap",
	"application/gzip":         ".gz",
}

const maxSanitizedNameLength = 255

// sanitizeName strips path traversal and reserved characters from a
// caller-supplied artifact name. Returns "" if the result is empty or
// exceeds the length limit, signaling the caller to fall back to a
// MIME-derived extension.
func sanitizeName(name string) string {
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "..", "")

	var b strings.Builder
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			continue
		default:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || len(cleaned) > maxSanitizedNameLength {
		return ""
	}
	return cleaned
}

// deriveExtension picks a blob file extension: from the sanitized name if
// it carries one, else from mime via a small table, else ".bin".
func deriveExtension(sanitized, mime string) string {
	if sanitized != "" {
		if i := strings.LastIndexByte(sanitized, '.'); i >= 0 && i < len(sanitized)-1 {
			return sanitized[i:]
		}
	}
	if ext, ok := mimeExtensions[mime]; ok {
		return ext
	}
	return ".bin"
}
