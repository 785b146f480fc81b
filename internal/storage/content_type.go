package storage

import (
	"mime"
	"path/filepath"
	"strings"
)

// contentTypeForKey derives a MIME type from the key's extension. Archive
// exports all carry .json keys; anything unrecognized falls back to a
// generic binary type.
func contentTypeForKey(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
