package service

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	"github.com/google/uuid"
)

func newChunkID() string {
	return uuid.NewString()
}

// uploadKey maps a tenant collection and file identifier onto a flat,
// stable filestore key.
func uploadKey(collection, identifier string) string {
	sum := sha256.Sum256([]byte(collection + "\x00" + identifier))
	return hex.EncodeToString(sum[:16]) + strings.ToLower(path.Ext(identifier))
}

// cleanFileName turns a client supplied name into a relative slash path
// without traversal segments.
func cleanFileName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	cleaned := path.Clean("/" + name)
	return strings.TrimPrefix(cleaned, "/")
}
