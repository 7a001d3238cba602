// Package storage persists generated artifacts and hands back opaque
// references that the job store records.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get for an unknown reference.
var ErrNotFound = errors.New("storage: object not found")

// Backend stores artifact bytes under a key and returns a reference that
// resolves back to the same bytes through Get.
type Backend interface {
	// Put writes data atomically: either the complete object becomes
	// visible or nothing does. Failures are *WriteError.
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the object; deleting a missing object is not an error.
	Delete(ctx context.Context, ref string) error
	// PublicURL maps a reference to the URL clients download it from.
	PublicURL(ref string) string
}

// WriteError reports a failed artifact write. The attempt that produced the
// artifact may be retried.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage: write %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ArtifactKey names the artifact of a job: the job id plus an extension
// derived from the MIME type.
func ArtifactKey(jobID, mimeType string) string {
	return ensureExtension(jobID, extensionForMIME(mimeType))
}

func ensureExtension(key, ext string) string {
	if ext == "" || strings.EqualFold(path.Ext(key), ext) {
		return key
	}
	return key + ext
}

func extensionForMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
