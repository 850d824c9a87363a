// Package payload turns a raw input source into the shape the remote
// forensic engine accepts: base64 audio plus a MIME type, or plain text.
package payload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxBytes is the raw-size ceiling enforced before any network call.
const MaxBytes = 10 << 20 // 10 MiB

// DefaultMIMEType is used when the source's media type cannot be determined.
const DefaultMIMEType = "audio/mp3"

var (
	ErrPayloadTooLarge   = errors.New("payload exceeds size ceiling")
	ErrRemoteFetchFailed = errors.New("remote fetch failed")
	ErrUnreadableSource  = errors.New("unreadable source")
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindText  Kind = "text"
)

// Payload is an immutable, transport-ready encoding of one input source.
type Payload struct {
	Kind     Kind
	MIMEType string // set for audio payloads
	Data     string // base64 audio or raw text
	RawBytes int    // size before base64 expansion
}

var fetchClient = &http.Client{Timeout: 30 * time.Second}

// FromAudio wraps an in-memory audio blob, e.g. a finished recording.
func FromAudio(data []byte, mimeType string) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, fmt.Errorf("%w: empty audio blob", ErrUnreadableSource)
	}
	if len(data) > MaxBytes {
		return Payload{}, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(data), MaxBytes)
	}
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return Payload{
		Kind:     KindAudio,
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
		RawBytes: len(data),
	}, nil
}

// FromFile reads and encodes an uploaded audio file, deriving the MIME type
// from the file extension.
func FromFile(path string) (Payload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	if info.Size() > MaxBytes {
		return Payload{}, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrPayloadTooLarge, path, info.Size(), MaxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	return FromAudio(data, mimeFromExtension(path))
}

// FromURL fetches a remote audio sample. A non-success HTTP status or a
// transport failure is an encoding error, distinct from analysis failures:
// the remote engine is never invoked.
func FromURL(ctx context.Context, url string) (Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrRemoteFetchFailed, err)
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrRemoteFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Payload{}, fmt.Errorf("%w: %s returned %s", ErrRemoteFetchFailed, url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBytes+1))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrRemoteFetchFailed, err)
	}
	if len(data) > MaxBytes {
		return Payload{}, fmt.Errorf("%w: %s (max %d bytes)", ErrPayloadTooLarge, url, MaxBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeFromExtension(url)
	}
	return FromAudio(data, mimeType)
}

// FromText wraps a pasted sample; no binary encoding is applied.
func FromText(text string) (Payload, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Payload{}, fmt.Errorf("%w: empty text", ErrUnreadableSource)
	}
	if len(trimmed) > MaxBytes {
		return Payload{}, fmt.Errorf("%w: %d bytes of text (max %d)", ErrPayloadTooLarge, len(trimmed), MaxBytes)
	}
	return Payload{
		Kind:     KindText,
		Data:     trimmed,
		RawBytes: len(trimmed),
	}, nil
}

func mimeFromExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		return "audio/mp3"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	}
	if t := mime.TypeByExtension(ext); strings.HasPrefix(t, "audio/") {
		return t
	}
	return DefaultMIMEType
}
