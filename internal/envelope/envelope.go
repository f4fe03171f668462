// Package envelope validates inbound chat messages and turns them into the
// canonical Envelope that the hub fans out to every connection.
package envelope

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/registry"
)

// Kind identifies what an envelope carries.
type Kind string

// Envelope kinds. Media kinds are derived from the attachment's MIME type.
const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Rejection reasons returned by Build and DecodeInput.
var (
	ErrEmptyMessage    = errors.New("envelope: message has no text and no media")
	ErrFileTooLarge    = errors.New("envelope: attachment exceeds size limit")
	ErrUnsupportedType = errors.New("envelope: attachment type not allowed")
	ErrEncodingFailed  = errors.New("envelope: attachment could not be decoded")
	ErrMalformedInput  = errors.New("envelope: malformed message payload")
)

// timestampLayout matches the ISO-8601 form browsers produce with toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Media is a validated attachment.
type Media struct {
	EncodedData   string
	FileName      string
	FileSizeBytes int64
	MimeType      string
}

// Envelope is the canonical unit of distribution. It is never modified after
// Build returns it; the hub only serializes and forwards it.
type Envelope struct {
	Username  string
	Kind      Kind
	Text      string
	Media     *Media
	Timestamp string
}

// Input is a decoded sendMessage payload before validation.
type Input struct {
	Text      string
	Username  string
	Timestamp string
	Type      string
	FileData  string
	FileName  string
	FileSize  int64
}

// Build validates in and returns the envelope to broadcast on behalf of
// sender. The username claimed inside in is ignored. now supplies the build
// time stamp when the client did not send a usable one; nil means time.Now.
func Build(in Input, sender string, now func() time.Time) (Envelope, error) {
	if now == nil {
		now = time.Now
	}

	text := strings.TrimSpace(in.Text)

	var media *Media
	if strings.TrimSpace(in.FileData) != "" {
		m, err := buildMedia(in)
		if err != nil {
			return Envelope{}, err
		}
		media = m
	}

	if text == "" && media == nil {
		return Envelope{}, ErrEmptyMessage
	}

	kind := KindText
	if media != nil {
		k, err := kindOf(media.MimeType)
		if err != nil {
			return Envelope{}, err
		}
		kind = k
	}

	username := strings.TrimSpace(sender)
	if username == "" {
		username = registry.AnonymousName
	}

	return Envelope{
		Username:  username,
		Kind:      kind,
		Text:      text,
		Media:     media,
		Timestamp: stamp(in.Timestamp, now),
	}, nil
}

// stamp keeps the client's advisory timestamp when it is valid ISO-8601 and
// otherwise stamps the envelope with the build time.
func stamp(claimed string, now func() time.Time) string {
	claimed = strings.TrimSpace(claimed)
	if claimed != "" {
		if _, err := time.Parse(time.RFC3339, claimed); err == nil {
			return claimed
		}
	}
	return now().UTC().Format(timestampLayout)
}

func kindOf(mimeType string) (Kind, error) {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage, nil
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo, nil
	default:
		return "", fmt.Errorf("%w: no kind for %q", ErrUnsupportedType, mimeType)
	}
}
