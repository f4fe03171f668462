package envelope

import (
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"strings"
)

// MaxFileSize is the largest attachment accepted, in decoded bytes.
const MaxFileSize = 10 * 1024 * 1024

var allowedMimeTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
	"video/mp4":  {},
	"video/webm": {},
	"video/ogg":  {},
}

// IsAllowedMimeType reports whether attachments of mimeType are accepted.
func IsAllowedMimeType(mimeType string) bool {
	_, ok := allowedMimeTypes[strings.ToLower(strings.TrimSpace(mimeType))]
	return ok
}

// buildMedia checks size and type before the payload is decoded, so oversized
// or disallowed attachments never cost a decode pass. It returns nil media
// when the payload decodes to nothing.
func buildMedia(in Input) (*Media, error) {
	mimeType, payload, err := parseDataURI(in.FileData)
	if err != nil {
		return nil, err
	}

	size := impliedSize(payload)
	if in.FileSize > size {
		size = in.FileSize
	}
	if size > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, size, MaxFileSize)
	}

	if !IsAllowedMimeType(mimeType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}

	decoded, err := io.Copy(io.Discard, base64.NewDecoder(base64.StdEncoding, strings.NewReader(payload)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	if decoded == 0 {
		// an attachment with no bytes is treated as no attachment
		return nil, nil
	}

	return &Media{
		EncodedData:   in.FileData,
		FileName:      cleanFileName(in.FileName),
		FileSizeBytes: decoded,
		MimeType:      mimeType,
	}, nil
}

// parseDataURI splits "data:<mime>;base64,<payload>" into its MIME type and
// base64 payload.
func parseDataURI(uri string) (string, string, error) {
	uri = strings.TrimSpace(uri)
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", fmt.Errorf("%w: not a data URI", ErrEncodingFailed)
	}

	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("%w: data URI has no payload", ErrEncodingFailed)
	}

	params := strings.Split(header, ";")
	if len(params) < 2 || !strings.EqualFold(strings.TrimSpace(params[len(params)-1]), "base64") {
		return "", "", fmt.Errorf("%w: data URI is not base64", ErrEncodingFailed)
	}

	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	if mimeType == "" {
		return "", "", fmt.Errorf("%w: data URI has no media type", ErrEncodingFailed)
	}

	return mimeType, payload, nil
}

// impliedSize is the decoded length of a base64 payload without decoding it.
func impliedSize(payload string) int64 {
	n := int64(len(payload))
	if n == 0 {
		return 0
	}
	pad := int64(0)
	if strings.HasSuffix(payload, "==") {
		pad = 2
	} else if strings.HasSuffix(payload, "=") {
		pad = 1
	}
	return n*3/4 - pad
}

// cleanFileName drops any directory part a client may have sent.
func cleanFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "/" || base == "." {
		return ""
	}
	return base
}
