package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SendMessageRequest is the structured sendMessage payload. Early clients
// send a bare JSON string instead; DecodeInput accepts both.
type SendMessageRequest struct {
	Message   string `json:"message"`
	Username  string `json:"username,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Type      string `json:"type,omitempty"`
	FileData  string `json:"fileData,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
}

// ReceivePayload is the flattened envelope delivered with receiveMessage.
type ReceivePayload struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Type      Kind   `json:"type"`
	FileData  string `json:"fileData,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	Timestamp string `json:"timestamp"`
}

// DecodeInput decodes a sendMessage payload in either protocol revision.
func DecodeInput(data json.RawMessage) (Input, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Input{}, nil
	}

	switch data[0] {
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return Input{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		return Input{Text: text}, nil

	case '{':
		var req SendMessageRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return Input{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		return Input{
			Text:      req.Message,
			Username:  req.Username,
			Timestamp: req.Timestamp,
			Type:      req.Type,
			FileData:  req.FileData,
			FileName:  req.FileName,
			FileSize:  req.FileSize,
		}, nil

	default:
		return Input{}, fmt.Errorf("%w: unexpected JSON %.16q", ErrMalformedInput, data)
	}
}

// Payload flattens e into its receiveMessage form.
func (e Envelope) Payload() ReceivePayload {
	p := ReceivePayload{
		Username:  e.Username,
		Message:   e.Text,
		Type:      e.Kind,
		Timestamp: e.Timestamp,
	}
	if e.Media != nil {
		p.FileData = e.Media.EncodedData
		p.FileName = e.Media.FileName
		p.FileSize = e.Media.FileSizeBytes
		p.MimeType = e.Media.MimeType
	}
	return p
}
