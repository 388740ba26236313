package partition

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RequestLine is one line of an uploaded batch request file.
type RequestLine struct {
	Key     string          `json:"key"`
	Request GenerateRequest `json:"request"`
}

// GenerateRequest mirrors the synchronous generate call of one item.
type GenerateRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generation_config"`
}

// Content is a single conversational turn.
type Content struct {
	Role  string     `json:"role"`
	Parts []TextPart `json:"parts"`
}

// TextPart is a text-only request part.
type TextPart struct {
	Text string `json:"text"`
}

// GenerationConfig asks for image output only.
type GenerationConfig struct {
	ResponseModalities []string `json:"response_modalities"`
}

// BuildRequestLine builds the request line of one resolved prompt.
func BuildRequestLine(key, prompt string) RequestLine {
	return RequestLine{
		Key: key,
		Request: GenerateRequest{
			Contents:         []Content{{Role: "user", Parts: []TextPart{{Text: prompt}}}},
			GenerationConfig: GenerationConfig{ResponseModalities: []string{"IMAGE"}},
		},
	}
}

// ResultLine is one line of a downloaded batch output file. Exactly one of
// Response and Error is expected to be set.
type ResultLine struct {
	Key      string          `json:"key"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

// HasError reports whether the line carries a per-item error.
func (l *ResultLine) HasError() bool {
	return isSet(l.Error)
}

// ErrorDetail returns a readable message and the HTTP-like code of the error.
func (l *ResultLine) ErrorDetail() (string, int) {
	var text string
	if err := json.Unmarshal(l.Error, &text); err == nil {
		return text, 0
	}
	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(l.Error, &obj); err == nil && obj.Message != "" {
		if obj.Status != "" {
			return fmt.Sprintf("%s: %s", obj.Status, obj.Message), obj.Code
		}
		return obj.Message, obj.Code
	}
	return string(bytes.TrimSpace(l.Error)), 0
}

func isSet(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
