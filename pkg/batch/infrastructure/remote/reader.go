package remote

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// object is a loosely decoded JSON object. Lookups accept several key
// spellings because responses arrive both in snake_case (batch outputs) and
// camelCase (SDK serialization).
type object map[string]json.RawMessage

func (o object) raw(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := o[k]; ok && len(v) > 0 && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func (o object) object(keys ...string) object {
	v, ok := o.raw(keys...)
	if !ok {
		return nil
	}
	var out object
	if err := json.Unmarshal(v, &out); err != nil {
		return nil
	}
	return out
}

func (o object) objects(keys ...string) []object {
	v, ok := o.raw(keys...)
	if !ok {
		return nil
	}
	var out []object
	if err := json.Unmarshal(v, &out); err != nil {
		return nil
	}
	return out
}

func (o object) str(keys ...string) string {
	v, ok := o.raw(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		// enums may be serialized as numbers
		return strings.Trim(string(v), `"`)
	}
	return s
}

// PartsAccessor finds the content parts of one response layout.
type PartsAccessor struct {
	Name  string
	Parts func(resp object) []object
}

// TopLevelParts reads "parts" directly on the response.
var TopLevelParts = PartsAccessor{
	Name: "parts",
	Parts: func(resp object) []object {
		return resp.objects("parts")
	},
}

// FirstCandidateParts reads candidates[0].content.parts.
var FirstCandidateParts = PartsAccessor{
	Name: "candidates[0].content.parts",
	Parts: func(resp object) []object {
		candidates := resp.objects("candidates")
		if len(candidates) == 0 {
			return nil
		}
		return candidates[0].object("content").objects("parts")
	},
}

// JSONResponseReader decodes a serialized response by trying its accessors
// in order; the first one that yields parts wins.
type JSONResponseReader struct {
	accessors []PartsAccessor
}

var _ port.ResponseDecoder = (*JSONResponseReader)(nil)

// NewJSONResponseReader creates a reader. Without accessors the default
// order TopLevelParts, FirstCandidateParts is used.
func NewJSONResponseReader(accessors ...PartsAccessor) *JSONResponseReader {
	if len(accessors) == 0 {
		accessors = []PartsAccessor{TopLevelParts, FirstCandidateParts}
	}
	return &JSONResponseReader{accessors: accessors}
}

// Decode implements port.ResponseDecoder. Parts that are not images or whose
// payload cannot be decoded are skipped; a response without images is not an
// error at this level.
func (r *JSONResponseReader) Decode(raw []byte) (*port.Extraction, error) {
	var resp object
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	var parts []object
	for _, accessor := range r.accessors {
		if parts = accessor.Parts(resp); len(parts) > 0 {
			logger.Debugf("Response parts found via %s (%d parts).", accessor.Name, len(parts))
			break
		}
	}

	ext := &port.Extraction{Metadata: readMetadata(resp)}
	for i, part := range parts {
		inline := part.object("inline_data", "inlineData")
		if inline == nil {
			continue
		}
		mime := inline.str("mime_type", "mimeType")
		data := inline.str("data")
		if data == "" || !strings.HasPrefix(mime, "image/") {
			continue
		}
		decoded, err := decodeBase64(data)
		if err != nil {
			logger.Warnf("Skipping image part %d: %v", i, err)
			continue
		}
		ext.Images = append(ext.Images, port.ImagePart{MIMEType: mime, Data: decoded})
	}
	ext.BlockReason = resp.object("prompt_feedback", "promptFeedback").str("block_reason", "blockReason")
	return ext, nil
}

func decodeBase64(data string) ([]byte, error) {
	if out, err := base64.StdEncoding.DecodeString(data); err == nil {
		return out, nil
	}
	out, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image payload: %w", err)
	}
	return out, nil
}

func readMetadata(resp object) model.ResponseMetadata {
	meta := model.ResponseMetadata{
		ModelVersion: resp.str("model_version", "modelVersion"),
	}
	candidates := resp.objects("candidates")
	if len(candidates) == 0 {
		return meta
	}
	cand := candidates[0]
	meta.FinishReason = cand.str("finish_reason", "finishReason")
	for _, rating := range cand.objects("safety_ratings", "safetyRatings") {
		meta.SafetyRatings = append(meta.SafetyRatings, model.SafetyRating{
			Category:    rating.str("category"),
			Probability: rating.str("probability"),
		})
	}
	return meta
}
