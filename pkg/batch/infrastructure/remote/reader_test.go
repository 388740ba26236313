package remote_test

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/serendip/pkg/batch/infrastructure/remote"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestJSONResponseReader_CamelCaseCandidates(t *testing.T) {
	raw := fmt.Sprintf(`{
		"modelVersion": "gemini-3-pro-image-preview",
		"candidates": [{
			"finishReason": "STOP",
			"safetyRatings": [{"category": "HARM_CATEGORY_HARASSMENT", "probability": "NEGLIGIBLE"}],
			"content": {"parts": [
				{"text": "thinking"},
				{"inlineData": {"mimeType": "image/png", "data": %q}},
				{"inlineData": {"mimeType": "image/png", "data": %q}}
			]}
		}]
	}`, b64("thought"), b64("final"))

	ext, err := remote.NewJSONResponseReader().Decode([]byte(raw))
	require.NoError(t, err)
	require.True(t, ext.HasImage())
	require.Len(t, ext.Images, 2)

	final, idx := ext.Final()
	assert.Equal(t, 1, idx)
	assert.Equal(t, "final", string(final.Data))
	assert.Equal(t, "thought", string(ext.Images[0].Data))
	assert.Equal(t, "STOP", ext.Metadata.FinishReason)
	assert.Equal(t, "gemini-3-pro-image-preview", ext.Metadata.ModelVersion)
	require.Len(t, ext.Metadata.SafetyRatings, 1)
	assert.Equal(t, "NEGLIGIBLE", ext.Metadata.SafetyRatings[0].Probability)
}

func TestJSONResponseReader_SnakeCaseTopLevelParts(t *testing.T) {
	raw := fmt.Sprintf(`{"parts": [{"inline_data": {"mime_type": "image/jpeg", "data": %q}}]}`, b64("only"))

	ext, err := remote.NewJSONResponseReader().Decode([]byte(raw))
	require.NoError(t, err)
	require.Len(t, ext.Images, 1)
	final, idx := ext.Final()
	assert.Equal(t, 0, idx)
	assert.Equal(t, "image/jpeg", final.MIMEType)
}

func TestJSONResponseReader_NoImage(t *testing.T) {
	cases := map[string]string{
		"text only":     `{"candidates": [{"content": {"parts": [{"text": "no"}]}}]}`,
		"non image":     fmt.Sprintf(`{"parts": [{"inlineData": {"mimeType": "text/plain", "data": %q}}]}`, b64("x")),
		"bad base64":    `{"parts": [{"inlineData": {"mimeType": "image/png", "data": "%%%"}}]}`,
		"no candidates": `{"promptFeedback": {"blockReason": "SAFETY"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			ext, err := remote.NewJSONResponseReader().Decode([]byte(raw))
			require.NoError(t, err)
			assert.False(t, ext.HasImage())
		})
	}

	ext, err := remote.NewJSONResponseReader().Decode([]byte(cases["no candidates"]))
	require.NoError(t, err)
	assert.Equal(t, "SAFETY", ext.BlockReason)
}

func TestJSONResponseReader_Malformed(t *testing.T) {
	_, err := remote.NewJSONResponseReader().Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestJSONResponseReader_AccessorOrder(t *testing.T) {
	raw := fmt.Sprintf(`{
		"parts": [{"inlineData": {"mimeType": "image/png", "data": %q}}],
		"candidates": [{"content": {"parts": [{"inlineData": {"mimeType": "image/png", "data": %q}}]}}]
	}`, b64("top"), b64("candidate"))

	ext, err := remote.NewJSONResponseReader(remote.FirstCandidateParts, remote.TopLevelParts).Decode([]byte(raw))
	require.NoError(t, err)
	final, _ := ext.Final()
	assert.Equal(t, "candidate", string(final.Data))
}
