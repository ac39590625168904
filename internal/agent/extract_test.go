package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractReplyTranscript(t *testing.T) {
	body := `{"messages":[
		{"role":"user","content":"find apples"},
		{"role":"assistant","content":"Jumbo has apples for 1.99"}]}`
	text, err := ExtractReply([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "Jumbo has apples for 1.99", text)
}

func TestExtractReplyTranscriptScansBackwards(t *testing.T) {
	body := `{"messages":[
		{"role":"assistant","content":"the real answer"},
		{"role":"tool","content":"{\"prices\":[]}"}]}`
	text, err := ExtractReply([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "the real answer", text)
}

func TestExtractReplyTranscriptBlockContent(t *testing.T) {
	body := `{"messages":[{"type":"ai","content":[
		{"type":"text","text":"part one"},
		{"type":"text","text":"part two"}]}]}`
	text, err := ExtractReply([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "part one\npart two", text)
}

func TestExtractReplyEnvelope(t *testing.T) {
	for body, want := range map[string]string{
		`{"content":"from content"}`:   "from content",
		`{"response":"from response"}`: "from response",
	} {
		text, err := ExtractReply([]byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, want, text)
	}
}

func TestExtractReplyBareString(t *testing.T) {
	text, err := ExtractReply([]byte(`"  plain answer  "`))
	require.NoError(t, err)
	assert.Equal(t, "plain answer", text)
}

func TestExtractReplyUnrecognized(t *testing.T) {
	for _, body := range []string{
		``,
		`{}`,
		`{"messages":[]}`,
		`{"messages":[{"role":"user","content":"only input"}]}`,
		`42`,
		`not json at all`,
	} {
		_, err := ExtractReply([]byte(body))
		assert.ErrorIs(t, err, ErrUnrecognizedShape, body)
	}
}
