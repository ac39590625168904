package agent

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnrecognizedShape means the runtime answered with a body none of the
// known decoders could read.
var ErrUnrecognizedShape = errors.New("unrecognized runtime response shape")

// The runtime's response body is not contractually fixed. Three shapes occur
// in practice: a bare JSON string, a message transcript, and an envelope with
// a content or response field. Each gets its own decoder; ExtractReply tries
// them in order of specificity.

type transcriptShape struct {
	Messages []struct {
		Role    string          `json:"role"`
		Type    string          `json:"type"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

type envelopeShape struct {
	Content  json.RawMessage `json:"content"`
	Response json.RawMessage `json:"response"`
}

// ExtractReply normalizes a raw runtime response body to the assistant's
// reply text.
func ExtractReply(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", ErrUnrecognizedShape
	}

	var transcript transcriptShape
	if err := json.Unmarshal(body, &transcript); err == nil && len(transcript.Messages) > 0 {
		// The last assistant turn is the reply; the runtime may append tool
		// traffic after it, so scan backwards.
		for i := len(transcript.Messages) - 1; i >= 0; i-- {
			m := transcript.Messages[i]
			if m.Role != "" && m.Role != "assistant" && m.Type != "ai" {
				continue
			}
			if text := contentText(m.Content); text != "" {
				return text, nil
			}
		}
		return "", ErrUnrecognizedShape
	}

	var envelope envelopeShape
	if err := json.Unmarshal(body, &envelope); err == nil {
		if text := contentText(envelope.Content); text != "" {
			return text, nil
		}
		if text := contentText(envelope.Response); text != "" {
			return text, nil
		}
	}

	var plain string
	if err := json.Unmarshal(body, &plain); err == nil && strings.TrimSpace(plain) != "" {
		return strings.TrimSpace(plain), nil
	}

	return "", ErrUnrecognizedShape
}

// contentText reads a content value that is either a string or a list of
// typed blocks with text fields.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	return ""
}
