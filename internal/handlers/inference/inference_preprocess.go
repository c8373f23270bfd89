package inference

import (
	"encoding/json"
	"strings"
	"time"

	"gridhub/internal/shared"
)

type PreprocessInput struct {
	Body      []byte
	Endpoint  string
	RequestID string
}

type RequestInfo struct {
	Body         []byte
	ID           string
	StartTime    time.Time
	Endpoint     string
	Model        string
	Stream       bool
	IncludeUsage bool
	Prompt       string
}

// Preprocess extracts the routing fields from a chat body. Parsing is
// tolerant: malformed or oddly typed fields fall back to their zero value and
// only a missing model rejects the request. The body is forwarded untouched.
func (im *InferenceHandler) Preprocess(input PreprocessInput) (*RequestInfo, error) {
	info := &RequestInfo{
		Body:      input.Body,
		ID:        input.RequestID,
		StartTime: time.Now(),
		Endpoint:  input.Endpoint,
	}

	var payload map[string]any
	if err := json.Unmarshal(input.Body, &payload); err != nil {
		im.Log.Debugw("unparseable chat body", "request_id", input.RequestID, "error", err)
	}

	info.Model = shared.GetString(payload, "model")
	info.Stream = shared.GetBool(payload, "stream")
	if opts, ok := payload["stream_options"].(map[string]any); ok {
		info.IncludeUsage = shared.GetBool(opts, "include_usage")
	}
	info.Prompt = extractPrompt(payload)

	if info.Model == "" {
		return nil, shared.ErrModelMissing
	}
	return info, nil
}

// extractPrompt returns prompt, or the concatenated message contents when
// prompt is absent.
func extractPrompt(payload map[string]any) string {
	if prompt := shared.GetString(payload, "prompt"); prompt != "" {
		return prompt
	}
	messages, ok := payload["messages"].([]any)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		sb.WriteString(shared.GetString(msg, "content"))
	}
	return sb.String()
}
