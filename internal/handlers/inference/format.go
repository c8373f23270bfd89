package inference

import (
	"encoding/json"
	"strings"

	"gridhub/internal/shared"
)

// sseLines splits one relayed chunk into the payloads of outgoing SSE frames.
// Blank lines are dropped and an upstream "data:" prefix is stripped so the
// caller never sees it doubled.
func sseLines(chunk string) []string {
	if chunk == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(chunk, "\n") {
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			line = rest
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func sseFrame(payload string) string {
	return "data: " + payload
}

var doneFrame = sseFrame(shared.DoneToken)

// aggregate joins every chunk and checks the result is a single JSON
// document.
func aggregate(chunks []string) ([]byte, error) {
	body := []byte(strings.Join(chunks, ""))
	var doc json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return body, nil
}
