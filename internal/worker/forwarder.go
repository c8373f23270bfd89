package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"gridhub/internal/metrics"
	"gridhub/internal/shared"

	"resty.dev/v3"
)

const (
	scannerInitialBuffer = 64 << 10
	scannerMaxBuffer     = shared.MaxMessageSize
)

// Forwarder replays a dispatched request against the local model server and
// turns its SSE response into chunks.
type Forwarder struct {
	client  *resty.Client
	baseURL string
}

func NewForwarder(client *resty.Client, baseURL string) *Forwarder {
	return &Forwarder{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (f *Forwarder) url(endpoint string) string {
	return f.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

// Forward always ends the request with exactly one final chunk: empty on
// success, "[error] <msg>" on failure. The returned error is the failure
// already reported, for logging.
func (f *Forwarder) Forward(ctx context.Context, req shared.InferenceRequest, emit func(shared.InferenceChunk) error) error {
	err := f.stream(ctx, req, emit)
	if err != nil {
		metrics.ForwardedRequests.WithLabelValues("error").Inc()
		final := shared.InferenceChunk{
			RequestID:     req.RequestID,
			TokenFragment: fmt.Sprintf("%s %s", shared.ErrorMarker, err.Error()),
			IsFinal:       true,
		}
		return errors.Join(err, emit(final))
	}
	metrics.ForwardedRequests.WithLabelValues("success").Inc()
	return nil
}

func (f *Forwarder) stream(ctx context.Context, req shared.InferenceRequest, emit func(shared.InferenceChunk) error) error {
	ctx, cancel := context.WithTimeout(ctx, shared.DefaultLocalTimeout)
	defer cancel()

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetBody(req.RequestBody).
		SetDoNotParseResponse(true).
		Post(f.url(req.EndpointURI))
	if err != nil {
		return fmt.Errorf("%s: %w", shared.ErrFailedLocalReq.Msg, err)
	}
	if resp.Body == nil {
		return fmt.Errorf("%s: empty response body", shared.ErrFailedReadingBody.Msg)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !resp.IsSuccess() {
		return fmt.Errorf("%s: status %d", shared.ErrFailedLocalStatus.Msg, resp.StatusCode())
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	var event []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			event = append(event, line)
			continue
		}
		// blank line ends an event
		done, err := emitEvent(req.RequestID, event, emit)
		if err != nil || done {
			return err
		}
		event = event[:0]
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s: %w", shared.ErrFailedReadingBody.Msg, err)
	}

	done, err := emitEvent(req.RequestID, event, emit)
	if err != nil || done {
		return err
	}
	return emit(shared.InferenceChunk{RequestID: req.RequestID, IsFinal: true})
}

// emitEvent sends one SSE event as a chunk. done is set once the [DONE]
// sentinel has been turned into the final chunk.
func emitEvent(requestID string, lines []string, emit func(shared.InferenceChunk) error) (done bool, err error) {
	if len(lines) == 0 {
		return false, nil
	}
	data := make([]string, 0, len(lines))
	for _, l := range lines {
		data = append(data, strings.TrimPrefix(l, "data: "))
	}
	combined := strings.Join(data, "\n")
	if strings.TrimSpace(combined) == "" {
		return false, nil
	}
	if strings.TrimSpace(combined) == shared.DoneToken {
		return true, emit(shared.InferenceChunk{RequestID: requestID, IsFinal: true})
	}
	return false, emit(shared.InferenceChunk{RequestID: requestID, TokenFragment: combined})
}
