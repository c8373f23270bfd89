// Package inference runs the hub side of a chat completion: it picks a node,
// dispatches the request over the duplex connection, and relays the streamed
// answer back to the HTTP caller.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gridhub/internal/metrics"
	"gridhub/internal/shared"
)

type InferenceInput struct {
	Req          *RequestInfo
	Ctx          context.Context
	LogFields    map[string]string
	StreamWriter func(token string) error // callback for real-time streaming
}

type InferenceMetadata struct {
	NodeID           string
	Completed        bool
	Canceled         bool
	Chunks           int
	TotalTime        time.Duration
	TimeToFirstChunk time.Duration
}

type InferenceOutput struct {
	FinalResponse []byte
	Metadata      *InferenceMetadata

	// This is for mid-stream errors, if any
	Error error
}

// DoInference only returns errors when nothing has been written to the
// caller yet: admission failures, dispatch failures and an invalid aggregate.
// Anything that goes wrong once streaming started is reported in
// InferenceOutput.Error instead.
func (im *InferenceHandler) DoInference(input InferenceInput) (*InferenceOutput, error) {
	if input.Req == nil {
		return nil, &shared.RequestError{
			StatusCode: 400,
			Err:        errors.New("request info missing"),
		}
	}
	req := input.Req
	ctx := input.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	stream := input.StreamWriter != nil
	streamLabel := strconv.FormatBool(stream)
	log := logWithFields(im.Log, input.LogFields)

	node, ok := im.Registry.TryGetNodeForModel(req.Model)
	if !ok {
		metrics.RequestCount.WithLabelValues(req.Model, streamLabel, "no_node").Inc()
		return nil, shared.ErrNoNodeForModel
	}

	// Load and channel are released exactly once however the request ends
	im.Registry.IncrementLoad(node.ConnectionID)
	ch := im.Responses.CreateChannelForRequest(req.ID)
	metrics.InflightRequests.Inc()
	im.observeLoad(node.ConnectionID)
	defer func() {
		im.Responses.Remove(req.ID)
		im.Registry.DecrementLoad(node.ConnectionID)
		metrics.InflightRequests.Dec()
		im.observeLoad(node.ConnectionID)
	}()

	err := im.Dispatcher.Dispatch(ctx, node.ConnectionID, shared.InferenceRequest{
		RequestID:   req.ID,
		Model:       req.Model,
		EndpointURI: req.Endpoint,
		RequestBody: string(req.Body),
	})
	if err != nil {
		metrics.ErrorCount.WithLabelValues(shared.ErrDispatchFailed.Code).Inc()
		metrics.RequestCount.WithLabelValues(req.Model, streamLabel, "dispatch_error").Inc()
		return nil, &shared.RequestError{
			StatusCode: 500,
			Err:        fmt.Errorf("%s: %w", shared.ErrDispatchFailed.Msg, err),
		}
	}
	log.Debugw("dispatched request", "node_id", node.ConnectionID, "machine_name", node.MachineName)

	meta := &InferenceMetadata{NodeID: node.ConnectionID}
	out := &InferenceOutput{Metadata: meta}

	if stream {
		out.Error = im.relayStream(ctx, req, ch, input.StreamWriter, meta)
	} else {
		chunks, err := ch.Drain(ctx)
		meta.Chunks = len(chunks)
		meta.Canceled = errors.Is(err, context.Canceled)
		if err != nil {
			out.Error = err
		} else {
			body, aggErr := aggregate(chunks)
			if aggErr != nil {
				metrics.ErrorCount.WithLabelValues(shared.ErrInvalidAggregate.Code).Inc()
				metrics.RequestCount.WithLabelValues(req.Model, streamLabel, "invalid_response").Inc()
				return nil, &shared.RequestError{
					StatusCode: 500,
					Err:        fmt.Errorf("%s: %w", shared.ErrInvalidAggregate.Msg, aggErr),
				}
			}
			out.FinalResponse = body
			meta.Completed = true
		}
	}

	meta.TotalTime = time.Since(req.StartTime)
	status := "success"
	if out.Error != nil {
		status = "incomplete"
	}
	metrics.RequestCount.WithLabelValues(req.Model, streamLabel, status).Inc()
	metrics.RequestDuration.WithLabelValues(req.Model, streamLabel).Observe(meta.TotalTime.Seconds())
	if meta.TimeToFirstChunk != 0 {
		metrics.TimeToFirstChunk.WithLabelValues(req.Model).Observe(meta.TimeToFirstChunk.Seconds())
	}
	return out, nil
}

// relayStream writes every chunk as SSE frames until the node sends its final
// chunk, then terminates with [DONE]. A caller that goes away stops the relay.
func (im *InferenceHandler) relayStream(ctx context.Context, req *RequestInfo, ch chunkSource, write func(string) error, meta *InferenceMetadata) error {
	for {
		chunk, ok, err := ch.Next(ctx)
		if err != nil {
			meta.Canceled = errors.Is(err, context.Canceled)
			return err
		}
		if !ok {
			break
		}
		meta.Chunks++
		for _, line := range sseLines(chunk) {
			if meta.TimeToFirstChunk == 0 {
				meta.TimeToFirstChunk = time.Since(req.StartTime)
			}
			if err := write(sseFrame(line)); err != nil {
				return err
			}
		}
	}
	if err := write(doneFrame); err != nil {
		return err
	}
	meta.Completed = true
	return nil
}

type chunkSource interface {
	Next(ctx context.Context) (string, bool, error)
}

func (im *InferenceHandler) observeLoad(connID string) {
	if node, ok := im.Registry.Get(connID); ok {
		metrics.NodeLoad.WithLabelValues(connID).Set(float64(node.CurrentLoad))
	}
}
