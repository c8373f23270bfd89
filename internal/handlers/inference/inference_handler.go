package inference

import (
	"context"

	"gridhub/internal/nodes"
	"gridhub/internal/responses"
	"gridhub/internal/shared"

	"go.uber.org/zap"
)

// Dispatcher delivers an inference request to one connected node.
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, req shared.InferenceRequest) error
}

type InferenceHandler struct {
	Registry   *nodes.Registry
	Responses  *responses.Manager
	Dispatcher Dispatcher
	Log        *zap.SugaredLogger
}

func NewInferenceHandler(registry *nodes.Registry, resp *responses.Manager, dispatcher Dispatcher, log *zap.SugaredLogger) *InferenceHandler {
	return &InferenceHandler{
		Registry:   registry,
		Responses:  resp,
		Dispatcher: dispatcher,
		Log:        log,
	}
}

func logWithFields(logger *zap.SugaredLogger, fields map[string]string) *zap.SugaredLogger {
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return logger.With(args...)
}
