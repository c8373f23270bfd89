package proxy

import (
	"context"
	"strings"

	"gridhub/internal/shared"

	"resty.dev/v3"
)

// HealthChecker probes a hub's health endpoint.
type HealthChecker interface {
	Healthy(ctx context.Context, address string) bool
}

type HTTPHealthChecker struct {
	client *resty.Client
}

func NewHealthChecker(client *resty.Client) *HTTPHealthChecker {
	return &HTTPHealthChecker{client: client}
}

// Healthy is true only for a 2xx answer within the probe timeout.
func (h *HTTPHealthChecker) Healthy(ctx context.Context, address string) bool {
	resp, err := h.client.R().
		SetContext(ctx).
		SetTimeout(shared.HealthProbeTimeout).
		Get(strings.TrimRight(address, "/") + shared.HealthPath)
	if err != nil {
		return false
	}
	return resp.IsSuccess()
}
