package proxy

import (
	"context"
	"fmt"
	"strings"

	"gridhub/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"resty.dev/v3"
)

// RegistryClient lists the hubs the registry currently knows about.
type RegistryClient interface {
	GetHubInstances(ctx context.Context) ([]shared.HubInstance, error)
}

type HTTPRegistryClient struct {
	client  *resty.Client
	baseURL string
}

func NewRegistryClient(client *resty.Client, baseURL string) *HTTPRegistryClient {
	return &HTTPRegistryClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (r *HTTPRegistryClient) GetHubInstances(ctx context.Context) ([]shared.HubInstance, error) {
	var hubs []shared.HubInstance
	resp, err := r.client.R().
		SetContext(ctx).
		SetTimeout(shared.DefaultHTTPTimeout).
		SetResult(&hubs).
		Get(r.baseURL + shared.RegistryPath)
	if err != nil {
		return nil, utils.Wrap(shared.ErrRegistryFetch.Msg, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%s: status %d", shared.ErrRegistryFetch.Msg, resp.StatusCode())
	}
	return hubs, nil
}
