package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gridhub/internal/metrics"
	"gridhub/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"resty.dev/v3"
)

// Discoverer asks the local model server which models it can serve.
type Discoverer struct {
	client  *resty.Client
	baseURL string
}

func NewDiscoverer(client *resty.Client, baseURL string) *Discoverer {
	return &Discoverer{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (d *Discoverer) Discover(ctx context.Context) ([]string, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetTimeout(shared.HealthProbeTimeout).
		Get(d.baseURL + shared.TagsPath)
	if err != nil {
		return nil, utils.Wrap("failed fetching local model tags", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("local model tags returned status %d", resp.StatusCode())
	}
	models, err := ParseModels(resp.Bytes())
	if err != nil {
		return nil, utils.Wrap("failed parsing local model tags", err)
	}
	metrics.DiscoveredModels.Set(float64(len(models)))
	return models, nil
}

// ParseModels accepts the tag listing shapes seen in the wild: an array of
// names, an array of objects, an object wrapping such an array under
// "models", or a single object with a name. Names are trimmed, blanks
// dropped and duplicates removed ignoring case.
func ParseModels(raw []byte) ([]string, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []string{}, nil
	}
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, err
	}

	var names []string
	switch v := root.(type) {
	case []any:
		names = namesFromArray(v, false)
	case map[string]any:
		if arr, ok := v["models"].([]any); ok {
			names = namesFromArray(arr, true)
		} else if name, ok := v["name"].(string); ok {
			names = []string{name}
		}
	}
	return dedupe(names), nil
}

func namesFromArray(arr []any, allowRemote bool) []string {
	var out []string
	for _, item := range arr {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if m, ok := v["model"].(string); ok {
				out = append(out, m)
			} else if n, ok := v["name"].(string); ok {
				out = append(out, n)
			} else if r, ok := v["remote_model"].(string); ok && allowRemote {
				out = append(out, r)
			}
		}
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}
