package inference

import (
	"time"

	"gridhub/internal/shared"
)

// ListModels reports every model hosted somewhere in the pool in the OpenAI
// list shape.
func (im *InferenceHandler) ListModels() shared.ModelList {
	now := time.Now().Unix()
	models := im.Registry.Models()
	data := make([]shared.ModelEntry, 0, len(models))
	for _, m := range models {
		data = append(data, shared.ModelEntry{
			ID:      m,
			Object:  "model",
			Created: now,
			OwnedBy: "library",
		})
	}
	return shared.ModelList{Object: "list", Data: data}
}

// ListTags is the bare model name list served on the Ollama-style tags
// endpoint.
func (im *InferenceHandler) ListTags() []string {
	models := im.Registry.Models()
	if models == nil {
		return []string{}
	}
	return models
}

func (im *InferenceHandler) ListNodes() []shared.NodeView {
	all := im.Registry.GetAll()
	out := make([]shared.NodeView, 0, len(all))
	for _, n := range all {
		out = append(out, shared.NodeView{
			ConnectionID:  n.ConnectionID,
			MachineName:   n.MachineName,
			HostedModels:  n.HostedModels,
			CurrentLoad:   n.CurrentLoad,
			LastHeartbeat: n.LastHeartbeat,
		})
	}
	return out
}
