package shared

import (
	"encoding/json"
	"time"
)

// Duplex message types exchanged over the hub connection.
const (
	MsgRegisterNode            = "RegisterNode"
	MsgRegistered              = "Registered"
	MsgRequestOpenAI           = "RequestOpenAI"
	MsgRequestInference        = "RequestInference"
	MsgStreamInferenceResponse = "StreamInferenceResponse"
)

// Envelope is one frame on the duplex connection.
type Envelope struct {
	Type      string          `json:"type"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func NewEnvelope(msgType string, args any) (*Envelope, error) {
	env := &Envelope{Type: msgType}
	if args == nil {
		return env, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	env.Arguments = raw
	return env, nil
}

type NodeRegistration struct {
	MachineName     string   `json:"machineName"`
	AvailableModels []string `json:"availableModels"`
}

type InferenceRequest struct {
	RequestID   string `json:"requestId"`
	Model       string `json:"model"`
	EndpointURI string `json:"endpointUri"`
	RequestBody string `json:"requestBody"`
}

type InferenceChunk struct {
	RequestID     string `json:"requestId"`
	TokenFragment string `json:"tokenFragment"`
	IsFinal       bool   `json:"isFinal"`
}

// HubInstance is one entry of the registry's hub list.
type HubInstance struct {
	Address  string `json:"address"`
	Load     int64  `json:"load"`
	Capacity int64  `json:"capacity"`
}

type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelList struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}

type NodeView struct {
	ConnectionID  string    `json:"connectionId"`
	MachineName   string    `json:"machineName"`
	HostedModels  []string  `json:"hostedModels"`
	CurrentLoad   int64     `json:"currentLoad"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}
