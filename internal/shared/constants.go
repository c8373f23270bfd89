package shared

import "time"

// HTTP Client Configuration
const (
	DefaultHTTPTimeout     = 180 * time.Second
	DefaultLocalTimeout    = 10 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	HealthProbeTimeout     = 5 * time.Second
)

// Worker Configuration
const (
	ReconnectDelay    = 5 * time.Second
	DiscoveryInterval = 30 * time.Second
	DefaultHubURL     = "ws://localhost:8080/gridhub"
	DefaultOllamaURL  = "http://localhost:11434"
	TagsPath          = "/api/tags"
)

// Duplex connection Configuration
const (
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 16 << 20
)

// Proxy Configuration
const (
	RegistryPollingInterval = 30 * time.Second
	DefaultRegistryURL      = "http://localhost:5120"
	RegistryPath            = "/Registry"
	HealthPath              = "/health"
	ProxyRouteID            = "ai-api-route"
	ProxyClusterID          = "hub-cluster"
	ProxyPathPrefix         = "/v1/"
	RoundRobinPolicy        = "RoundRobin"
)

// Hub announcement Configuration
const (
	AnnounceInterval = 10 * time.Second
	AnnounceKeyTTL   = 3 * AnnounceInterval
	HubSetKey        = "gridhub:hubs"
	HubKeyPrefix     = "gridhub:hub:"
	DefaultCapacity  = 100
)

// API Configuration
const (
	ChatCompletionsPath = "/v1/chat/completions"
	DoneToken           = "[DONE]"
	ErrorMarker         = "[error]"
	IDAlphabet          = "0123456789abcdefghijklmnopqrstuvwxyz"
)
