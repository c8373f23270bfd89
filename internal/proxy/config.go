// Package proxy keeps a client facing reverse proxy's routing table in sync
// with the hubs the registry advertises, routing only to hubs that pass a
// health probe.
package proxy

import (
	"fmt"
	"sync"

	"gridhub/internal/shared"
)

type RouteConfig struct {
	RouteID    string
	ClusterID  string
	PathPrefix string
}

type DestinationConfig struct {
	Address string
}

type ClusterConfig struct {
	ClusterID           string
	LoadBalancingPolicy string
	// keyed destination<i>, i following registry order
	Destinations map[string]DestinationConfig
	// destination names in registry order
	Order []string
}

// Config is one immutable routing table. Its change token is closed exactly
// once, when a newer table replaces it.
type Config struct {
	Routes   []RouteConfig
	Clusters []ClusterConfig

	changed   chan struct{}
	closeOnce sync.Once
}

func newConfig(routes []RouteConfig, clusters []ClusterConfig) *Config {
	return &Config{
		Routes:   routes,
		Clusters: clusters,
		changed:  make(chan struct{}),
	}
}

// ChangeToken is closed when this config has been superseded.
func (c *Config) ChangeToken() <-chan struct{} {
	return c.changed
}

func (c *Config) signalChange() {
	c.closeOnce.Do(func() { close(c.changed) })
}

// Addresses returns the destinations of every cluster in order.
func (c *Config) Addresses() []string {
	var out []string
	for _, cl := range c.Clusters {
		for _, name := range cl.Order {
			out = append(out, cl.Destinations[name].Address)
		}
	}
	return out
}

func buildConfig(addresses []string) *Config {
	cluster := ClusterConfig{
		ClusterID:           shared.ProxyClusterID,
		LoadBalancingPolicy: shared.RoundRobinPolicy,
		Destinations:        make(map[string]DestinationConfig, len(addresses)),
		Order:               make([]string, 0, len(addresses)),
	}
	for i, addr := range addresses {
		name := fmt.Sprintf("destination%d", i)
		cluster.Destinations[name] = DestinationConfig{Address: addr}
		cluster.Order = append(cluster.Order, name)
	}
	route := RouteConfig{
		RouteID:    shared.ProxyRouteID,
		ClusterID:  shared.ProxyClusterID,
		PathPrefix: shared.ProxyPathPrefix,
	}
	return newConfig([]RouteConfig{route}, []ClusterConfig{cluster})
}
