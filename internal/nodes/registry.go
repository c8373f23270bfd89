// Package nodes tracks the worker nodes connected to this hub and picks the
// least loaded node for a model.
package nodes

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// NodeInfo is the registration payload for AddOrUpdate.
type NodeInfo struct {
	MachineName   string
	Models        []string
	Load          int64
	LastHeartbeat time.Time
}

// NodeMetadata is the registry's own record for one connection.
// Everything but load is guarded by the registry mutex.
type NodeMetadata struct {
	ConnectionID  string
	MachineName   string
	LastHeartbeat time.Time

	// lowercased name -> name as registered
	models map[string]string
	load   atomic.Int64
}

func (n *NodeMetadata) hosts(model string) bool {
	_, ok := n.models[strings.ToLower(model)]
	return ok
}

func (n *NodeMetadata) setModels(models []string) {
	n.models = make(map[string]string, len(models))
	for _, m := range models {
		key := strings.ToLower(m)
		if _, ok := n.models[key]; !ok {
			n.models[key] = m
		}
	}
}

func (n *NodeMetadata) snapshot() NodeSnapshot {
	models := make([]string, 0, len(n.models))
	for _, m := range n.models {
		models = append(models, m)
	}
	sort.Strings(models)
	return NodeSnapshot{
		ConnectionID:  n.ConnectionID,
		MachineName:   n.MachineName,
		HostedModels:  models,
		CurrentLoad:   n.load.Load(),
		LastHeartbeat: n.LastHeartbeat,
	}
}

// NodeSnapshot is a point-in-time copy of a node record.
type NodeSnapshot struct {
	ConnectionID  string
	MachineName   string
	HostedModels  []string
	CurrentLoad   int64
	LastHeartbeat time.Time
}

// Hosts reports whether the snapshot lists model, ignoring case.
func (s NodeSnapshot) Hosts(model string) bool {
	for _, m := range s.HostedModels {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

// Registry is the fleet membership table keyed by connection id.
// Thread-safe: all methods may be called concurrently.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*NodeMetadata
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*NodeMetadata)}
}

// AddOrUpdate inserts the node or fully replaces the existing record's
// machine name, heartbeat, load and model set.
func (r *Registry) AddOrUpdate(id string, info NodeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		node = &NodeMetadata{ConnectionID: id}
		r.nodes[id] = node
	}
	node.MachineName = info.MachineName
	node.LastHeartbeat = info.LastHeartbeat
	node.load.Store(max(info.Load, 0))
	node.setModels(info.Models)
}

// Register upserts a node from a registration. Unlike AddOrUpdate an existing
// record keeps its load counter, so concurrent increments are never lost.
func (r *Registry) Register(id string, info NodeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		node = &NodeMetadata{ConnectionID: id}
		node.load.Store(max(info.Load, 0))
		r.nodes[id] = node
	}
	node.MachineName = info.MachineName
	node.LastHeartbeat = info.LastHeartbeat
	node.setModels(info.Models)
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.nodes, id)
	r.mu.Unlock()
}

// TryGetNodeForModel returns the node hosting model with the lowest load.
// Ties go to the lowest connection id. The scan is not linearized with the
// caller's later IncrementLoad; load is advisory.
func (r *Registry) TryGetNodeForModel(model string) (NodeSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *NodeMetadata
	var bestLoad int64
	for _, node := range r.nodes {
		if !node.hosts(model) {
			continue
		}
		load := node.load.Load()
		if best == nil || load < bestLoad || (load == bestLoad && node.ConnectionID < best.ConnectionID) {
			best = node
			bestLoad = load
		}
	}
	if best == nil {
		return NodeSnapshot{}, false
	}
	return best.snapshot(), true
}

func (r *Registry) IncrementLoad(id string) {
	r.mu.RLock()
	node, ok := r.nodes[id]
	r.mu.RUnlock()
	if ok {
		node.load.Add(1)
	}
}

// DecrementLoad lowers the counter by one but never below zero.
func (r *Registry) DecrementLoad(id string) {
	r.mu.RLock()
	node, ok := r.nodes[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	for {
		cur := node.load.Load()
		if cur <= 0 {
			return
		}
		if node.load.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Get returns a snapshot of one node.
func (r *Registry) Get(id string) (NodeSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[id]
	if !ok {
		return NodeSnapshot{}, false
	}
	return node.snapshot(), true
}

// GetAll returns snapshots of every node ordered by connection id.
func (r *Registry) GetAll() []NodeSnapshot {
	r.mu.RLock()
	out := make([]NodeSnapshot, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, node.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// TotalLoad sums the in-flight counters of every node.
func (r *Registry) TotalLoad() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, node := range r.nodes {
		total += node.load.Load()
	}
	return total
}

// Models returns the union of hosted models across all nodes, deduplicated
// case-insensitively and sorted. The first spelling seen in connection id
// order wins.
func (r *Registry) Models() []string {
	seen := map[string]bool{}
	var out []string
	for _, node := range r.GetAll() {
		for _, m := range node.HostedModels {
			key := strings.ToLower(m)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
