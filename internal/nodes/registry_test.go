package nodes

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(r *Registry, id string, load int64, models ...string) {
	r.AddOrUpdate(id, NodeInfo{
		MachineName:   "machine-" + id,
		Models:        models,
		Load:          load,
		LastHeartbeat: time.Now(),
	})
}

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.GetAll())
	assert.Equal(t, 0, r.Count())

	_, found := r.TryGetNodeForModel("llama3")
	assert.False(t, found)
}

func TestAddOrUpdateReplacesRecord(t *testing.T) {
	r := NewRegistry()
	register(r, "conn-1", 5, "model1")
	register(r, "conn-1", 10, "model2", "model3")

	all := r.GetAll()
	require.Len(t, all, 1)
	node := all[0]
	assert.Equal(t, "machine-conn-1", node.MachineName)
	assert.Equal(t, int64(10), node.CurrentLoad)
	assert.Equal(t, []string{"model2", "model3"}, node.HostedModels)
	assert.False(t, node.Hosts("model1"))
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	register(r, "conn-1", 0, "model1")
	r.Remove("conn-1")
	assert.Equal(t, 0, r.Count())

	// absent id is a no-op
	r.Remove("conn-404")
	assert.Equal(t, 0, r.Count())
}

func TestCountMatchesDistinctIDs(t *testing.T) {
	r := NewRegistry()
	rng := rand.New(rand.NewSource(42))
	present := map[string]bool{}

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("conn-%d", rng.Intn(20))
		if rng.Intn(3) == 0 {
			r.Remove(id)
			delete(present, id)
		} else {
			register(r, id, int64(rng.Intn(5)), "m")
			present[id] = true
		}
		require.Equal(t, len(present), r.Count())
	}
}

func TestTryGetNodeForModelCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	register(r, "conn-1", 0, "Llama3")

	node, found := r.TryGetNodeForModel("LLAMA3")
	require.True(t, found)
	assert.Equal(t, "conn-1", node.ConnectionID)
}

func TestTryGetNodeForModelLowestLoad(t *testing.T) {
	r := NewRegistry()
	register(r, "conn-1", 10, "llama3")
	register(r, "conn-2", 3, "llama3")
	register(r, "conn-3", 0, "mistral")

	node, found := r.TryGetNodeForModel("llama3")
	require.True(t, found)
	assert.Equal(t, "conn-2", node.ConnectionID)
	assert.Equal(t, int64(3), node.CurrentLoad)
}

func TestTryGetNodeForModelMinimumProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		r := NewRegistry()
		for i := 0; i < 8; i++ {
			models := []string{"a"}
			if rng.Intn(2) == 0 {
				models = []string{"B"}
			}
			register(r, fmt.Sprintf("conn-%d", i), int64(rng.Intn(6)), models...)
		}

		node, found := r.TryGetNodeForModel("b")
		var minLoad int64 = -1
		for _, n := range r.GetAll() {
			if n.Hosts("b") && (minLoad < 0 || n.CurrentLoad < minLoad) {
				minLoad = n.CurrentLoad
			}
		}
		if minLoad < 0 {
			assert.False(t, found)
			continue
		}
		require.True(t, found)
		assert.Equal(t, minLoad, node.CurrentLoad)
	}
}

func TestTryGetNodeForModelTieBreakIsDeterministic(t *testing.T) {
	r := NewRegistry()
	register(r, "conn-b", 1, "llama3")
	register(r, "conn-a", 1, "llama3")

	for i := 0; i < 10; i++ {
		node, found := r.TryGetNodeForModel("llama3")
		require.True(t, found)
		assert.Equal(t, "conn-a", node.ConnectionID)
	}
}

func TestIncrementDecrement(t *testing.T) {
	r := NewRegistry()
	register(r, "conn-1", 5, "m")

	r.IncrementLoad("conn-1")
	node, _ := r.Get("conn-1")
	assert.Equal(t, int64(6), node.CurrentLoad)

	r.DecrementLoad("conn-1")
	r.DecrementLoad("conn-1")
	node, _ = r.Get("conn-1")
	assert.Equal(t, int64(4), node.CurrentLoad)

	// unknown ids are ignored
	r.IncrementLoad("conn-404")
	r.DecrementLoad("conn-404")
	assert.Equal(t, 1, r.Count())
}

func TestDecrementNeverBelowZero(t *testing.T) {
	r := NewRegistry()
	register(r, "conn-1", 0, "m")

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		if rng.Intn(3) == 0 {
			r.IncrementLoad("conn-1")
		} else {
			r.DecrementLoad("conn-1")
		}
		node, _ := r.Get("conn-1")
		require.GreaterOrEqual(t, node.CurrentLoad, int64(0))
	}
}

func TestConcurrentLoadUpdates(t *testing.T) {
	r := NewRegistry()
	register(r, "conn-1", 0, "m")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncrementLoad("conn-1")
		}()
	}
	wg.Wait()
	node, _ := r.Get("conn-1")
	assert.Equal(t, int64(100), node.CurrentLoad)

	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.DecrementLoad("conn-1")
		}()
	}
	wg.Wait()
	node, _ = r.Get("conn-1")
	assert.Equal(t, int64(0), node.CurrentLoad)
}

func TestModelsUnion(t *testing.T) {
	r := NewRegistry()
	register(r, "conn-1", 0, "llama3", "Mistral")
	register(r, "conn-2", 0, "LLAMA3", "phi3")

	assert.Equal(t, []string{"Mistral", "llama3", "phi3"}, r.Models())
	assert.Equal(t, int64(0), r.TotalLoad())
}

func TestRegisterKeepsLoadOfExistingNode(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-1", NodeInfo{MachineName: "a", Models: []string{"llama3"}, Load: 2})
	node, _ := r.Get("conn-1")
	assert.Equal(t, int64(2), node.CurrentLoad)

	r.IncrementLoad("conn-1")
	r.Register("conn-1", NodeInfo{MachineName: "b", Models: []string{"phi3"}, Load: 0})

	node, _ = r.Get("conn-1")
	assert.Equal(t, "b", node.MachineName)
	assert.Equal(t, []string{"phi3"}, node.HostedModels)
	assert.Equal(t, int64(3), node.CurrentLoad)
}

func TestRegisterDoesNotLoseConcurrentIncrements(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-1", NodeInfo{MachineName: "a", Models: []string{"m"}})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.IncrementLoad("conn-1")
		}()
		go func(i int) {
			defer wg.Done()
			r.Register("conn-1", NodeInfo{MachineName: fmt.Sprintf("a-%d", i), Models: []string{"m"}})
		}(i)
	}
	wg.Wait()

	node, _ := r.Get("conn-1")
	assert.Equal(t, int64(100), node.CurrentLoad)
}
