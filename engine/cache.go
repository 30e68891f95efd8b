package engine

import (
	"sync"

	"github.com/google/cel-go/cel"
)

type rulePrograms struct {
	program cel.Program
	err     error
}

// compiledWorkflow holds the planned programs for every rule of one
// workflow, keyed by rule name. Rules that failed to compile carry the
// error so evaluation surfaces it per rule.
type compiledWorkflow struct {
	name     string
	programs map[string]rulePrograms
}

// programCache is a bounded concurrent map of compiled workflows keyed
// by content hash. When the cap is exceeded the oldest inserted keys
// are evicted; eviction is best-effort, not a strict LRU.
type programCache struct {
	mu    sync.Mutex
	cap   int
	items map[string]*compiledWorkflow
	order []string
}

func newProgramCache(cap int) *programCache {
	if cap < 1 {
		cap = 1
	}
	return &programCache{
		cap:   cap,
		items: make(map[string]*compiledWorkflow, cap),
	}
}

func (c *programCache) get(key string) *compiledWorkflow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[key]
}

func (c *programCache) put(key string, cw *compiledWorkflow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = cw
	for len(c.items) > c.cap && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
}

func (c *programCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
