package classifier

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/tools"
)

// Source names the rule that decided a classification.
type Source string

const (
	SourcePolicy     Source = "policy"
	SourceCapability Source = "capability"
	SourceName       Source = "name"
	SourceFallback   Source = "fallback"
)

// Decision is a category together with the rule that produced it.
type Decision struct {
	Category tools.Category
	Source   Source
}

// Classifier resolves tool categories. It is safe for concurrent use; the
// policy table may be swapped at any time.
type Classifier struct {
	policy atomic.Pointer[Policy]
	logger *slog.Logger

	mu        sync.Mutex
	listeners []func()

	wg sync.WaitGroup
}

// New creates a Classifier with an optional policy table.
func New(policy *Policy, logger *slog.Logger) *Classifier {
	c := &Classifier{logger: logging.WithComponent(logger, "classifier")}
	if policy != nil {
		c.policy.Store(policy)
	}
	return c
}

// SetPolicy replaces the policy table and notifies OnChange listeners.
func (c *Classifier) SetPolicy(p *Policy) {
	c.policy.Store(p)

	c.mu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// OnChange registers fn to run after every policy swap.
func (c *Classifier) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Override returns the policy category for name, if the active policy has
// one.
func (c *Classifier) Override(name string) (tools.Category, bool) {
	return c.policy.Load().Lookup(name)
}

// Policy returns the active policy table, which may be nil.
func (c *Classifier) Policy() *Policy {
	return c.policy.Load()
}

// Classify returns the category for a tool known only by name.
func (c *Classifier) Classify(name string) tools.Category {
	return c.Explain(name, tools.Capability{}).Category
}

// ClassifyTool returns the category for a tool with a declared capability.
func (c *Classifier) ClassifyTool(name string, capability tools.Capability) tools.Category {
	return c.Explain(name, capability).Category
}

// Explain returns the category for a tool and the rule that decided it.
func (c *Classifier) Explain(name string, capability tools.Capability) Decision {
	if category, ok := c.policy.Load().Lookup(name); ok {
		return Decision{Category: category, Source: SourcePolicy}
	}

	byName, nameMatched := ClassifyName(name)
	byCapability, declared := ClassifyCapability(capability)

	switch {
	case nameMatched && declared:
		if byCapability.Strictness() > byName.Strictness() {
			return Decision{Category: byCapability, Source: SourceCapability}
		}
		return Decision{Category: byName, Source: SourceName}
	case nameMatched:
		return Decision{Category: byName, Source: SourceName}
	case declared:
		return Decision{Category: byCapability, Source: SourceCapability}
	}
	return Decision{Category: tools.SequentialOnly, Source: SourceFallback}
}

// Wait blocks until every policy watcher started by WatchPolicy has exited.
func (c *Classifier) Wait() {
	c.wg.Wait()
}
