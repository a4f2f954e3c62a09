package task

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/util"
)

// Collection is the ordered task registry. Redefining a task replaces it
// in place.
type Collection struct {
	mu        sync.RWMutex
	order     []string
	tasks     map[string]*Task
	fallbacks map[string]string
}

// NewCollection creates an empty registry.
func NewCollection() *Collection {
	return &Collection{
		tasks:     make(map[string]*Task),
		fallbacks: make(map[string]string),
	}
}

// Add registers t.
func (c *Collection) Add(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tasks[t.Name()]; !ok {
		c.order = append(c.order, t.Name())
	}
	c.tasks[t.Name()] = t
}

// Has reports whether name is registered.
func (c *Collection) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tasks[name]
	return ok
}

// Get returns the task called name.
func (c *Collection) Get(name string) (*Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.tasks[name]; ok {
		return t, nil
	}
	return nil, c.notFound(name)
}

func (c *Collection) notFound(name string) error {
	suggestion := "Run 'shipit list' to see available tasks"
	if similar := util.SuggestSimilar(name, c.order, 3); len(similar) > 0 {
		suggestion = "Did you mean: " + strings.Join(similar, ", ") + "?"
	}
	return errors.New(errors.ErrConfig, fmt.Sprintf("Task %q not found", name), suggestion)
}

// All returns the tasks in registration order.
func (c *Collection) All() []*Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Task, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tasks[name])
	}
	return out
}

// Visible returns the non-hidden tasks sorted by name, for listings.
func (c *Collection) Visible() []*Task {
	var out []*Task
	for _, t := range c.All() {
		if !t.Hidden() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Before makes hooks run before the task called name.
func (c *Collection) Before(name string, hooks ...string) error {
	t, err := c.Get(name)
	if err != nil {
		return err
	}
	t.AddBefore(hooks...)
	return nil
}

// After makes hooks run after the task called name.
func (c *Collection) After(name string, hooks ...string) error {
	t, err := c.Get(name)
	if err != nil {
		return err
	}
	t.AddAfter(hooks...)
	return nil
}

// Fail registers fallback to run once when a run of root fails.
func (c *Collection) Fail(root, fallback string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks[root] = fallback
}

// Fallback returns the fallback registered for root.
func (c *Collection) Fallback(root string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.fallbacks[root]
	return f, ok
}
