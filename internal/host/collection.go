package host

import (
	"fmt"
	"sync"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/util"
)

// Collection holds the hosts of a run in registration order.
type Collection struct {
	mu      sync.RWMutex
	order   []*Host
	byAlias map[string]*Host
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{byAlias: make(map[string]*Host)}
}

// Add registers h. Aliases must be unique.
func (c *Collection) Add(h *Host) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byAlias[h.Alias()]; ok {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host %q is defined twice", h.Alias()),
			"Host aliases must be unique; use hostname to point two aliases at one machine")
	}
	c.order = append(c.order, h)
	c.byAlias[h.Alias()] = h
	return nil
}

// Get returns the host with the given alias.
func (c *Collection) Get(alias string) (*Host, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.byAlias[alias]
	if !ok {
		suggestion := "Known hosts: " + util.JoinOrNone(c.aliasesLocked())
		if similar := util.SuggestSimilar(alias, c.aliasesLocked(), 3); len(similar) > 0 {
			suggestion = "Did you mean: " + util.JoinOrNone(similar)
		}
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Host %q doesn't exist", alias), suggestion)
	}
	return h, nil
}

// Has reports whether alias is registered.
func (c *Collection) Has(alias string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byAlias[alias]
	return ok
}

// All returns every host in registration order.
func (c *Collection) All() []*Host {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Host(nil), c.order...)
}

// Aliases returns every alias in registration order.
func (c *Collection) Aliases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aliasesLocked()
}

func (c *Collection) aliasesLocked() []string {
	out := make([]string, len(c.order))
	for i, h := range c.order {
		out[i] = h.Alias()
	}
	return out
}

// Len returns the number of hosts.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Select resolves the host set of a run. Unlike Selector.Filter it fails
// when nothing matches.
func (c *Collection) Select(expr string) ([]*Host, error) {
	if c.Len() == 0 {
		return nil, errors.New(errors.ErrConfig,
			"No hosts set up yet",
			"Add at least one host under 'hosts:' in the recipe")
	}

	hosts, err := Select(c.All(), expr)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("No host matches %q", expr),
			"Known hosts: "+util.JoinOrNone(c.Aliases()))
	}
	return hosts, nil
}
