package config

import (
	stderrors "errors"
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/spf13/cast"
)

// ErrKeyNotFound is wrapped by every lookup of a key that is set nowhere in the chain.
var ErrKeyNotFound = stderrors.New("configuration key not found")

// Deferred is a value computed on first read. scope is the configuration
// performing the lookup, so a deferred defined globally sees host values
// when read through a host.
type Deferred func(scope *Configuration) (any, error)

// templatePattern matches {{ name }} placeholders.
var templatePattern = regexp.MustCompile(`\{\{\s*([\w\.\/-]+)\s*\}\}`)

// entry is either a literal or a deferred value. A literal is final once
// resolved is set; until then string literals still need interpolation.
type entry struct {
	literal  any
	deferred Deferred
	resolved bool
}

func (e *entry) isDeferred() bool { return e.deferred != nil }

// evaluation tracks an in-flight resolution so concurrent readers of the
// same key wait for a single evaluation.
type evaluation struct {
	done  chan struct{}
	value any
	err   error
}

// Configuration is a hierarchical key/value store with lazily evaluated
// entries and {{key}} templating. Lookups that miss fall through to the
// parent; values found there are resolved in this scope and memoized here.
type Configuration struct {
	parent *Configuration

	mu       sync.Mutex
	entries  map[string]*entry
	inflight map[string]*evaluation
}

// New creates an empty configuration with an optional parent.
func New(parent *Configuration) *Configuration {
	return &Configuration{
		parent:   parent,
		entries:  make(map[string]*entry),
		inflight: make(map[string]*evaluation),
	}
}

// Parent returns the parent scope, or nil for the root.
func (c *Configuration) Parent() *Configuration {
	return c.parent
}

// Set stores value under key, replacing anything previously set or memoized.
// A Deferred (or a func with the same signature) is stored unevaluated.
func (c *Configuration) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = newEntry(value)
}

// SetDeferred is Set for a value computed on first read.
func (c *Configuration) SetDeferred(key string, fn Deferred) {
	c.Set(key, fn)
}

func newEntry(value any) *entry {
	switch v := value.(type) {
	case Deferred:
		return &entry{deferred: v}
	case func(*Configuration) (any, error):
		return &entry{deferred: v}
	default:
		return &entry{literal: value}
	}
}

// Add merges values into the list (or map) stored under key. When the key
// does not exist yet the values are stored as a new list.
func (c *Configuration) Add(key string, values ...any) error {
	if !c.Has(key) {
		merged, _ := mergeValues([]any{}, values)
		c.Set(key, merged)
		return nil
	}

	current, err := c.Get(key)
	if err != nil {
		return err
	}

	merged, err := mergeValues(current, values)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Cannot add to config key %q", key),
			"Only list and map values can be extended; use set to overwrite")
	}
	c.Set(key, merged)
	return nil
}

// AddMap merges m into the map stored under key.
func (c *Configuration) AddMap(key string, m map[string]any) error {
	return c.Add(key, m)
}

func mergeValues(current any, values []any) (any, error) {
	if list, ok := toList(current); ok {
		out := append([]any(nil), list...)
		for _, v := range values {
			if more, ok := toList(v); ok {
				out = append(out, more...)
				continue
			}
			out = append(out, v)
		}
		return out, nil
	}

	if m, ok := toMap(current); ok {
		out := maps.Clone(m)
		for _, v := range values {
			add, ok := toMap(v)
			if !ok {
				return nil, fmt.Errorf("cannot merge %T into a map", v)
			}
			out = mergeMaps(out, add)
		}
		return out, nil
	}

	return nil, fmt.Errorf("existing value is %T, not a list", current)
}

func mergeMaps(dst, src map[string]any) map[string]any {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		if em, ok := toMap(existing); ok {
			if vm, ok := toMap(v); ok {
				dst[k] = mergeMaps(maps.Clone(em), vm)
				continue
			}
		}
		if el, ok := toList(existing); ok {
			if vl, ok := toList(v); ok {
				dst[k] = append(append([]any(nil), el...), vl...)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

// Has reports whether key is set here or in any ancestor.
func (c *Configuration) Has(key string) bool {
	if c.HasOwn(key) {
		return true
	}
	return c.parent != nil && c.parent.Has(key)
}

// HasOwn reports whether key is set in this scope.
func (c *Configuration) HasOwn(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Delete removes the own entry for key, so lookups fall back to the parent.
func (c *Configuration) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Get resolves key. Deferred values are evaluated once and string values
// interpolated once; the result is memoized in this scope.
func (c *Configuration) Get(key string) (any, error) {
	v, found, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.WrapWithCode(
			fmt.Errorf("%w: %s", ErrKeyNotFound, key),
			errors.ErrConfig,
			fmt.Sprintf("Config key %q is not set", key),
			"Set it in the recipe config section or pass -o "+key+"=...")
	}
	return v, nil
}

// GetDefault resolves key, returning def when it is set nowhere.
func (c *Configuration) GetDefault(key string, def any) (any, error) {
	v, found, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return def, nil
	}
	return v, nil
}

// GetString resolves key as a string. Missing keys return def.
func (c *Configuration) GetString(key, def string) (string, error) {
	v, err := c.GetDefault(key, def)
	if err != nil {
		return "", err
	}
	return stringify(v)
}

// GetBool resolves key as a bool. Missing keys return def.
func (c *Configuration) GetBool(key string, def bool) (bool, error) {
	v, err := c.GetDefault(key, def)
	if err != nil {
		return false, err
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Config key %q is not a boolean", key), "")
	}
	return b, nil
}

// GetInt resolves key as an int. Missing keys return def.
func (c *Configuration) GetInt(key string, def int) (int, error) {
	v, err := c.GetDefault(key, def)
	if err != nil {
		return 0, err
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Config key %q is not an integer", key), "")
	}
	return n, nil
}

// GetStrings resolves key as a list of strings. A scalar becomes a
// one-element list. Missing keys return nil.
func (c *Configuration) GetStrings(key string) ([]string, error) {
	v, err := c.GetDefault(key, nil)
	if err != nil || v == nil {
		return nil, err
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	}
	out, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Config key %q is not a list", key), "")
	}
	return out, nil
}

// lookup implements the resolution rule. found is false when no scope in the
// chain has the key.
func (c *Configuration) lookup(key string) (any, bool, error) {
	c.mu.Lock()
	e, own := c.entries[key]
	if own && e.resolved {
		v := e.literal
		c.mu.Unlock()
		return v, true, nil
	}
	if ev, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-ev.done
		return ev.value, true, ev.err
	}
	c.mu.Unlock()

	if !own {
		raw, found := c.parentRaw(key)
		if !found {
			return nil, false, nil
		}
		e = raw
	}

	v, err := c.evaluate(key, e)
	return v, true, err
}

// parentRaw returns the nearest ancestor's entry for key as it currently
// stands, without resolving it.
func (c *Configuration) parentRaw(key string) (*entry, bool) {
	for p := c.parent; p != nil; p = p.parent {
		p.mu.Lock()
		e, ok := p.entries[key]
		p.mu.Unlock()
		if ok {
			return &entry{literal: e.literal, deferred: e.deferred, resolved: e.resolved}, true
		}
	}
	return nil, false
}

// evaluate resolves e in this scope and memoizes the result under key.
// Failed evaluations are not memoized.
func (c *Configuration) evaluate(key string, e *entry) (any, error) {
	c.mu.Lock()
	if ev, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-ev.done
		return ev.value, ev.err
	}
	ev := &evaluation{done: make(chan struct{})}
	c.inflight[key] = ev
	c.mu.Unlock()

	var value any
	var err error
	switch {
	case e.resolved:
		value = e.literal
	case e.isDeferred():
		value, err = e.deferred(c)
		if err == nil {
			value, err = c.interpolate(value)
		}
	default:
		value, err = c.interpolate(e.literal)
	}

	c.mu.Lock()
	if err == nil {
		// A Set that happened during evaluation wins over the memo.
		if cur, ok := c.entries[key]; !ok || cur == e {
			c.entries[key] = &entry{literal: value, resolved: true}
		}
	}
	delete(c.inflight, key)
	ev.value, ev.err = value, err
	close(ev.done)
	c.mu.Unlock()

	return value, err
}

// interpolate resolves templates in strings; other values pass through.
func (c *Configuration) interpolate(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return c.Parse(s)
}

// Parse replaces every {{name}} in s with the value of name in this scope.
func (c *Configuration) Parse(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var firstErr error
	out := templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := templatePattern.FindStringSubmatch(match)[1]
		v, err := c.Get(name)
		if err != nil {
			firstErr = err
			return match
		}
		str, err := stringify(v)
		if err != nil {
			firstErr = errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Config key %q cannot be used in a template", name), "")
			return match
		}
		return str
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// stringify renders a resolved value for templates. Lists are joined with ",".
func stringify(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	if list, ok := toList(v); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			s, err := cast.ToStringE(item)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	}
	return cast.ToStringE(v)
}

// Persist returns a snapshot of the own entries that are not deferred.
// Used to ship a host's state across a process boundary.
func (c *Configuration) Persist() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.entries))
	for k, e := range c.entries {
		if e.isDeferred() {
			continue
		}
		out[k] = e.literal
	}
	return out
}

// Update merges values into this scope. Snapshot values overwrite own
// entries; they are stored as literals and interpolated on first read.
func (c *Configuration) Update(values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.entries[k] = newEntry(v)
	}
}

// Keys returns own keys in sorted order.
func (c *Configuration) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
