// Package recipe loads hosts, configuration and tasks from a YAML file
// into an engine. Mapping order in the file is registration order.
package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/mitchellh/mapstructure"
	"github.com/rileyhilliard/shipit/internal/engine"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/rileyhilliard/shipit/internal/util"
	"gopkg.in/yaml.v3"
)

// Top-level sections, in the order they are applied.
var sections = []string{"config", "hosts", "tasks", "before", "after", "fail"}

// taskDef is a task definition before it is compiled.
type taskDef struct {
	Desc     string           `mapstructure:"desc"`
	Select   string           `mapstructure:"select"`
	Once     bool             `mapstructure:"once"`
	Local    bool             `mapstructure:"local"`
	Limit    int              `mapstructure:"limit"`
	Shallow  bool             `mapstructure:"shallow"`
	Hidden   bool             `mapstructure:"hidden"`
	Disabled bool             `mapstructure:"disabled"`
	Group    []string         `mapstructure:"group"`
	Steps    []map[string]any `mapstructure:"steps"`
}

// Load reads the recipe at path into e.
func Load(path string, e *engine.Engine) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Recipe not found: "+path,
				"Create shipit.yaml or pass --recipe")
		}
		return errors.WrapWithCode(err, errors.ErrConfig, "Can't read recipe "+path, "Check file permissions")
	}
	return Parse(data, path, e)
}

// Parse registers everything in data with e. name is used in error
// messages and task source locations.
func Parse(data []byte, name string, e *engine.Engine) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid YAML in recipe "+name,
			"Check indentation and quoting")
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return invalid(name, root, "the recipe must be a mapping")
	}

	found := make(map[string]*yaml.Node)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if !slices.Contains(sections, key.Value) {
			msg := fmt.Sprintf("unknown section %q", key.Value)
			if similar := util.SuggestSimilar(key.Value, sections, 1); len(similar) > 0 {
				msg += fmt.Sprintf(", did you mean %q?", similar[0])
			}
			return invalid(name, key, msg)
		}
		found[key.Value] = root.Content[i+1]
	}

	l := &loader{name: name, e: e}
	steps := []func(*yaml.Node) error{l.config, l.hosts, l.tasks, l.before, l.after, l.fail}
	for i, section := range sections {
		if node, ok := found[section]; ok && !isNull(node) {
			if err := steps[i](node); err != nil {
				return err
			}
		}
	}
	return nil
}

type loader struct {
	name string
	e    *engine.Engine
}

func (l *loader) config(node *yaml.Node) error {
	return eachPair(l.name, node, func(key, value *yaml.Node) error {
		var v any
		if err := value.Decode(&v); err != nil {
			return invalid(l.name, value, err.Error())
		}
		l.e.Set(key.Value, v)
		return nil
	})
}

func (l *loader) hosts(node *yaml.Node) error {
	return eachPair(l.name, node, func(key, value *yaml.Node) error {
		h := l.e.Host(key.Value)
		if isNull(value) {
			return nil
		}
		var settings map[string]any
		if err := value.Decode(&settings); err != nil {
			return invalid(l.name, value, fmt.Sprintf("host %q must be a mapping", key.Value))
		}
		for k, v := range settings {
			h.Set(k, v)
		}
		return nil
	})
}

func (l *loader) tasks(node *yaml.Node) error {
	return eachPair(l.name, node, func(key, value *yaml.Node) error {
		return l.task(key, value)
	})
}

func (l *loader) task(key, value *yaml.Node) error {
	name := key.Value
	var raw map[string]any
	if !isNull(value) {
		if err := value.Decode(&raw); err != nil {
			return invalid(l.name, value, fmt.Sprintf("task %q must be a mapping", name))
		}
	}

	var d taskDef
	if err := decodeStrict(raw, &d); err != nil {
		return invalid(l.name, value, fmt.Sprintf("task %q: %v", name, err))
	}
	if len(d.Group) > 0 && len(d.Steps) > 0 {
		return invalid(l.name, value, fmt.Sprintf("task %q has both group and steps", name))
	}

	var t *task.Task
	if len(d.Group) > 0 {
		t = l.e.Group(name, d.Group...)
	} else {
		body, err := compile(d.Steps)
		if err != nil {
			return invalid(l.name, value, fmt.Sprintf("task %q: %v", name, err))
		}
		t = l.e.Task(name, body)
	}

	t.SetSource(fmt.Sprintf("%s:%d", filepath.Base(l.name), key.Line)).
		Desc(d.Desc).
		SetOnce(d.Once).
		SetLocal(d.Local).
		SetLimit(d.Limit).
		SetShallow(d.Shallow).
		SetHidden(d.Hidden).
		SetEnabled(!d.Disabled)
	if err := t.Select(d.Select); err != nil {
		return invalid(l.name, value, err.Error())
	}
	return nil
}

func (l *loader) before(node *yaml.Node) error {
	return l.hooks(node, l.e.Before)
}

func (l *loader) after(node *yaml.Node) error {
	return l.hooks(node, l.e.After)
}

func (l *loader) hooks(node *yaml.Node, register func(string, ...string) error) error {
	return eachPair(l.name, node, func(key, value *yaml.Node) error {
		names, err := stringList(value)
		if err != nil {
			return invalid(l.name, value, fmt.Sprintf("hooks of %q: %v", key.Value, err))
		}
		return register(key.Value, names...)
	})
}

func (l *loader) fail(node *yaml.Node) error {
	return eachPair(l.name, node, func(key, value *yaml.Node) error {
		if value.Kind != yaml.ScalarNode || value.Value == "" {
			return invalid(l.name, value, fmt.Sprintf("fallback of %q must be a task name", key.Value))
		}
		for _, name := range []string{key.Value, value.Value} {
			if _, err := l.e.Tasks().Get(name); err != nil {
				return err
			}
		}
		l.e.Fail(key.Value, value.Value)
		return nil
	})
}

// eachPair walks a mapping node in file order.
func eachPair(name string, node *yaml.Node, fn func(key, value *yaml.Node) error) error {
	if node.Kind != yaml.MappingNode {
		return invalid(name, node, "expected a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i], node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// stringList accepts a single name or a list of names.
func stringList(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a name or a list of names")
	}
}

func decodeStrict(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func invalid(name string, node *yaml.Node, msg string) error {
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("%s:%d: %s", name, node.Line, msg),
		"Check the recipe format in the shipit documentation")
}

func isNull(node *yaml.Node) bool {
	return node == nil || (node.Kind == yaml.ScalarNode && node.Tag == "!!null")
}
