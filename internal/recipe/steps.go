package recipe

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/rileyhilliard/shipit/internal/transport"
	"github.com/spf13/cast"
)

// actions are the step keys that do something. Every step has exactly one.
var actions = []string{"run", "run_locally", "cd", "set", "ask", "confirm", "stop", "invoke", "info", "warning"}

type stepDef struct {
	Run        string         `mapstructure:"run"`
	RunLocally string         `mapstructure:"run_locally"`
	Cd         string         `mapstructure:"cd"`
	Set        map[string]any `mapstructure:"set"`
	Ask        any            `mapstructure:"ask"`
	Confirm    any            `mapstructure:"confirm"`
	Stop       string         `mapstructure:"stop"`
	Invoke     string         `mapstructure:"invoke"`
	Info       string         `mapstructure:"info"`
	Warning    string         `mapstructure:"warning"`

	// Modifiers for run and run_locally.
	Register    string `mapstructure:"register"`
	Timeout     any    `mapstructure:"timeout"`
	IdleTimeout any    `mapstructure:"idle_timeout"`
	NoThrow     bool   `mapstructure:"no_throw"`
	Become      string `mapstructure:"become"`
}

type askDef struct {
	Question string   `mapstructure:"question"`
	Default  string   `mapstructure:"default"`
	Register string   `mapstructure:"register"`
	Hidden   bool     `mapstructure:"hidden"`
	Choices  []string `mapstructure:"choices"`
	Multiple bool     `mapstructure:"multiple"`
}

type confirmDef struct {
	Question string `mapstructure:"question"`
	Default  bool   `mapstructure:"default"`
}

type step func(c *task.Context) error

// compile turns a list of step mappings into a task body.
func compile(raw []map[string]any) (task.Func, error) {
	steps := make([]step, 0, len(raw))
	for i, r := range raw {
		s, err := compileStep(r)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, s)
	}
	return func(c *task.Context) error {
		for _, s := range steps {
			if err := s(c); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func compileStep(raw map[string]any) (step, error) {
	var present []string
	for _, a := range actions {
		if _, ok := raw[a]; ok {
			present = append(present, a)
		}
	}
	switch len(present) {
	case 0:
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("no action in step with keys %s (want one of %s)",
			strings.Join(keys, ", "), strings.Join(actions, ", "))
	case 1:
	default:
		return nil, fmt.Errorf("step has several actions: %s", strings.Join(present, ", "))
	}

	var d stepDef
	if err := decodeStrict(raw, &d); err != nil {
		return nil, err
	}
	action := present[0]
	if action != "run" && action != "run_locally" {
		if d.Register != "" || d.Timeout != nil || d.IdleTimeout != nil || d.NoThrow || d.Become != "" {
			return nil, fmt.Errorf("%s does not take run modifiers", action)
		}
	}

	switch action {
	case "run", "run_locally":
		return runStep(action == "run_locally", d)
	case "cd":
		path := d.Cd
		return func(c *task.Context) error { return c.Cd(path) }, nil
	case "set":
		values := d.Set
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return func(c *task.Context) error {
			for _, k := range keys {
				c.Set(k, values[k])
			}
			return nil
		}, nil
	case "ask":
		return askStep(d.Ask)
	case "confirm":
		return confirmStep(d.Confirm)
	case "stop":
		reason := d.Stop
		return func(c *task.Context) error {
			parsed, err := c.Parse(reason)
			if err != nil {
				return err
			}
			return c.Stop(parsed)
		}, nil
	case "invoke":
		name := d.Invoke
		if name == "" {
			return nil, fmt.Errorf("invoke needs a task name")
		}
		return func(c *task.Context) error { return c.Invoke(name) }, nil
	case "info":
		msg := d.Info
		return func(c *task.Context) error { return c.Info("%s", msg) }, nil
	default:
		msg := d.Warning
		return func(c *task.Context) error { return c.Warning("%s", msg) }, nil
	}
}

func runStep(local bool, d stepDef) (step, error) {
	command := d.Run
	if local {
		command = d.RunLocally
	}
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("empty command")
	}
	if local && d.Become != "" {
		return nil, fmt.Errorf("become only applies to remote commands")
	}
	timeout, err := seconds(d.Timeout)
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	idle, err := seconds(d.IdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("idle_timeout: %w", err)
	}
	opts := transport.Options{Timeout: timeout, IdleTimeout: idle, NoThrow: d.NoThrow, Become: d.Become}
	register := d.Register

	return func(c *task.Context) error {
		var out string
		var err error
		if local {
			out, err = c.RunLocallyWith(command, opts)
		} else {
			out, err = c.RunWith(command, opts)
		}
		if err != nil {
			return err
		}
		if register != "" {
			c.Set(register, strings.TrimSpace(out))
		}
		return nil
	}, nil
}

func askStep(raw any) (step, error) {
	var d askDef
	if q, ok := raw.(string); ok {
		d.Question = q
	} else if err := decodeStrict(raw, &d); err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}
	if d.Question == "" || d.Register == "" {
		return nil, fmt.Errorf("ask needs question and register")
	}
	return func(c *task.Context) error {
		var answer any
		switch {
		case d.Hidden:
			s, err := c.AskHiddenResponse(d.Question)
			if err != nil {
				return err
			}
			answer = s
		case len(d.Choices) > 0:
			picked, err := c.AskChoice(d.Question, d.Choices, d.Default, d.Multiple)
			if err != nil {
				return err
			}
			if d.Multiple {
				answer = picked
			} else if len(picked) > 0 {
				answer = picked[0]
			} else {
				answer = ""
			}
		default:
			s, err := c.Ask(d.Question, d.Default)
			if err != nil {
				return err
			}
			answer = s
		}
		c.Set(d.Register, answer)
		return nil
	}, nil
}

func confirmStep(raw any) (step, error) {
	var d confirmDef
	if q, ok := raw.(string); ok {
		d.Question = q
	} else if err := decodeStrict(raw, &d); err != nil {
		return nil, fmt.Errorf("confirm: %w", err)
	}
	if d.Question == "" {
		return nil, fmt.Errorf("confirm needs a question")
	}
	return func(c *task.Context) error {
		ok, err := c.AskConfirmation(d.Question, d.Default)
		if err != nil {
			return err
		}
		if !ok {
			return c.Stop("Not confirmed: " + d.Question)
		}
		return nil
	}, nil
}

// seconds reads a timeout. Bare numbers are seconds, strings may also be
// durations like "5m".
func seconds(v any) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}
	if s, ok := v.(string); ok {
		if _, err := cast.ToFloat64E(s); err != nil {
			return time.ParseDuration(s)
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}
