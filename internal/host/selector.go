package host

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rileyhilliard/shipit/internal/errors"
)

// clauseOp is the comparison a selector clause performs.
type clauseOp int

const (
	opAll clauseOp = iota
	opBare
	opEqual
	opNotEqual
)

// clause is one condition of a selector alternative.
type clause struct {
	op    clauseOp
	key   string
	value string
}

// Selector is a parsed host-selection expression.
//
// Alternatives are separated by commas and OR-ed together. Inside an
// alternative, clauses separated by "&" or whitespace must all match.
// A clause is "key=value", "key!=value", "all", or a bare token that
// matches the host alias or the name of a label the host carries.
type Selector struct {
	expr         string
	alternatives [][]clause
}

// ParseSelector parses expr. An empty expression matches every host.
func ParseSelector(expr string) (*Selector, error) {
	s := &Selector{expr: strings.TrimSpace(expr)}
	if s.expr == "" {
		return s, nil
	}

	for _, alt := range strings.Split(s.expr, ",") {
		fields := strings.FieldsFunc(alt, func(r rune) bool {
			return r == '&' || r == ' ' || r == '\t'
		})
		if len(fields) == 0 {
			return nil, invalidSelector(expr, "empty alternative")
		}

		clauses := make([]clause, 0, len(fields))
		for _, f := range fields {
			c, err := parseClause(f)
			if err != nil {
				return nil, invalidSelector(expr, err.Error())
			}
			clauses = append(clauses, c)
		}
		s.alternatives = append(s.alternatives, clauses)
	}
	return s, nil
}

func parseClause(token string) (clause, error) {
	if token == "all" {
		return clause{op: opAll}, nil
	}
	if k, v, ok := strings.Cut(token, "!="); ok {
		if k == "" || v == "" {
			return clause{}, fmt.Errorf("incomplete condition %q", token)
		}
		return clause{op: opNotEqual, key: k, value: v}, nil
	}
	if k, v, ok := strings.Cut(token, "="); ok {
		if k == "" || v == "" {
			return clause{}, fmt.Errorf("incomplete condition %q", token)
		}
		return clause{op: opEqual, key: k, value: v}, nil
	}
	return clause{op: opBare, value: token}, nil
}

func invalidSelector(expr, reason string) error {
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("Invalid host selector %q: %s", expr, reason),
		"Use comma-separated alternatives of key=value, key!=value, all or a host alias, e.g. 'role=web & stage=prod, db-1'")
}

// String returns the expression the selector was parsed from.
func (s *Selector) String() string {
	return s.expr
}

// MatchesAll reports whether the selector accepts every host.
func (s *Selector) MatchesAll() bool {
	return len(s.alternatives) == 0
}

// Match reports whether h satisfies the selector.
func (s *Selector) Match(h *Host) (bool, error) {
	if s.MatchesAll() {
		return true, nil
	}

	labels, err := h.Labels()
	if err != nil {
		return false, err
	}

	for _, alt := range s.alternatives {
		if matchAlternative(alt, h.Alias(), labels) {
			return true, nil
		}
	}
	return false, nil
}

func matchAlternative(clauses []clause, alias string, labels map[string][]string) bool {
	for _, c := range clauses {
		switch c.op {
		case opAll:
		case opBare:
			if _, ok := labels[c.value]; !ok && c.value != alias {
				return false
			}
		case opEqual:
			if !slices.Contains(labels[c.key], c.value) {
				return false
			}
		case opNotEqual:
			if slices.Contains(labels[c.key], c.value) {
				return false
			}
		}
	}
	return true
}

// Filter returns the hosts matching s, preserving order.
func (s *Selector) Filter(hosts []*Host) ([]*Host, error) {
	out := make([]*Host, 0, len(hosts))
	for _, h := range hosts {
		ok, err := s.Match(h)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// Select parses expr and filters hosts with it.
func Select(hosts []*Host, expr string) ([]*Host, error) {
	s, err := ParseSelector(expr)
	if err != nil {
		return nil, err
	}
	return s.Filter(hosts)
}
