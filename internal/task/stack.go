package task

import "sync"

// Stack tracks the contexts active in one worker. The top is the context
// commands currently run in.
type Stack struct {
	mu    sync.Mutex
	items []*Context
}

// NewStack creates an empty stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push makes ctx current.
func (s *Stack) Push(ctx *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, ctx)
}

// Pop removes and returns the current context, nil when empty.
func (s *Stack) Pop() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil
	}
	top := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return top
}

// Current returns the top context, nil when empty.
func (s *Stack) Current() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil
	}
	return s.items[len(s.items)-1]
}

// Depth returns the number of active contexts.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Within pushes ctx, runs fn, and pops ctx again even if fn panics.
func (s *Stack) Within(ctx *Context, fn func() error) error {
	s.Push(ctx)
	defer s.Pop()
	return fn()
}
