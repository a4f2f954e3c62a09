package ui

import (
	"bytes"
	"io"
	"sync"
)

// SyncWriter serializes writes from concurrent hosts onto one writer.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	if sw, ok := w.(*SyncWriter); ok {
		return sw
	}
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// HostTag renders "[alias]".
func HostTag(alias string) string {
	return HostStyle().Render("[" + alias + "]")
}

// HostWriter prefixes every line with the host tag. Each line reaches the
// underlying writer in a single Write.
type HostWriter struct {
	mu      sync.Mutex
	out     io.Writer
	prefix  []byte
	pending []byte
}

// NewHostWriter creates a writer tagging lines with alias.
func NewHostWriter(out io.Writer, alias string) *HostWriter {
	return NewPrefixWriter(out, HostTag(alias)+" ")
}

// NewPrefixWriter creates a line-buffered writer with an arbitrary prefix.
// An empty prefix only keeps lines whole.
func NewPrefixWriter(out io.Writer, prefix string) *HostWriter {
	return &HostWriter{out: out, prefix: []byte(prefix)}
}

func (h *HostWriter) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pending = append(h.pending, p...)
	for {
		i := bytes.IndexByte(h.pending, '\n')
		if i < 0 {
			break
		}
		if err := h.emit(h.pending[:i]); err != nil {
			return 0, err
		}
		h.pending = h.pending[i+1:]
	}
	return len(p), nil
}

// Flush writes a trailing partial line, if any.
func (h *HostWriter) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return nil
	}
	err := h.emit(h.pending)
	h.pending = nil
	return err
}

func (h *HostWriter) emit(line []byte) error {
	buf := make([]byte, 0, len(h.prefix)+len(line)+1)
	buf = append(buf, h.prefix...)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := h.out.Write(buf)
	return err
}
