// Package testing provides a logger that records messages, for tests that
// assert on what a component logged.
package testing

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rileyhilliard/shipit/internal/logger"
)

var _ logger.Logger = (*BufferLogger)(nil)

// Message is one captured log line.
type Message struct {
	Level   string
	Message string
}

// BufferLogger captures log messages. Safe for use from several goroutines.
type BufferLogger struct {
	mu       sync.Mutex
	messages []Message
}

// NewBufferLogger creates an empty BufferLogger.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{}
}

func (l *BufferLogger) add(level, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, Message{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Debug(format string, args ...interface{}) { l.add("debug", format, args) }
func (l *BufferLogger) Info(format string, args ...interface{})  { l.add("info", format, args) }
func (l *BufferLogger) Warn(format string, args ...interface{})  { l.add("warn", format, args) }
func (l *BufferLogger) Error(format string, args ...interface{}) { l.add("error", format, args) }

// Messages returns a copy of the captured messages.
func (l *BufferLogger) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.messages...)
}

// Logged reports whether a message at level contains substr.
func (l *BufferLogger) Logged(level, substr string) bool {
	for _, m := range l.Messages() {
		if m.Level == level && strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (l *BufferLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
}
