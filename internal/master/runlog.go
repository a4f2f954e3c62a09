package master

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/errors"
)

// RunLog keeps a plain-text copy of a run's output and, on Close, writes
// a JSON summary next to it.
type RunLog struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	summary SummaryJSON
	closed  bool
}

// SummaryJSON is the structure written to <log>.json.
type SummaryJSON struct {
	Task      string       `json:"task"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Duration  string       `json:"duration"`
	ExitCode  int          `json:"exit_code"`
	Results   []ResultJSON `json:"results"`
}

// ResultJSON is one task on one host.
type ResultJSON struct {
	Task     string `json:"task"`
	Host     string `json:"host"`
	ExitCode int    `json:"exit_code"`
	Duration string `json:"duration"`
}

// OpenRunLog creates (or truncates) the log file at path.
func OpenRunLog(path, taskName string) (*RunLog, error) {
	path = config.ExpandTilde(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't create log directory "+filepath.Dir(path),
			"Check your permissions or pick another --log path")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't create run log "+path,
			"Check your permissions or pick another --log path")
	}
	return &RunLog{
		path:    path,
		file:    f,
		summary: SummaryJSON{Task: taskName, StartTime: time.Now()},
	}, nil
}

// Write appends p with terminal styling removed.
func (l *RunLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return len(p), nil
	}
	if _, err := l.file.WriteString(ansi.Strip(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Record adds a finished job to the summary.
func (l *RunLog) Record(taskName, alias string, code int, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary.Results = append(l.summary.Results, ResultJSON{
		Task:     taskName,
		Host:     alias,
		ExitCode: code,
		Duration: elapsed.Round(time.Millisecond).String(),
	})
}

// Path returns the log file path.
func (l *RunLog) Path() string { return l.path }

// SummaryPath returns where Close writes the summary.
func (l *RunLog) SummaryPath() string { return l.path + ".json" }

// Close writes the summary with the run's exit code and closes the log.
func (l *RunLog) Close(code int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	l.summary.EndTime = time.Now()
	l.summary.Duration = l.summary.EndTime.Sub(l.summary.StartTime).Round(time.Millisecond).String()
	l.summary.ExitCode = code

	data, err := json.MarshalIndent(l.summary, "", "  ")
	if err != nil {
		_ = l.file.Close()
		return errors.WrapWithCode(err, errors.ErrExec, "Can't encode run summary", "")
	}
	if err := os.WriteFile(l.SummaryPath(), data, 0644); err != nil {
		_ = l.file.Close()
		return errors.WrapWithCode(err, errors.ErrExec,
			"Can't write run summary "+l.SummaryPath(),
			"Check your permissions.")
	}
	return l.file.Close()
}
