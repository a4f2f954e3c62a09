package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/util"
)

// exitMarkerCommand is appended to every remote command. The exit status of
// the ssh process is not reliable through intermediate shells, so the remote
// shell prints it instead.
const exitMarkerCommand = "; printf '[exit_code:%s]' $?;"

// UnknownExitCode is reported when the marker never arrived.
const UnknownExitCode = -1

var exitMarkerPattern = regexp.MustCompile(`\[exit_code:(-?\d+)\]`)

// WrapCommand prepares command for the remote shell: environment exports,
// working directory, and the trailing exit-code marker.
func WrapCommand(command string, opts Options) string {
	var b strings.Builder
	b.WriteString(util.EnvPrefix(opts.Env))
	if opts.Cwd != "" {
		b.WriteString("cd ")
		b.WriteString(util.ShellQuotePreserveTilde(opts.Cwd))
		b.WriteString(" && (")
		b.WriteString(command)
		b.WriteString(")")
	} else {
		b.WriteString(command)
	}
	b.WriteString(exitMarkerCommand)
	return b.String()
}

// ParseExitCode extracts the last exit-code marker from output and returns
// the output without it. Without a marker the code is UnknownExitCode.
func ParseExitCode(output string) (int, string) {
	locs := exitMarkerPattern.FindAllStringSubmatchIndex(output, -1)
	if len(locs) == 0 {
		return UnknownExitCode, output
	}
	last := locs[len(locs)-1]
	code, err := strconv.Atoi(output[last[2]:last[3]])
	if err != nil {
		return UnknownExitCode, output
	}
	return code, output[:last[0]] + output[last[1]:]
}

// newShellID returns a random token placed in the remote command line so a
// runaway command can be found and killed later.
func newShellID() string {
	var b [10]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return "id-" + hex.EncodeToString(b[:])
}

// remoteShell builds the command the remote sshd runs; the real command
// arrives on its stdin.
func remoteShell(shellID, shell, become string) string {
	if become != "" {
		shell = "sudo -H -u " + become + " " + shell
	}
	return ": " + shellID + "; " + shell
}

// killCommand terminates every process carrying shellID.
func killCommand(shellID string) string {
	return "pkill -9 -f " + util.ShellQuote(shellID) + " || true"
}

// lineWriter forwards complete lines to w, dropping exit-code markers.
// Partial lines are held until a newline or Flush.
type lineWriter struct {
	w       io.Writer
	pending []byte
}

func (l *lineWriter) write(p []byte) {
	if l.w == nil {
		return
	}
	l.pending = append(l.pending, p...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			return
		}
		l.emit(l.pending[:i+1])
		l.pending = l.pending[i+1:]
	}
}

func (l *lineWriter) flush() {
	if l.w == nil || len(l.pending) == 0 {
		return
	}
	l.emit(l.pending)
	l.pending = nil
}

func (l *lineWriter) emit(line []byte) {
	cleaned := exitMarkerPattern.ReplaceAll(line, nil)
	if len(bytes.TrimSpace(cleaned)) == 0 && len(bytes.TrimSpace(line)) != 0 {
		return
	}
	if len(cleaned) > 0 && cleaned[len(cleaned)-1] != '\n' {
		cleaned = append(cleaned, '\n')
	}
	_, _ = l.w.Write(cleaned)
}

// capture records a stream in full and mirrors it line by line to a live
// sink. Every write counts as activity for the idle timeout.
type capture struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	live     lineWriter
	activity func()
}

func newCapture(live io.Writer, activity func()) *capture {
	return &capture{live: lineWriter{w: live}, activity: activity}
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(p)
	c.live.write(p)
	if c.activity != nil {
		c.activity()
	}
	return len(p), nil
}

func (c *capture) finish() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live.flush()
	return c.buf.String()
}

// deadline enforces the total and idle timeouts of one command.
type deadline struct {
	ctx     context.Context
	cancel  context.CancelFunc
	total   time.Duration
	idle    time.Duration
	timer   *time.Timer
	idleHit atomic.Bool
}

func newDeadline(parent context.Context, total, idle time.Duration) *deadline {
	d := &deadline{total: total, idle: idle}
	if total > 0 {
		d.ctx, d.cancel = context.WithTimeout(parent, total)
	} else {
		d.ctx, d.cancel = context.WithCancel(parent)
	}
	if idle > 0 {
		d.timer = time.AfterFunc(idle, func() {
			d.idleHit.Store(true)
			d.cancel()
		})
	}
	return d
}

// touch restarts the idle timer.
func (d *deadline) touch() {
	if d.timer != nil && !d.idleHit.Load() {
		d.timer.Reset(d.idle)
	}
}

func (d *deadline) stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.cancel()
}

// expired reports which limit ended the command, if any.
func (d *deadline) expired(parent context.Context) (errors.TimeoutKind, time.Duration, bool) {
	if d.idleHit.Load() {
		return errors.TimeoutIdle, d.idle, true
	}
	if parent.Err() == nil && stderrors.Is(d.ctx.Err(), context.DeadlineExceeded) {
		return errors.TimeoutTotal, d.total, true
	}
	return "", 0, false
}

// result turns a finished command into the transport's return values.
func result(alias, command string, code int, stdout, stderr string, noThrow bool) (string, error) {
	out := strings.TrimSpace(stdout)
	if code == 0 || noThrow {
		return out, nil
	}
	return out, &errors.RunError{
		Host:     alias,
		Command:  command,
		ExitCode: code,
		Stdout:   out,
		Stderr:   strings.TrimSpace(stderr),
	}
}

func timeoutError(alias, command string, kind errors.TimeoutKind, limit time.Duration, stdout, stderr string) error {
	return &errors.TimeoutError{
		Host:    alias,
		Command: command,
		Kind:    kind,
		Limit:   limit,
		Stdout:  strings.TrimSpace(stdout),
		Stderr:  strings.TrimSpace(stderr),
	}
}

func describe(alias, command string) string {
	return fmt.Sprintf("[%s] %s", alias, command)
}
