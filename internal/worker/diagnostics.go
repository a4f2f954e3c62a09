package worker

import (
	stderrors "errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/ui"
	"github.com/rileyhilliard/shipit/internal/util"
)

// TailLines is how much of a failed command's output is shown.
const TailLines = 20

// commandNotFoundPatterns detect "command not found" messages from various
// shells. They only apply to exit code 127.
var commandNotFoundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bash: (\S+): command not found`),
	regexp.MustCompile(`(?i)zsh: command not found: (\S+)`),
	regexp.MustCompile(`(?i)sh: \d+: (\S+): not found`),
	regexp.MustCompile(`(?i)-bash: (\S+): No such file or directory`),
	regexp.MustCompile(`(?i)(\S+): not found`),
	regexp.MustCompile(`(?i)(\S+): command not found`),
}

// CommandNotFound extracts the missing command from a failed command's
// stderr. The name is empty when the code is 127 but no pattern matched.
func CommandNotFound(stderr string, exitCode int) (string, bool) {
	if exitCode != 127 {
		return "", false
	}
	for _, pattern := range commandNotFoundPatterns {
		if m := pattern.FindStringSubmatch(stderr); len(m) > 1 {
			return m[1], true
		}
	}
	return "", true
}

func notFoundHint(command, stderr, alias string, exitCode int) string {
	name, ok := CommandNotFound(stderr, exitCode)
	if !ok {
		return ""
	}
	if name == "" {
		if fields := strings.Fields(command); len(fields) > 0 {
			name = fields[0]
		} else {
			name = "command"
		}
	}
	return fmt.Sprintf("'%s' wasn't found in PATH on %s. Install it, or check that the login shell's profile puts it on PATH:\n    ssh %s \"which %s\"",
		name, alias, alias, name)
}

// Diagnose renders why a task failed on a host.
func Diagnose(w io.Writer, alias, source string, err error) {
	var b strings.Builder

	var runErr *errors.RunError
	var timeoutErr *errors.TimeoutError
	switch {
	case stderrors.As(err, &runErr):
		if runErr.Source != "" {
			source = runErr.Source
		}
		b.WriteString(ui.Failure(alias, fmt.Sprintf("Command failed with exit code %d", runErr.ExitCode)) + "\n")
		writeField(&b, "task", source)
		writeField(&b, "command", runErr.Command)
		writeTail(&b, "stdout", runErr.Stdout)
		writeTail(&b, "stderr", runErr.Stderr)
		if hint := notFoundHint(runErr.Command, runErr.Stderr, alias, runErr.ExitCode); hint != "" {
			b.WriteString("\n  " + ui.WarningStyle().Render(hint) + "\n")
		}

	case stderrors.As(err, &timeoutErr):
		msg := fmt.Sprintf("Command timed out after %s", timeoutErr.Limit)
		if timeoutErr.Kind == errors.TimeoutIdle {
			msg = fmt.Sprintf("Command produced no output for %s", timeoutErr.Limit)
		}
		b.WriteString(ui.Failure(alias, msg) + "\n")
		writeField(&b, "task", source)
		writeField(&b, "command", timeoutErr.Command)
		writeTail(&b, "stdout", timeoutErr.Stdout)
		writeTail(&b, "stderr", timeoutErr.Stderr)

	default:
		msg := strings.TrimSpace(strings.TrimPrefix(err.Error(), "✗ "))
		first, rest, _ := strings.Cut(msg, "\n")
		b.WriteString(ui.Failure(alias, first) + "\n")
		writeField(&b, "task", source)
		if rest = strings.TrimSpace(rest); rest != "" {
			for _, line := range strings.Split(rest, "\n") {
				b.WriteString("  " + line + "\n")
			}
		}
	}

	_, _ = io.WriteString(w, b.String())
}

func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "  %s %s\n", ui.MutedStyle().Render(name+":"), value)
}

func writeTail(b *strings.Builder, name, output string) {
	lines := util.LastLines(output, TailLines)
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "  %s\n", ui.MutedStyle().Render(name+":"))
	for _, line := range lines {
		b.WriteString("    " + line + "\n")
	}
}
