package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	codes := []string{
		ErrConfig,
		ErrSSH,
		ErrExec,
		ErrTimeout,
		ErrControl,
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
		assert.False(t, seen[code], "error code %q should be unique", code)
		seen[code] = true
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		message    string
		suggestion string
	}{
		{
			name:       "config error",
			code:       ErrConfig,
			message:    "Config key \"release_path\" is not set",
			suggestion: "Set it in your recipe or pass -o release_path=...",
		},
		{
			name:       "ssh error",
			code:       ErrSSH,
			message:    "No usable SSH control path for deploy@web-1",
			suggestion: "Set ssh_control_path on the host",
		},
		{
			name:       "timeout error",
			code:       ErrTimeout,
			message:    "Command timed out after 5m",
			suggestion: "Raise the timeout on the run step",
		},
		{
			name:       "control error",
			code:       ErrControl,
			message:    "Control plane unreachable",
			suggestion: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, tt.suggestion)

			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.message, err.Message)
			assert.Equal(t, tt.suggestion, err.Suggestion)
			assert.Nil(t, err.Cause)
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name          string
		err           *Error
		expectedParts []string
		notExpected   []string
	}{
		{
			name:          "basic error formatting",
			err:           New(ErrConfig, "Invalid recipe", "Check shipit.yaml syntax"),
			expectedParts: []string{"Invalid recipe", "Check shipit.yaml syntax"},
		},
		{
			name:          "error with failure symbol",
			err:           New(ErrSSH, "Connection failed", "Try again"),
			expectedParts: []string{"✗", "Connection failed"},
		},
		{
			name:          "error without suggestion",
			err:           New(ErrExec, "Command failed", ""),
			expectedParts: []string{"Command failed"},
			notExpected:   []string{"\n\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := tt.err.Error()

			for _, part := range tt.expectedParts {
				assert.Contains(t, output, part)
			}
			for _, part := range tt.notExpected {
				assert.NotContains(t, output, part)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("broken pipe")
	wrapped := Wrap(cause, "Task failed")

	require.NotNil(t, wrapped)
	assert.Equal(t, ErrExec, wrapped.Code, "Wrap should default to ErrExec code")
	assert.Equal(t, "Task failed", wrapped.Message)
	assert.Equal(t, cause, wrapped.Cause)
	assert.True(t, errors.Is(wrapped, cause))
}

func TestWrapWithCode(t *testing.T) {
	cause := errors.New("file not found")
	wrapped := WrapWithCode(cause, ErrConfig, "Failed to load recipe", "Create shipit.yaml")

	require.NotNil(t, wrapped)
	assert.Equal(t, ErrConfig, wrapped.Code)
	assert.Equal(t, "Create shipit.yaml", wrapped.Suggestion)
	assert.Contains(t, wrapped.Error(), "file not found")
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestIsCode(t *testing.T) {
	err := New(ErrConfig, "Config error", "")

	assert.True(t, IsCode(err, ErrConfig))
	assert.False(t, IsCode(err, ErrSSH))
	assert.True(t, IsCode(fmt.Errorf("loading: %w", err), ErrConfig))
	assert.False(t, IsCode(errors.New("standard error"), ErrConfig))
	assert.False(t, IsCode(nil, ErrConfig))
}

func TestErrorMessageStructure(t *testing.T) {
	err := WrapWithCode(
		errors.New("connection timed out after 2s"),
		ErrSSH,
		"Cannot reach host web-1",
		"Check the hostname and port",
	)

	lines := strings.Split(err.Error(), "\n")

	assert.True(t, strings.HasPrefix(strings.TrimSpace(lines[0]), "✗"))
	assert.Contains(t, lines[0], "Cannot reach host web-1")
}

func TestExitError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		wantMsg string
	}{
		{name: "zero exit code", code: 0, wantMsg: "exit code 0"},
		{name: "soft stop", code: ExitSoftStop, wantMsg: "exit code 42"},
		{name: "generic failure", code: ExitGeneric, wantMsg: "exit code 255"},
		{name: "negative exit code", code: -1, wantMsg: "exit code -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewExitError(tt.code)

			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOk   bool
	}{
		{name: "ExitError returns code", err: NewExitError(7), wantCode: 7, wantOk: true},
		{name: "wrapped ExitError", err: fmt.Errorf("run: %w", NewExitError(99)), wantCode: 99, wantOk: true},
		{name: "standard error returns false", err: errors.New("standard error")},
		{name: "nil error returns false", err: nil},
		{name: "structured Error returns false", err: New(ErrExec, "test", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := GetExitCode(tt.err)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestRunError(t *testing.T) {
	err := &RunError{Host: "web-1", Command: "false", ExitCode: 1}

	assert.Equal(t, `command "false" on web-1 exited with code 1`, err.Error())

	located := err.WithSource("shipit.yaml:12")
	assert.Equal(t, "shipit.yaml:12", located.Source)
	assert.Empty(t, err.Source, "WithSource must not mutate the receiver")

	var target *RunError
	require.True(t, errors.As(fmt.Errorf("deploy: %w", err), &target))
	assert.Equal(t, 1, target.ExitCode)
}

func TestTimeoutError(t *testing.T) {
	total := &TimeoutError{Host: "db", Command: "sleep 10", Kind: TimeoutTotal, Limit: time.Second}
	idle := &TimeoutError{Host: "db", Command: "sleep 10", Kind: TimeoutIdle, Limit: 2 * time.Second}

	assert.Contains(t, total.Error(), "exceeded the timeout of 1s")
	assert.Contains(t, idle.Error(), "no output for 2s")
}

func TestSoftStop(t *testing.T) {
	assert.True(t, IsSoftStop(NewSoftStop("nothing to deploy")))
	assert.True(t, IsSoftStop(fmt.Errorf("task: %w", NewSoftStop(""))))
	assert.False(t, IsSoftStop(errors.New("boom")))
	assert.False(t, IsSoftStop(nil))

	assert.Equal(t, "stopped", NewSoftStop("").Error())
	assert.Equal(t, "nothing to deploy", NewSoftStop("nothing to deploy").Error())
}
