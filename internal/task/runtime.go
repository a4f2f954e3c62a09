package task

import (
	"io"

	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/logger"
	"github.com/rileyhilliard/shipit/internal/transport"
)

// Runtime is what a task body reaches through its Context. It replaces any
// process-wide engine instance.
type Runtime interface {
	Transport() transport.Transport
	Tasks() *Collection
	Hosts() *host.Collection
	Prompter() Prompter
	Logger() logger.Logger
	// Output returns the writer for lines produced on behalf of h.
	Output(h *host.Host) io.Writer
}

// Prompter asks the operator questions. In worker subprocesses the calls
// are forwarded to the master.
type Prompter interface {
	Ask(question, def string, suggestions []string) (string, error)
	AskConfirmation(question string, def bool) (bool, error)
	AskHiddenResponse(question string) (string, error)
	AskChoice(question string, choices []string, def string, multiple bool) ([]string, error)
}
