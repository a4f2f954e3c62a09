package ui

import (
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/shipit/internal/errors"
)

// FormPrompter asks questions with huh forms. Concurrent callers are
// served one at a time.
type FormPrompter struct {
	mu sync.Mutex
}

// NewFormPrompter creates a terminal prompter.
func NewFormPrompter() *FormPrompter {
	return &FormPrompter{}
}

func (p *FormPrompter) run(field huh.Field) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		if err == huh.ErrUserAborted {
			return errors.NewSoftStop("cancelled at prompt")
		}
		return errors.WrapWithCode(err, errors.ErrControl, "Prompt failed", "Use --no-interaction to accept defaults")
	}
	return nil
}

// Ask prompts for free text, returning def on empty input.
func (p *FormPrompter) Ask(question, def string, suggestions []string) (string, error) {
	answer := ""
	input := huh.NewInput().Title(question).Placeholder(def).Value(&answer)
	if len(suggestions) > 0 {
		input = input.Suggestions(suggestions)
	}
	if err := p.run(input); err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// AskConfirmation prompts for yes or no.
func (p *FormPrompter) AskConfirmation(question string, def bool) (bool, error) {
	answer := def
	if err := p.run(huh.NewConfirm().Title(question).Value(&answer)); err != nil {
		return false, err
	}
	return answer, nil
}

// AskHiddenResponse prompts without echoing input.
func (p *FormPrompter) AskHiddenResponse(question string) (string, error) {
	answer := ""
	if err := p.run(huh.NewInput().Title(question).EchoMode(huh.EchoModePassword).Value(&answer)); err != nil {
		return "", err
	}
	return answer, nil
}

// AskChoice prompts for one, or with multiple several, of choices.
func (p *FormPrompter) AskChoice(question string, choices []string, def string, multiple bool) ([]string, error) {
	if multiple {
		var picked []string
		if def != "" {
			picked = []string{def}
		}
		field := huh.NewMultiSelect[string]().Title(question).Options(huh.NewOptions(choices...)...).Value(&picked)
		if err := p.run(field); err != nil {
			return nil, err
		}
		return picked, nil
	}

	picked := def
	field := huh.NewSelect[string]().Title(question).Options(huh.NewOptions(choices...)...).Value(&picked)
	if err := p.run(field); err != nil {
		return nil, err
	}
	return []string{picked}, nil
}

// DefaultPrompter answers every question with its default.
type DefaultPrompter struct{}

func (DefaultPrompter) Ask(_, def string, _ []string) (string, error)    { return def, nil }
func (DefaultPrompter) AskConfirmation(_ string, def bool) (bool, error) { return def, nil }
func (DefaultPrompter) AskHiddenResponse(string) (string, error)         { return "", nil }

func (DefaultPrompter) AskChoice(_ string, choices []string, def string, _ bool) ([]string, error) {
	if def == "" && len(choices) > 0 {
		def = choices[0]
	}
	if def == "" {
		return nil, nil
	}
	return []string{def}, nil
}
