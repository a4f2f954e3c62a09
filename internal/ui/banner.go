package ui

import (
	"fmt"
	"time"
)

// TaskBanner announces a task before it runs.
func TaskBanner(name string) string {
	return BoldStyle().Render("task") + " " + name
}

// DoneOn marks a task finished on a host.
func DoneOn(alias string) string {
	return SuccessStyle().Render(SymbolSuccess) + " done on " + HostTag(alias)
}

// Skipped explains why a task was left out.
func Skipped(task, reason string) string {
	return MutedStyle().Render(fmt.Sprintf("%s %s %s", SymbolSkipped, task, reason))
}

// Stopped reports a soft stop. It is not styled as an error.
func Stopped(alias, reason string) string {
	if reason == "" {
		reason = "stopped"
	}
	return WarningStyle().Render(SymbolStop+" "+reason) + " on " + HostTag(alias)
}

// Failure is the first line of a host's diagnostics.
func Failure(alias, message string) string {
	return HostTag(alias) + " " + ErrorStyle().Render(SymbolFail+" "+message)
}

// Summary closes a run.
func Summary(code int, elapsed time.Duration) string {
	took := MutedStyle().Render("(" + elapsed.Round(time.Millisecond).String() + ")")
	switch code {
	case 0:
		return SuccessStyle().Render(SymbolSuccess+" Successfully finished") + " " + took
	case 42:
		return WarningStyle().Render(SymbolStop+" Stopped early") + " " + took
	default:
		return ErrorStyle().Render(fmt.Sprintf("%s Failed with exit code %d", SymbolFail, code)) + " " + took
	}
}
