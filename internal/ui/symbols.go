package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Task finished on a host
	SymbolFail     = "✗" // Task failed
	SymbolPending  = "○" // Task not yet started
	SymbolProgress = "◐" // Task in progress
	SymbolComplete = "●" // Task runs on a host (plan)
	SymbolSkipped  = "⊘" // Task skipped
	SymbolStop     = "■" // Run stopped early
)
