// Package ui renders shipit's terminal output: host-tagged output lines,
// task banners, run summaries, the plan table and operator prompts.
//
// # Color Scheme
//
// Colors are defined as ANSI codes for broad terminal compatibility:
//
//	ColorSuccess   (green)  - Task finished on a host
//	ColorError     (red)    - Failures and diagnostics
//	ColorWarning   (yellow) - Soft stops and skipped tasks
//	ColorInfo      (cyan)   - Informational messages
//	ColorMuted     (gray)   - Secondary text, timing info
//	ColorSecondary (blue)   - Host tags
//
// Use SetColorMode(ColorNever) for monochrome output (--no-color).
//
// # Host Output
//
// Every line produced on behalf of a host is prefixed with its tag:
//
//	w := ui.NewHostWriter(out, "web-1")
//	fmt.Fprintln(w, "Cloning repository") // [web-1] Cloning repository
//
// HostWriter buffers partial lines so concurrent hosts never interleave
// within a line. Share one SyncWriter between all host writers.
//
// # Prompts
//
// FormPrompter asks through huh forms on a terminal. DefaultPrompter answers
// every question with its default and is used with --no-interaction.
package ui
