// Package cli implements the shipit command-line interface.
//
// # Command Structure
//
//	shipit run <task> [selector]   - Run a task on the selected hosts
//	shipit plan <task> [selector]  - Print the task x host matrix
//	shipit list                    - List the recipe's tasks
//	shipit version                 - Print build information
//
// A hidden "worker" command is what the master spawns for each task and
// host. It reads a JSON spawn request from SHIPIT_WORKER_REQUEST, rebuilds
// the engine from the same recipe and talks back to the master over the
// loopback control plane.
//
// # Options
//
// Tool options come from the nearest .shipit.yaml (or --config), then
// SHIPIT_* environment variables, then flags, all through one viper
// instance. Deployment configuration comes from the recipe and from
// -o key=value overrides.
package cli
