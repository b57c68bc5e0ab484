// Package command provides the tidekv-cli commands, built on urfave/cli/v2:
//
//   - root.go: App, global flags, configuration and logger setup
//   - kv.go: get, set, del, list, incr
//   - maintenance.go: load, compact, clear, stat
//   - watch.go: follow changes made by other processes
//   - import.go: copy a Badger database into a store
//   - config.go, version.go
//
// Each command opens the store, works on it and closes it before returning.
package command
