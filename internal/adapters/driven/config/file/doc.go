// Package file provides the TOML file configuration source.
//
// ConfigSource reads and writes ~/.memweave/config.toml. Watcher follows
// the file with fsnotify and reports backend additions and removals so a
// running orchestrator can register and deregister backends without a
// restart.
package file
