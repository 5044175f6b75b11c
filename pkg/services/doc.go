// Package services maps systemd service units to their main process ids.
//
// The mapping is best effort. Hosts without a system bus (containers,
// minimal images) yield an error that callers log and ignore.
package services
