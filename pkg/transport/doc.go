// Package transport runs the probe on a target host and returns its framed
// snapshot stream.
//
// SSH reaches remote hosts through the system ssh client, honoring jump
// hosts, and needs nothing installed remotely: the collector binary is sent
// over stdin. Local covers the collecting host itself.
package transport
