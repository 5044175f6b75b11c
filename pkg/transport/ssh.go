// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
	"github.com/NVIDIA/hostaudit/pkg/topology"
)

// SSH probes remote hosts with the system ssh client. The collector binary
// is streamed over stdin into a temporary file on the remote, run, and
// removed; jump hosts are passed with -J.
type SSH struct {
	// Binary is the collector shipped to the remote. Defaults to the running
	// executable.
	Binary string
	// Client is the ssh executable. Defaults to "ssh".
	Client string
	// User is the login for hosts without "user@". Defaults to defaults.SSHUser.
	User string
	// Identity is an optional private key file.
	Identity string
	// PrivilegeWrapper prefixes the remote probe, for example "sudo". Empty
	// runs the probe as the login user.
	PrivilegeWrapper string
	Options          ProbeOptions
}

// Args returns the ssh command line for target, without the client name.
func (s *SSH) Args(target topology.Target) []string {
	args := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(int(defaults.SSHConnectTimeout.Seconds())),
	}
	if s.Identity != "" {
		args = append(args, "-i", s.Identity)
	}
	if len(target.Via) > 0 {
		jumps := make([]string, len(target.Via))
		for i, v := range target.Via {
			jumps[i] = s.login(v)
		}
		args = append(args, "-J", strings.Join(jumps, ","))
	}
	return append(args, s.login(target.Host), s.remoteScript())
}

func (s *SSH) login(host string) string {
	if strings.Contains(host, "@") {
		return host
	}
	user := s.User
	if user == "" {
		user = defaults.SSHUser
	}
	return user + "@" + host
}

// remoteScript stores stdin in a private temp file, runs it as a probe and
// removes it, preserving the probe's exit status.
func (s *SSH) remoteScript() string {
	quoted := make([]string, 0, len(s.Options.Args()))
	for _, a := range s.Options.Args() {
		quoted = append(quoted, shellQuote(a))
	}
	run := `"$t" ` + strings.Join(quoted, " ")
	if s.PrivilegeWrapper != "" {
		run = s.PrivilegeWrapper + " " + run
	}
	return `t=$(mktemp) || exit 1; trap 'rm -f "$t"' EXIT; cat > "$t" && chmod 700 "$t" && ` + run
}

// Probe implements Transport.
func (s *SSH) Probe(ctx context.Context, target topology.Target, consume func(io.Reader) error) error {
	exe, err := selfExecutable(s.Binary)
	if err != nil {
		return err
	}
	bin, err := os.Open(exe)
	if err != nil {
		return fmt.Errorf("failed to open collector binary: %w", err)
	}
	defer bin.Close()

	ctx, cancel := context.WithTimeout(ctx, defaults.RemoteProbeTimeout)
	defer cancel()

	client := s.Client
	if client == "" {
		client = "ssh"
	}
	cmd := exec.CommandContext(ctx, client, s.Args(target)...)
	cmd.Stdin = bin

	logCtx := map[string]any{"host": target.Host}
	if len(target.Via) > 0 {
		logCtx["via"] = strings.Join(target.Via, ",")
	}
	return run(cmd, logCtx, consume)
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_=./,:", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
