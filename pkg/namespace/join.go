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

package namespace

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
	"github.com/NVIDIA/hostaudit/pkg/errors"
)

// Collector names the work the helper performs after entering the namespaces.
type Collector string

const (
	CollectInterfaces Collector = "interfaces"
	CollectUTS        Collector = "uts"
	CollectAccounts   Collector = "accounts"
	CollectProcesses  Collector = "processes"
)

// Helper invocation markers.
const (
	// ModeEnv selects the helper mode of the hostaudit binary.
	ModeEnv = "HOSTAUDIT_MODE"
	// ModeNamespaceHelper is the ModeEnv value of the namespace helper.
	ModeNamespaceHelper = "ns-helper"
	// firstNamespaceFD is where the first inherited namespace descriptor lands
	// in the helper (after stdin, stdout, stderr).
	firstNamespaceFD = 3
)

// joinOrder is the order namespaces are entered in. The user namespace comes
// first so later setns calls are checked against its credentials.
var joinOrder = []Kind{KindUser, KindMnt, KindNet, KindIPC, KindUTS, KindCgroup, KindTime}

// JoinRequest asks the helper to enter the namespaces of PID and run Collector.
type JoinRequest struct {
	PID       int       `json:"pid"`
	Kinds     []Kind    `json:"kinds"`
	Collector Collector `json:"collector"`
}

// Validate rejects requests the helper cannot serve.
func (r JoinRequest) Validate() error {
	if r.PID <= 0 {
		return errors.Newf(errors.ErrCodeInvalidRequest, "invalid pid %d", r.PID)
	}
	if len(r.Kinds) == 0 {
		return errors.New(errors.ErrCodeInvalidRequest, "no namespace kinds requested")
	}
	for _, k := range r.Kinds {
		if k == KindPID {
			return errors.NewWithContext(errors.ErrCodeNamespaceJoinFailed,
				"entering a pid namespace is unsupported", map[string]any{"pid": r.PID})
		}
		if !slices.Contains(joinOrder, k) {
			return errors.Newf(errors.ErrCodeInvalidRequest, "unknown namespace kind %q", k)
		}
	}
	switch r.Collector {
	case CollectInterfaces, CollectUTS, CollectAccounts, CollectProcesses:
	default:
		return errors.Newf(errors.ErrCodeInvalidRequest, "unknown collector %q", r.Collector)
	}
	return nil
}

// ordered returns the requested kinds in join order without duplicates.
func (r JoinRequest) ordered() []Kind {
	out := make([]Kind, 0, len(r.Kinds))
	for _, k := range joinOrder {
		if slices.Contains(r.Kinds, k) {
			out = append(out, k)
		}
	}
	return out
}

// Joiner runs a collector inside the namespaces of another process and
// decodes its result into out.
type Joiner interface {
	Join(ctx context.Context, req JoinRequest, out any) error
}

// HelperJoiner implements Joiner by re-executing a helper binary. The child
// receives the namespace descriptors as inherited files, the request on
// stdin, and writes a single JSON document to stdout.
type HelperJoiner struct {
	// Executable is the helper binary. Defaults to the running executable.
	Executable string
	// Args are extra arguments passed to the helper.
	Args []string
	// ProcRoot is where namespace links are opened. Defaults to /proc.
	ProcRoot string
	// Timeout bounds one round trip. Defaults to defaults.NamespaceHelperTimeout.
	Timeout time.Duration
}

// NewHelperJoiner returns a joiner that re-executes the current binary.
func NewHelperJoiner() (*HelperJoiner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve own executable: %w", err)
	}
	return &HelperJoiner{Executable: exe}, nil
}

// Join implements Joiner. A helper that exits non-zero or writes nothing
// yields an error with code NAMESPACE_JOIN_FAILED.
func (j *HelperJoiner) Join(ctx context.Context, req JoinRequest, out any) error {
	if err := req.Validate(); err != nil {
		return err
	}
	req.Kinds = req.ordered()

	files, err := j.prepare(req)
	if err != nil {
		return err
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	payload, err := j.spawn(ctx, req, files)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.WrapWithContext(errors.ErrCodeNamespaceJoinFailed,
			"malformed helper payload", err, req.logContext())
	}
	return nil
}

// prepare opens one descriptor per requested namespace in join order.
func (j *HelperJoiner) prepare(req JoinRequest) ([]*os.File, error) {
	root := j.ProcRoot
	if root == "" {
		root = "/proc"
	}
	files := make([]*os.File, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		f, err := os.Open(filepath.Join(root, strconv.Itoa(req.PID), "ns", string(k)))
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, errors.WrapWithContext(errors.ErrCodeNamespaceJoinFailed,
				"failed to open namespace", err, req.logContext())
		}
		files = append(files, f)
	}
	return files, nil
}

// spawn runs the helper and reaps it: stdout is read to EOF before waiting.
func (j *HelperJoiner) spawn(ctx context.Context, req JoinRequest, files []*os.File) ([]byte, error) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = defaults.NamespaceHelperTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode join request: %w", err)
	}

	cmd := exec.CommandContext(ctx, j.Executable, j.Args...)
	cmd.Env = append(os.Environ(), ModeEnv+"="+ModeNamespaceHelper)
	cmd.ExtraFiles = files
	cmd.Stdin = bytes.NewReader(reqBody)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, n: 4096}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create helper pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.WrapWithContext(errors.ErrCodeNamespaceJoinFailed,
			"failed to start namespace helper", err, req.logContext())
	}

	payload, readErr := io.ReadAll(stdout)
	waitErr := cmd.Wait()

	logCtx := req.logContext()
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		logCtx["stderr"] = msg
	}
	switch {
	case waitErr != nil:
		var exitErr *exec.ExitError
		if stderrors.As(waitErr, &exitErr) {
			logCtx["exit_code"] = exitErr.ExitCode()
		}
		return nil, errors.WrapWithContext(errors.ErrCodeNamespaceJoinFailed,
			"namespace helper failed", waitErr, logCtx)
	case readErr != nil:
		return nil, errors.WrapWithContext(errors.ErrCodeNamespaceJoinFailed,
			"failed to read helper output", readErr, logCtx)
	case len(bytes.TrimSpace(payload)) == 0:
		return nil, errors.NewWithContext(errors.ErrCodeNamespaceJoinFailed,
			"namespace helper returned no data", logCtx)
	}

	slog.Debug("namespace helper finished",
		slog.Int("pid", req.PID),
		slog.String("collector", string(req.Collector)),
		slog.Int("bytes", len(payload)))
	return payload, nil
}

func (r JoinRequest) logContext() map[string]any {
	kinds := make([]string, len(r.Kinds))
	for i, k := range r.Kinds {
		kinds[i] = string(k)
	}
	return map[string]any{
		"pid":       r.PID,
		"kinds":     strings.Join(kinds, ","),
		"collector": string(r.Collector),
	}
}

// limitedWriter keeps the first n bytes written and drops the rest.
type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	keep := p
	if len(keep) > l.n {
		keep = keep[:l.n]
	}
	n, err := l.w.Write(keep)
	l.n -= n
	if err != nil {
		return n, err
	}
	return len(p), nil
}
