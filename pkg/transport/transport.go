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
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/topology"
)

// Transport runs a probe for a target and hands its snapshot stream to
// consume. The stream is valid only during the call.
type Transport interface {
	Probe(ctx context.Context, target topology.Target, consume func(io.Reader) error) error
}

// ProbeOptions are forwarded to the probe command.
type ProbeOptions struct {
	CollectFiles bool
	Exclude      []string
	LogLevel     string
}

// Args returns the probe command line after the executable.
func (o ProbeOptions) Args() []string {
	args := []string{"probe", "--output", "-", "--collect-files=" + strconv.FormatBool(o.CollectFiles)}
	for _, e := range o.Exclude {
		args = append(args, "--exclude", e)
	}
	if o.LogLevel != "" {
		args = append(args, "--log-level", o.LogLevel)
	}
	return args
}

// stderrLimit bounds the stderr kept for error reports.
const stderrLimit = 8192

// tailBuffer keeps the last stderrLimit bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if over := t.buf.Len() - stderrLimit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(t.buf.String())
}

// run starts cmd, passes its stdout to consume and waits for it. A consume
// error wins over the exit status, since it usually explains the exit.
func run(cmd *exec.Cmd, logCtx map[string]any, consume func(io.Reader) error) error {
	stderr := &tailBuffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create probe pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return errors.WrapWithContext(errors.ErrCodeUnavailable, "failed to start probe", err, logCtx)
	}

	consumeErr := consume(stdout)
	// drain so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if msg := stderr.String(); msg != "" {
		logCtx["stderr"] = msg
	}
	if waitErr != nil {
		code := errors.ErrCodeInternal
		var exitErr *exec.ExitError
		if stderrors.As(waitErr, &exitErr) {
			logCtx["exit_code"] = exitErr.ExitCode()
			// ssh reports connection failures as 255
			if exitErr.ExitCode() == 255 {
				code = errors.ErrCodeUnavailable
			}
		}
		if consumeErr != nil {
			return errors.WrapWithContext(code, "probe failed", consumeErr, logCtx)
		}
		return errors.WrapWithContext(code, "probe failed", waitErr, logCtx)
	}
	if consumeErr != nil {
		return errors.WrapWithContext(errors.ErrCodeInternal, "failed to read probe output", consumeErr, logCtx)
	}
	slog.Debug("probe finished", slog.Any("target", logCtx["host"]))
	return nil
}

func selfExecutable(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate collector binary: %w", err)
	}
	return exe, nil
}
