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
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/hostaudit/pkg/errors"
)

func TestJoinRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  JoinRequest
		code errors.ErrorCode
	}{
		{"valid", JoinRequest{PID: 1, Kinds: []Kind{KindNet}, Collector: CollectInterfaces}, ""},
		{"pid namespace", JoinRequest{PID: 1, Kinds: []Kind{KindMnt, KindPID}, Collector: CollectProcesses}, errors.ErrCodeNamespaceJoinFailed},
		{"no kinds", JoinRequest{PID: 1, Collector: CollectUTS}, errors.ErrCodeInvalidRequest},
		{"bad pid", JoinRequest{PID: 0, Kinds: []Kind{KindUTS}, Collector: CollectUTS}, errors.ErrCodeInvalidRequest},
		{"unknown kind", JoinRequest{PID: 1, Kinds: []Kind{"bogus"}, Collector: CollectUTS}, errors.ErrCodeInvalidRequest},
		{"unknown collector", JoinRequest{PID: 1, Kinds: []Kind{KindUTS}, Collector: "x"}, errors.ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestJoinRequestOrdered(t *testing.T) {
	req := JoinRequest{Kinds: []Kind{KindUTS, KindNet, KindMnt, KindNet}}
	assert.Equal(t, []Kind{KindMnt, KindNet, KindUTS}, req.ordered())
}

func TestHelperJoinerRejectsPIDNamespace(t *testing.T) {
	j := &HelperJoiner{Executable: "/bin/true"}
	var out map[string]any
	err := j.Join(context.Background(), JoinRequest{PID: os.Getpid(), Kinds: []Kind{KindPID}, Collector: CollectProcesses}, &out)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNamespaceJoinFailed))
	assert.Contains(t, err.Error(), "pid namespace")
}

func shHelper(script string) *HelperJoiner {
	return &HelperJoiner{Executable: "/bin/sh", Args: []string{"-c", script}}
}

func TestHelperJoinerFailures(t *testing.T) {
	req := JoinRequest{PID: os.Getpid(), Kinds: []Kind{KindUTS}, Collector: CollectUTS}
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"non-zero exit", `cat >/dev/null; echo '{"hostname":"x"}'; echo boom >&2; exit 3`, "namespace helper failed"},
		{"empty payload", `cat >/dev/null; exit 0`, "returned no data"},
		{"malformed payload", `cat >/dev/null; echo 'not json'`, "malformed helper payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out UTSInfo
			err := shHelper(tt.script).Join(context.Background(), req, &out)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeNamespaceJoinFailed))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHelperJoinerExitCodeInContext(t *testing.T) {
	req := JoinRequest{PID: os.Getpid(), Kinds: []Kind{KindUTS}, Collector: CollectUTS}
	var out UTSInfo
	err := shHelper(`cat >/dev/null; echo nope >&2; exit 2`).Join(context.Background(), req, &out)
	require.Error(t, err)

	var se *errors.StructuredError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Context["exit_code"])
	assert.Equal(t, "nope", se.Context["stderr"])
	assert.Equal(t, "uts", se.Context["kinds"])
}

func TestHelperJoinerSuccess(t *testing.T) {
	// the helper sees the request on stdin and the descriptor at fd 3
	script := `req=$(cat); [ -e /proc/self/fd/3 ] || exit 9; case "$req" in *'"collector":"uts"'*) ;; *) exit 8;; esac; echo '{"hostname":"web-1","domainname":"(none)"}'`
	req := JoinRequest{PID: os.Getpid(), Kinds: []Kind{KindUTS}, Collector: CollectUTS}

	var out UTSInfo
	require.NoError(t, shHelper(script).Join(context.Background(), req, &out))
	assert.Equal(t, UTSInfo{Hostname: "web-1", DomainName: "(none)"}, out)
}

func TestHelperJoinerMissingProcess(t *testing.T) {
	j := &HelperJoiner{Executable: "/bin/true", ProcRoot: t.TempDir()}
	var out UTSInfo
	err := j.Join(context.Background(), JoinRequest{PID: 4242, Kinds: []Kind{KindUTS}, Collector: CollectUTS}, &out)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNamespaceJoinFailed))
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &limitedWriter{w: &buf, n: 5}
	n, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	_, _ = w.Write([]byte("more"))
	assert.Equal(t, "hello", buf.String())
	assert.False(t, strings.Contains(buf.String(), "more"))
}
