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
	"io"
	"slices"

	"github.com/NVIDIA/hostaudit/pkg/topology"
)

// Router probes targets naming this machine, with no jump hosts, through
// Local and everything else through Remote.
type Router struct {
	Local  Transport
	Remote Transport
	// LocalNames are the host names treated as this machine.
	LocalNames []string
}

// NewRouter returns a Router that treats "localhost" and the given names as local.
func NewRouter(local, remote Transport, names ...string) *Router {
	return &Router{
		Local:      local,
		Remote:     remote,
		LocalNames: append([]string{"localhost"}, names...),
	}
}

// IsLocal reports whether target is collected without a transport hop.
func (r *Router) IsLocal(target topology.Target) bool {
	return len(target.Via) == 0 && slices.Contains(r.LocalNames, target.Host)
}

// Probe implements Transport.
func (r *Router) Probe(ctx context.Context, target topology.Target, consume func(io.Reader) error) error {
	if r.IsLocal(target) {
		return r.Local.Probe(ctx, target, consume)
	}
	return r.Remote.Probe(ctx, target, consume)
}
