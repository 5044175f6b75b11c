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

package discovery

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/topology"
)

const (
	// NodeRoleLabelPrefix prefixes the well-known node role labels.
	NodeRoleLabelPrefix = "node-role.kubernetes.io/"
	// NodeRoleLabel is the fallback role label some clusters carry.
	NodeRoleLabel = "nodeRole"
	// NodeRoleUndefined is reported for nodes without a role label.
	NodeRoleUndefined = "undefined"
	// RoleControlPlane is the role preferred as the entry host.
	RoleControlPlane = "control-plane"
)

const (
	nodeListPageSizeDefault int64 = 500
	nodeListAbsoluteMax     int64 = 10000 // hard cap on nodes held in memory
)

// Discoverer turns cluster nodes into a collection topology. Every node
// other than the entry becomes a child of the entry host.
type Discoverer struct {
	// Client is the Kubernetes API client.
	Client k8s.Interface
	// Entry is the host used as jump host. Empty picks the first control-plane
	// node, or the first node by name when there is none.
	Entry string
	// LabelSelector filters the listed nodes.
	LabelSelector string
	// AddressType selects which node address names the host. Defaults to InternalIP.
	AddressType v1.NodeAddressType
	// Limit caps the number of nodes listed. Zero means the absolute maximum.
	Limit int64
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Discover lists the cluster nodes and builds the topology.
func (d *Discoverer) Discover(ctx context.Context) (*topology.Topology, error) {
	if d.Client == nil {
		return nil, errors.New(errors.ErrCodeInvalidRequest, "kubernetes client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, defaults.K8sDiscoveryTimeout)
	defer cancel()

	nodes, err := d.list(ctx)
	if err != nil {
		return nil, err
	}

	addrType := d.AddressType
	if addrType == "" {
		addrType = v1.NodeInternalIP
	}

	type member struct {
		host string
		role string
	}
	members := make([]member, 0, len(nodes))
	for _, n := range nodes {
		host := getNodeIP(n, addrType)
		if host == "" {
			d.logger().Warn("node has no address of requested type, using node name",
				"node", n.Name, "type", string(addrType))
			host = n.Name
		}
		members = append(members, member{host: host, role: ParseNodeRole(n)})
	}

	sort.SliceStable(members, func(i, j int) bool {
		return strings.ToLower(members[i].host) < strings.ToLower(members[j].host)
	})

	entry := d.Entry
	if entry == "" {
		for _, m := range members {
			if m.role == RoleControlPlane {
				entry = m.host
				break
			}
		}
	}
	if entry == "" {
		if len(members) == 0 {
			return nil, errors.New(errors.ErrCodeNotFound, "no nodes found")
		}
		entry = members[0].host
	}

	topo := &topology.Topology{Entry: entry}
	for _, m := range members {
		if m.host == entry {
			continue
		}
		topo.Nodes = append(topo.Nodes, topology.Host(m.host))
	}

	d.logger().Debug("discovered topology", "entry", entry, "nodes", len(topo.Nodes))
	return topo, nil
}

func (d *Discoverer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// list pages through the node list until the server stops returning a
// continue token or the limit is reached.
func (d *Discoverer) list(ctx context.Context) ([]*v1.Node, error) {
	effectiveLimit := d.Limit
	if effectiveLimit <= 0 || effectiveLimit > nodeListAbsoluteMax {
		effectiveLimit = nodeListAbsoluteMax
	}

	pageSize := min(nodeListPageSizeDefault, effectiveLimit)

	all := make([]*v1.Node, 0, pageSize)
	continueToken := ""
	total := int64(0)

	for {
		currentLimit := pageSize
		if total+currentLimit > effectiveLimit {
			currentLimit = effectiveLimit - total
		}

		list, err := d.Client.CoreV1().Nodes().List(ctx, metav1.ListOptions{
			LabelSelector: d.LabelSelector,
			Limit:         currentLimit,
			Continue:      continueToken,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(errors.ErrCodeTimeout, "node listing timed out", err)
			}
			return nil, errors.Wrap(errors.ErrCodeUnavailable, "failed to list nodes", err)
		}

		for i := range list.Items {
			all = append(all, &list.Items[i])
		}
		total += int64(len(list.Items))

		d.logger().Debug("fetched nodes page",
			slog.Int("pageSize", len(list.Items)),
			slog.Int64("totalFetched", total),
			slog.Bool("hasMore", list.Continue != ""),
		)

		continueToken = list.Continue
		if continueToken == "" || total >= effectiveLimit {
			break
		}
		if len(list.Items) == 0 {
			d.logger().Warn("received empty page with continue token, stopping pagination")
			break
		}
	}

	return all, nil
}

// ParseNodeRole returns the role named by the node's labels, or
// NodeRoleUndefined.
func ParseNodeRole(n *v1.Node) string {
	keys := make([]string, 0, len(n.Labels))
	for k := range n.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if role := strings.TrimPrefix(k, NodeRoleLabelPrefix); role != k && role != "" {
			return role
		}
	}

	for _, k := range keys {
		if strings.EqualFold(k, NodeRoleLabel) {
			return n.Labels[k]
		}
	}

	return NodeRoleUndefined
}

func getNodeIP(node *v1.Node, ipType v1.NodeAddressType) string {
	for _, addr := range node.Status.Addresses {
		if addr.Type == ipType {
			return addr.Address
		}
	}
	return ""
}
