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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/logging"
	"github.com/NVIDIA/hostaudit/pkg/topology"
)

func node(name, ip string, labels map[string]string) *v1.Node {
	n := &v1.Node{ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels}}
	if ip != "" {
		n.Status.Addresses = []v1.NodeAddress{
			{Type: v1.NodeHostName, Address: name},
			{Type: v1.NodeInternalIP, Address: ip},
		}
	}
	return n
}

func TestDiscover(t *testing.T) {
	cs := fake.NewClientset(
		node("worker-b", "10.0.0.12", map[string]string{"node-role.kubernetes.io/worker": ""}),
		node("cp", "10.0.0.2", map[string]string{"node-role.kubernetes.io/control-plane": ""}),
		node("worker-a", "10.0.0.11", nil),
	)

	d := &Discoverer{Client: cs, Logger: logging.Discard()}
	topo, err := d.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.2", topo.Entry)
	assert.Equal(t, []topology.Node{topology.Host("10.0.0.11"), topology.Host("10.0.0.12")}, topo.Nodes)

	targets := topo.Flatten()
	require.Len(t, targets, 3)
	assert.Equal(t, []string{"10.0.0.2"}, targets[1].Via)
}

func TestDiscoverExplicitEntryAndHostnames(t *testing.T) {
	cs := fake.NewClientset(
		node("a", "10.0.0.1", nil),
		node("b", "10.0.0.2", nil),
	)

	d := &Discoverer{Client: cs, Entry: "bastion", AddressType: v1.NodeHostName, Logger: logging.Discard()}
	topo, err := d.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "bastion", topo.Entry)
	assert.Equal(t, []topology.Node{topology.Host("a"), topology.Host("b")}, topo.Nodes)
}

func TestDiscoverFallbacks(t *testing.T) {
	t.Run("no control plane picks first by name", func(t *testing.T) {
		cs := fake.NewClientset(node("z", "10.0.0.9", nil), node("y", "10.0.0.3", nil))
		topo, err := (&Discoverer{Client: cs, Logger: logging.Discard()}).Discover(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.3", topo.Entry)
		assert.Equal(t, []topology.Node{topology.Host("10.0.0.9")}, topo.Nodes)
	})

	t.Run("missing address uses node name", func(t *testing.T) {
		cs := fake.NewClientset(node("lonely", "", nil))
		topo, err := (&Discoverer{Client: cs, Logger: logging.Discard()}).Discover(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "lonely", topo.Entry)
		assert.Empty(t, topo.Nodes)
	})

	t.Run("empty cluster", func(t *testing.T) {
		_, err := (&Discoverer{Client: fake.NewClientset(), Logger: logging.Discard()}).Discover(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	})

	t.Run("nil client", func(t *testing.T) {
		_, err := (&Discoverer{}).Discover(context.Background())
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRequest))
	})
}

func TestDiscoverLabelSelector(t *testing.T) {
	cs := fake.NewClientset(
		node("gpu-1", "10.0.1.1", map[string]string{"accelerator": "gpu"}),
		node("cpu-1", "10.0.2.1", map[string]string{"accelerator": "none"}),
		node("gpu-2", "10.0.1.2", map[string]string{"accelerator": "gpu"}),
	)

	d := &Discoverer{Client: cs, LabelSelector: "accelerator=gpu", Logger: logging.Discard()}
	topo, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.1", topo.Entry)
	assert.Equal(t, []topology.Node{topology.Host("10.0.1.2")}, topo.Nodes)
}

func TestListPagination(t *testing.T) {
	cs := fake.NewClientset()
	calls := 0
	cs.PrependReactor("list", "nodes", func(k8stesting.Action) (bool, runtime.Object, error) {
		calls++
		list := &v1.NodeList{Items: []v1.Node{*node(fmt.Sprintf("n%d", calls), fmt.Sprintf("10.0.0.%d", calls), nil)}}
		if calls < 3 {
			list.Continue = fmt.Sprintf("page-%d", calls+1)
		}
		return true, list, nil
	})

	d := &Discoverer{Client: cs, Logger: logging.Discard()}
	nodes, err := d.list(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
	assert.Equal(t, 3, calls)
}

func TestListLimitStopsPaging(t *testing.T) {
	cs := fake.NewClientset()
	calls := 0
	cs.PrependReactor("list", "nodes", func(k8stesting.Action) (bool, runtime.Object, error) {
		calls++
		return true, &v1.NodeList{
			ListMeta: metav1.ListMeta{Continue: "more"},
			Items:    []v1.Node{*node(fmt.Sprintf("n%d", calls), "", nil)},
		}, nil
	})

	d := &Discoverer{Client: cs, Limit: 2, Logger: logging.Discard()}
	nodes, err := d.list(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Equal(t, 2, calls)
}

func TestListError(t *testing.T) {
	cs := fake.NewClientset()
	cs.PrependReactor("list", "nodes", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, fmt.Errorf("connection refused")
	})

	_, err := (&Discoverer{Client: cs, Logger: logging.Discard()}).Discover(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnavailable))
}

func TestParseNodeRole(t *testing.T) {
	tests := []struct {
		name   string
		labels map[string]string
		want   string
	}{
		{"control plane", map[string]string{"node-role.kubernetes.io/control-plane": ""}, RoleControlPlane},
		{"worker", map[string]string{"node-role.kubernetes.io/worker": "true"}, "worker"},
		{"bare prefix ignored", map[string]string{"node-role.kubernetes.io/": "", "nodeRole": "gpu"}, "gpu"},
		{"fallback label", map[string]string{"NodeRole": "cpu"}, "cpu"},
		{"none", nil, NodeRoleUndefined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseNodeRole(node("n", "", tt.labels)))
		})
	}
}
