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

// Package discovery builds a collection topology from the nodes of a
// Kubernetes cluster.
//
// The entry host is given explicitly or chosen as the first control-plane
// node; every other node is reached through it:
//
//	cs, _, err := client.GetKubeClient()
//	if err != nil {
//	    return err
//	}
//	d := &discovery.Discoverer{Client: cs}
//	topo, err := d.Discover(ctx)
//	if err != nil {
//	    return err
//	}
//	return topo.Save(ctx, "topology.json")
package discovery
