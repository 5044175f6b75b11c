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

package cli

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
	v1 "k8s.io/api/core/v1"

	"github.com/NVIDIA/hostaudit/pkg/discovery"
	"github.com/NVIDIA/hostaudit/pkg/k8s/client"
)

func discoverCmd() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Write a topology file from the nodes of a Kubernetes cluster",
		Description: `Lists the cluster nodes and writes a topology with the entry host
(the first control-plane node unless --entry is given) as jump host for every
other node:

  hostaudit discover --selector nodeGroup=gpu --output topology.json
  hostaudit collect --topology topology.json`,
		Flags: []cli.Flag{
			kubeconfigFlag,
			&cli.StringFlag{
				Name:  "entry",
				Usage: "entry host (default: first control-plane node)",
			},
			&cli.StringFlag{
				Name:  "selector",
				Usage: "label selector for the listed nodes",
			},
			&cli.StringFlag{
				Name:  "address-type",
				Usage: "node address naming each host (InternalIP, ExternalIP, Hostname)",
				Value: string(v1.NodeInternalIP),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "topology file path (default: stdout)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cs, _, err := client.GetKubeClientWithConfig(cmd.String("kubeconfig"))
			if err != nil {
				return err
			}

			d := &discovery.Discoverer{
				Client:        cs,
				Entry:         cmd.String("entry"),
				LabelSelector: cmd.String("selector"),
				AddressType:   v1.NodeAddressType(cmd.String("address-type")),
				Logger:        slog.Default(),
			}
			topo, err := d.Discover(ctx)
			if err != nil {
				return err
			}

			slog.Info("discovered hosts", "entry", topo.Entry, "nodes", len(topo.Nodes))
			return topo.Save(ctx, cmd.String("output"))
		},
	}
}
