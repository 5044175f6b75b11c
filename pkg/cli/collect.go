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
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/hostaudit/pkg/collection"
	"github.com/NVIDIA/hostaudit/pkg/config"
	"github.com/NVIDIA/hostaudit/pkg/defaults"
	"github.com/NVIDIA/hostaudit/pkg/dump"
	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
	"github.com/NVIDIA/hostaudit/pkg/serializer"
	"github.com/NVIDIA/hostaudit/pkg/topology"
	"github.com/NVIDIA/hostaudit/pkg/transport"
)

func collectCmd() *cli.Command {
	return &cli.Command{
		Name:      "collect",
		Usage:     "Collect snapshots of one or many hosts into the dump store",
		ArgsUsage: "[host...]",
		Description: `Collects every host of a topology file, the hosts given as arguments,
or the local host when neither is given. Remote hosts are reached with the
system ssh client; nested topology entries are reached through their parents
as jump hosts.

Each host is stored under <output-dir>/<host>. With --use-cache, complete
dumps from an earlier run are loaded instead of collected again. Without it,
existing dumps are cleared first.

# Examples

Collect this host, including the filesystem:
  sudo hostaudit collect --collect-files

Collect a cluster behind a bastion:
  hostaudit collect --topology topology.json --parallelism 8 --ssh-user audit`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "topology",
				Usage: "topology file listing the hosts to collect",
			},
			outputDirFlag,
			&cli.BoolFlag{
				Name:  config.KeyUseCache,
				Usage: "reuse complete dumps from earlier runs",
			},
			collectFilesFlag,
			excludeFlag,
			&cli.IntFlag{
				Name:  config.KeyParallelism,
				Usage: "hosts collected concurrently",
			},
			&cli.FloatFlag{
				Name:  config.KeyConnectRate,
				Usage: "new host connections started per second",
			},
			&cli.StringFlag{
				Name:  config.KeySSHUser,
				Usage: "remote login for hosts without user@",
			},
			&cli.StringFlag{
				Name:  config.KeySSHIdentity,
				Usage: "ssh private key file",
			},
			&cli.StringFlag{
				Name:  config.KeyPrivilegeWrapper,
				Usage: `command prefix that elevates the probe, "" to run it unwrapped`,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "timeout for the whole collection",
				Value: defaults.CLICollectTimeout,
			},
			outputFlag,
			formatFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			outFormat, err := parseOutputFormat(cmd)
			if err != nil {
				return err
			}

			localName, _ := kernel.Uname()
			targets, err := collectTargets(cmd.String("topology"), cmd.Args().Slice(), localName)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			collectFiles := boolSetting(cmd, config.KeyCollectFiles, settings.CollectFiles)
			exclude := sliceSetting(cmd, config.KeyExclude, settings.Exclude)
			wrapper := stringSetting(cmd, config.KeyPrivilegeWrapper, settings.PrivilegeWrapper)
			opts := transport.ProbeOptions{
				CollectFiles: collectFiles,
				Exclude:      exclude,
				LogLevel:     logLevel(cmd),
			}

			local := &transport.Local{
				Snapshotter:      newHostSnapshotter(collectFiles, exclude, slog.Default()),
				PrivilegeWrapper: wrapper,
				Options:          opts,
			}
			remote := &transport.SSH{
				User:             stringSetting(cmd, config.KeySSHUser, settings.SSHUser),
				Identity:         stringSetting(cmd, config.KeySSHIdentity, settings.SSHIdentity),
				PrivilegeWrapper: wrapper,
				Options:          opts,
			}

			c := &collection.Collector{
				Version:     version,
				Store:       dump.New(stringSetting(cmd, config.KeyOutputDir, settings.OutputDir), slog.Default()),
				Transport:   transport.NewRouter(local, remote, localName),
				Parallelism: intSetting(cmd, config.KeyParallelism, settings.Parallelism),
				ConnectRate: floatSetting(cmd, config.KeyConnectRate, settings.ConnectRate),
				UseCache:    boolSetting(cmd, config.KeyUseCache, settings.UseCache),
				Logger:      slog.Default(),
			}

			slog.Info("collecting", "hosts", len(targets), "parallelism", c.Parallelism, "useCache", c.UseCache)

			res, err := c.Collect(ctx, targets)
			if res != nil {
				if werr := writeReport(ctx, outFormat, cmd.String("output"), res); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}

			if failed := res.Failed(); len(failed) > 0 {
				return errors.NewWithContext(errors.ErrCodeUnavailable,
					fmt.Sprintf("%d of %d hosts failed", len(failed), len(res.Hosts)),
					map[string]any{"first": failed[0].Host})
			}
			return nil
		},
	}
}

// collectTargets resolves what to collect: the topology file, else the
// argument hosts, else the local host.
func collectTargets(topologyPath string, hosts []string, localName string) ([]topology.Target, error) {
	if topologyPath != "" {
		if len(hosts) > 0 {
			return nil, errors.New(errors.ErrCodeInvalidRequest, "host arguments cannot be combined with --topology")
		}
		topo, err := topology.Load(topologyPath)
		if err != nil {
			return nil, err
		}
		return topo.Flatten(), nil
	}

	if len(hosts) == 0 {
		if localName == "" {
			localName = "localhost"
		}
		return topology.Local(localName).Flatten(), nil
	}

	targets := make([]topology.Target, 0, len(hosts))
	for _, h := range hosts {
		targets = append(targets, topology.Target{Host: h})
	}
	return targets, nil
}

func writeReport(ctx context.Context, format serializer.Format, path string, v any) error {
	w, err := serializer.NewFileWriterOrStdout(format, path)
	if err != nil {
		return err
	}
	if err := w.Serialize(ctx, v); err != nil {
		w.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return w.Close()
}
