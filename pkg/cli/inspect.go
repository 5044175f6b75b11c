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

	"github.com/NVIDIA/hostaudit/pkg/captable"
	"github.com/NVIDIA/hostaudit/pkg/config"
	"github.com/NVIDIA/hostaudit/pkg/dump"
	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/summary"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Summarize collected dumps",
		ArgsUsage: "[host...]",
		Description: `Prints, for each host, the process count, processes holding effective
capabilities, setuid, setgid and capability-carrying files (when the
filesystem was collected), namespaces and pipes shared between processes.
Without arguments every host in the dump store is summarized.`,
		Flags: []cli.Flag{
			outputDirFlag,
			&cli.StringFlag{
				Name:  config.KeyCapTable,
				Usage: "capability translation table (default: built in)",
			},
			outputFlag,
			formatFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			outFormat, err := parseOutputFormat(cmd)
			if err != nil {
				return err
			}

			caps, err := captable.Capabilities(stringSetting(cmd, config.KeyCapTable, settings.CapTable))
			if err != nil {
				return err
			}

			store := dump.New(stringSetting(cmd, config.KeyOutputDir, settings.OutputDir), slog.Default())
			hosts := cmd.Args().Slice()
			if len(hosts) == 0 {
				if hosts, err = store.Hosts(); err != nil {
					return err
				}
			}
			if len(hosts) == 0 {
				return errors.NewWithContext(errors.ErrCodeNotFound, "no collected hosts",
					map[string]any{"dir": store.Root})
			}

			summaries := make([]*summary.Summary, 0, len(hosts))
			for _, host := range hosts {
				s, err := inspectHost(ctx, store, caps, host)
				if err != nil {
					return err
				}
				summaries = append(summaries, s)
			}

			return writeReport(ctx, outFormat, cmd.String("output"), summaries)
		},
	}
}

func inspectHost(ctx context.Context, store *dump.Store, caps *captable.Table, host string) (*summary.Summary, error) {
	snap, err := store.Load(host)
	if err != nil {
		return nil, err
	}

	b := &summary.Builder{Version: version, Capabilities: caps}
	if snap.System != nil && snap.System.CollectFiles {
		idx, err := store.OpenIndex(ctx, host)
		if err != nil {
			return nil, err
		}
		defer idx.Close()
		b.Files = idx
	}

	return b.Build(ctx, snap)
}
