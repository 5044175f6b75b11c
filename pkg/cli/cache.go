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

	"github.com/NVIDIA/hostaudit/pkg/config"
	"github.com/NVIDIA/hostaudit/pkg/dump"
	"github.com/NVIDIA/hostaudit/pkg/errors"
)

// CacheEntry describes one host directory of the dump store.
type CacheEntry struct {
	Host     string `json:"host" yaml:"host"`
	Dir      string `json:"dir" yaml:"dir"`
	Complete bool   `json:"complete" yaml:"complete"`
}

func cacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the dump store",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List collected hosts",
				Flags: []cli.Flag{outputDirFlag, outputFlag, formatFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					outFormat, err := parseOutputFormat(cmd)
					if err != nil {
						return err
					}
					entries, err := listCache(cacheStore(cmd))
					if err != nil {
						return err
					}
					return writeReport(ctx, outFormat, cmd.String("output"), entries)
				},
			},
			{
				Name:      "clear",
				Usage:     "Remove collected dumps",
				ArgsUsage: "[host...]",
				Description: `Removes the dumps of the given hosts, or of every host with --all.
Directories without the dump marker file are never removed.`,
				Flags: []cli.Flag{
					outputDirFlag,
					&cli.BoolFlag{
						Name:  "all",
						Usage: "clear every host in the store",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return clearCache(ctx, cacheStore(cmd), cmd.Args().Slice(), cmd.Bool("all"))
				},
			},
		},
	}
}

func cacheStore(cmd *cli.Command) *dump.Store {
	return dump.New(stringSetting(cmd, config.KeyOutputDir, settings.OutputDir), slog.Default())
}

func listCache(store *dump.Store) ([]CacheEntry, error) {
	hosts, err := store.Hosts()
	if err != nil {
		return nil, err
	}
	out := make([]CacheEntry, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, CacheEntry{Host: h, Dir: store.HostDir(h), Complete: store.HasCache(h)})
	}
	return out, nil
}

func clearCache(ctx context.Context, store *dump.Store, hosts []string, all bool) error {
	if all {
		if len(hosts) > 0 {
			return errors.New(errors.ErrCodeInvalidRequest, "host arguments cannot be combined with --all")
		}
		var err error
		if hosts, err = store.Hosts(); err != nil {
			return err
		}
	} else if len(hosts) == 0 {
		return errors.New(errors.ErrCodeInvalidRequest, "no hosts given, use --all to clear every host")
	}

	for _, h := range hosts {
		if err := store.Clear(ctx, h); err != nil {
			return err
		}
		slog.Info("cleared dump", "host", h)
	}
	return nil
}
