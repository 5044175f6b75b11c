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
	"os"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
	"github.com/NVIDIA/hostaudit/pkg/dump"
	"github.com/NVIDIA/hostaudit/pkg/fsindex"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
	"github.com/NVIDIA/hostaudit/pkg/namespace"
	"github.com/NVIDIA/hostaudit/pkg/services"
	"github.com/NVIDIA/hostaudit/pkg/snapshotter"
)

func probeCmd() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "Snapshot this host and write the dump stream",
		Description: `Collects the local host and writes the framed dump stream that the
collect command stores. It is what collect runs on every remote host, but it
can be used directly to capture a host without the collector:

  sudo hostaudit probe --output host.stream --collect-files

The probe must run as root to read other processes and join their namespaces.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   `stream destination file, "-" for stdout`,
				Value:   "-",
			},
			collectFilesFlag,
			excludeFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cancel := context.WithTimeout(ctx, defaults.CollectorTimeout)
			defer cancel()

			hs := newHostSnapshotter(
				boolSetting(cmd, collectFilesFlag.Name, settings.CollectFiles),
				sliceSetting(cmd, excludeFlag.Name, settings.Exclude),
				slog.Default(),
			)

			snap, err := hs.Measure(ctx)
			if err != nil {
				return err
			}

			return writeStream(cmd.String("output"), snap)
		},
	}
}

// newHostSnapshotter wires the live-system collectors. Excludes add to the
// default exclusions. Namespace joins are skipped when the helper cannot be
// prepared.
func newHostSnapshotter(collectFiles bool, exclude []string, logger *slog.Logger) *snapshotter.HostSnapshotter {
	hs := &snapshotter.HostSnapshotter{
		Version:      version,
		Reader:       kernel.NewReader(),
		CollectFiles: collectFiles,
		Services:     &services.Collector{},
		Logger:       logger,
	}

	if j, err := namespace.NewHelperJoiner(); err != nil {
		logger.Warn("namespace joins disabled", "error", err)
	} else {
		hs.Joiner = j
	}

	if collectFiles {
		hs.Walker = &fsindex.Walker{
			Root:    "/",
			Exclude: append(slices.Clone(defaults.ExcludedPaths), exclude...),
			Logger:  logger,
		}
	}
	return hs
}

func writeStream(path string, snap *snapshotter.Snapshot) error {
	if path == "" || path == "-" {
		if err := dump.WriteStream(os.Stdout, snap); err != nil {
			return fmt.Errorf("failed to write snapshot stream: %w", err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := dump.WriteStream(f, snap); err != nil {
		f.Close()
		return fmt.Errorf("failed to write snapshot stream: %w", err)
	}
	return f.Close()
}
