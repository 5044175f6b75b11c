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
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/hostaudit/pkg/config"
	"github.com/NVIDIA/hostaudit/pkg/serializer"
)

var (
	outputFlag = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output file path (default: stdout)",
	}

	formatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"t"},
		Usage:   fmt.Sprintf("output format (%v)", serializer.SupportedFormats()),
		Value:   string(serializer.FormatYAML),
	}

	kubeconfigFlag = &cli.StringFlag{
		Name:    "kubeconfig",
		Aliases: []string{"k"},
		Usage:   "path to kubeconfig file (default: $KUBECONFIG, ~/.kube/config, in-cluster)",
	}

	outputDirFlag = &cli.StringFlag{
		Name:  config.KeyOutputDir,
		Usage: "root directory of the per-host dumps",
	}

	collectFilesFlag = &cli.BoolFlag{
		Name:  config.KeyCollectFiles,
		Usage: "also walk the filesystem and build the file index",
	}

	excludeFlag = &cli.StringSliceFlag{
		Name:  config.KeyExclude,
		Usage: "path excluded from the filesystem walk (can be repeated)",
	}
)

func parseOutputFormat(cmd *cli.Command) (serializer.Format, error) {
	f := serializer.Format(cmd.String("format"))
	if f.IsUnknown() {
		return "", fmt.Errorf("unknown output format: %q", f)
	}
	return f, nil
}

// The setting helpers return the flag value when it was given on the
// command line and the loaded configuration otherwise.

func stringSetting(cmd *cli.Command, flag, fallback string) string {
	if cmd.IsSet(flag) {
		return cmd.String(flag)
	}
	return fallback
}

func boolSetting(cmd *cli.Command, flag string, fallback bool) bool {
	if cmd.IsSet(flag) {
		return cmd.Bool(flag)
	}
	return fallback
}

func intSetting(cmd *cli.Command, flag string, fallback int) int {
	if cmd.IsSet(flag) {
		return cmd.Int(flag)
	}
	return fallback
}

func floatSetting(cmd *cli.Command, flag string, fallback float64) float64 {
	if cmd.IsSet(flag) {
		return cmd.Float(flag)
	}
	return fallback
}

func sliceSetting(cmd *cli.Command, flag string, fallback []string) []string {
	if cmd.IsSet(flag) {
		return cmd.StringSlice(flag)
	}
	return fallback
}
