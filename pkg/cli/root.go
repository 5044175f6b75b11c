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
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/NVIDIA/hostaudit/pkg/config"
	"github.com/NVIDIA/hostaudit/pkg/logging"
)

const (
	name           = "hostaudit"
	versionDefault = "dev"
)

var (
	// overridden during build with ldflags
	version = versionDefault
	commit  = "unknown"
	date    = "unknown"

	// settings is loaded by the root Before hook.
	settings = config.Default()
)

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down gracefully...")
		cancel()
	}()

	if err := newRootCmd().Run(ctx, os.Args); err != nil {
		printFatal(os.Stderr, isTerminal(os.Stderr), err)
		os.Exit(1)
	}
}

func newRootCmd() *cli.Command {
	return &cli.Command{
		Name:    name,
		Usage:   "Collect security audit snapshots of Linux hosts",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Description: `hostaudit captures processes, namespaces, sockets, IPC objects, accounts
and optionally the filesystem of one or many Linux hosts into per-host dump
directories for offline review.`,
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "config file (default is $HOME/.hostaudit.yaml)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars(logging.EnvVarLogLevel),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "debug logging, including every skipped resource",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "write collection metrics in Prometheus text format to this file on exit",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			settings = cfg

			logging.SetDefaultStructuredLoggerWithLevel(name, version, logLevel(cmd))
			slog.Debug("starting",
				"name", name,
				"version", version,
				"commit", commit,
				"date", date)
			return ctx, nil
		},
		After: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.String("metrics-file")
			if path == "" {
				return nil
			}
			if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
				return fmt.Errorf("failed to write metrics file: %w", err)
			}
			return nil
		},
		Commands: []*cli.Command{
			collectCmd(),
			probeCmd(),
			inspectCmd(),
			cacheCmd(),
			discoverCmd(),
		},
	}
}

func logLevel(cmd *cli.Command) string {
	if cmd.Bool("verbose") {
		return "debug"
	}
	return cmd.String("log-level")
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

const (
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

// printFatal writes err as a single line, in red when color is set.
func printFatal(w io.Writer, color bool, err error) {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if color {
		fmt.Fprintf(w, "%sError: %s%s\n", colorRed, msg, colorReset)
		return
	}
	fmt.Fprintf(w, "Error: %s\n", msg)
}
