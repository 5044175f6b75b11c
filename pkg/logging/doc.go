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

// Package logging configures structured JSON logging with log/slog.
//
// Every record carries the module name and version. Debug level adds the
// source location.
//
// # Log Levels
//
// Supported levels (case-insensitive): debug, info (default), warn or
// warning, and error. Unknown values fall back to info.
//
// # Usage
//
// The CLI installs the default logger once flags are parsed:
//
//	logging.SetDefaultStructuredLoggerWithLevel("hostaudit", version, "debug")
//	slog.Info("collecting", "hosts", 12)
//
// Components take a *slog.Logger and default to slog.Default():
//
//	logger := logging.NewStructuredLogger("hostaudit", version, "info")
//	store := dump.New("/tmp/hostaudit", logger)
//
// Tests and the namespace helper use Discard.
//
// # Environment Configuration
//
// LOG_LEVEL selects the level when no flag is given:
//
//	LOG_LEVEL=debug hostaudit collect --topology topology.json
//
// # Output Format
//
// Records are written to stderr:
//
//	{
//	    "time": "2025-01-15T10:30:00.123Z",
//	    "level": "INFO",
//	    "msg": "collection finished",
//	    "module": "hostaudit",
//	    "version": "v1.0.0",
//	    "hosts": 12
//	}
package logging
