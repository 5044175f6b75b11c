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

// Package config loads collection settings with viper.
//
// Values come from, in increasing precedence, built-in defaults, the YAML
// config file ($HOME/.hostaudit.yaml, ./.hostaudit.yaml, or --config) and
// HOSTAUDIT_* environment variables with dashes mapped to underscores.
// Command-line flags are applied on top by the caller.
package config
