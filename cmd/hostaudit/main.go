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

package main

import (
	"os"

	"github.com/NVIDIA/hostaudit/pkg/cli"
	"github.com/NVIDIA/hostaudit/pkg/namespace"
)

func main() {
	// The namespace helper is this binary re-executed. It must not reach the
	// CLI, whose setup would run inside the joined namespaces.
	if namespace.IsHelperInvocation() {
		os.Exit(namespace.RunHelper(os.Stdin, os.Stdout, os.Stderr))
	}
	cli.Execute()
}
