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

package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
)

// Unit is a loaded systemd service and the pid of its main process.
type Unit struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ActiveState string `json:"active_state"`
	SubState    string `json:"sub_state"`
	MainPID     int    `json:"main_pid"`
}

// Conn is the subset of the systemd bus connection the collector uses.
type Conn interface {
	ListUnitsContext(ctx context.Context) ([]dbus.UnitStatus, error)
	GetUnitTypePropertyContext(ctx context.Context, unit, unitType, propertyName string) (*dbus.Property, error)
	Close()
}

// Collector lists service units over the system bus.
type Collector struct {
	// Connect opens the bus connection. Defaults to the system bus.
	Connect func(ctx context.Context) (Conn, error)
}

func connectSystem(ctx context.Context) (Conn, error) {
	return dbus.NewSystemdConnectionContext(ctx)
}

// Collect returns the service units keyed by name. Units without a main
// process are kept with MainPID 0.
func (c *Collector) Collect(ctx context.Context) (map[string]Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.SystemdTimeout)
	defer cancel()

	connect := c.Connect
	if connect == nil {
		connect = connectSystem
	}
	conn, err := connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	statuses, err := conn.ListUnitsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })

	units := make(map[string]Unit)
	for _, st := range statuses {
		if !strings.HasSuffix(st.Name, ".service") || st.LoadState != "loaded" {
			continue
		}
		u := Unit{
			Name:        st.Name,
			Description: st.Description,
			ActiveState: st.ActiveState,
			SubState:    st.SubState,
		}
		prop, err := conn.GetUnitTypePropertyContext(ctx, st.Name, "Service", "MainPID")
		if err != nil {
			slog.Debug("failed to read main pid", slog.String("unit", st.Name), slog.String("error", err.Error()))
		} else if pid, ok := prop.Value.Value().(uint32); ok {
			u.MainPID = int(pid)
		}
		units[st.Name] = u
	}
	return units, nil
}

// ByPID inverts units into main pid → unit name, skipping units without one.
func ByPID(units map[string]Unit) map[int]string {
	out := make(map[int]string, len(units))
	for name, u := range units {
		if u.MainPID > 0 {
			out[u.MainPID] = name
		}
	}
	return out
}
