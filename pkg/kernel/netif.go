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

package kernel

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// NetInterfaces describes every interface under <sysroot>/class/net. IPv6
// addresses come from if_inet6 of the reader's net directory; IPv4 addresses
// from the calling thread's network namespace.
func (r *Reader) NetInterfaces() (map[string]NetInterface, error) {
	base := filepath.Join(r.sysRoot, "class", "net")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", base, err)
	}

	v6, err := r.inet6Addresses()
	if err != nil {
		return nil, err
	}
	v4 := ipv4Addresses()

	ifaces := make(map[string]NetInterface, len(entries))
	for _, e := range entries {
		iface, err := readInterface(filepath.Join(base, e.Name()))
		if err != nil {
			return nil, err
		}
		iface.Name = e.Name()
		iface.IPv4 = v4[e.Name()]
		iface.IPv6 = v6[e.Name()]
		ifaces[e.Name()] = iface
	}
	return ifaces, nil
}

func readInterface(dir string) (NetInterface, error) {
	var iface NetInterface
	attr := func(name string) string {
		// carrier and dormant fail with EINVAL on interfaces that are down
		v, _ := readTrimmed(filepath.Join(dir, name))
		return v
	}
	intAttr := func(name string) *int {
		v, err := strconv.Atoi(attr(name))
		if err != nil {
			return nil
		}
		return &v
	}

	if v := intAttr("ifindex"); v != nil {
		iface.Index = *v
	}
	if v := intAttr("type"); v != nil {
		iface.Type = *v
	}
	if v := intAttr("mtu"); v != nil {
		iface.MTU = *v
	}
	iface.Address = attr("address")
	iface.OperState = attr("operstate")
	iface.Flags = attr("flags")
	iface.Carrier = intAttr("carrier")
	iface.Dormant = intAttr("dormant")

	if ue, err := readKV(filepath.Join(dir, "uevent"), "="); err == nil && len(ue) > 0 {
		iface.UEvent = ue
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return iface, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, e := range entries {
		if lower, ok := strings.CutPrefix(e.Name(), "lower_"); ok {
			iface.Attached = append(iface.Attached, lower)
		}
	}
	sort.Strings(iface.Attached)
	return iface, nil
}

// inet6Addresses parses if_inet6: "addr ifindex prefixlen scope flags name".
func (r *Reader) inet6Addresses() (map[string][]string, error) {
	lines, err := readLines(r.proc(r.netDir, "if_inet6"))
	if err != nil {
		if vanished(err) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("failed to read if_inet6: %w", err)
	}
	addrs := make(map[string][]string)
	for _, l := range lines {
		f := strings.Fields(l)
		if len(f) < 6 || len(f[0]) != 32 {
			continue
		}
		ip := make(net.IP, net.IPv6len)
		for i := 0; i < net.IPv6len; i++ {
			b, err := strconv.ParseUint(f[0][2*i:2*i+2], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid if_inet6 address %q: %w", f[0], err)
			}
			ip[i] = byte(b)
		}
		prefix, err := strconv.ParseUint(f[2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid if_inet6 prefix %q: %w", f[2], err)
		}
		addrs[f[5]] = append(addrs[f[5]], fmt.Sprintf("%s/%d", ip, prefix))
	}
	return addrs, nil
}

func ipv4Addresses() map[string][]string {
	out := make(map[string][]string)
	ifs, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, ifc := range ifs {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && n.IP.To4() != nil {
				out[ifc.Name] = append(out[ifc.Name], n.String())
			}
		}
	}
	return out
}
