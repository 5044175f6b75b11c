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
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// InetProtocols are the IP protocol tables read by ProtocolTables.
var InetProtocols = []string{ProtoTCP, ProtoTCP6, ProtoUDP, ProtoUDP6}

// ProtocolTables reads every supported /proc/net protocol table. Missing
// tables (for example tcp6 with IPv6 disabled) are left empty.
func (r *Reader) ProtocolTables() (*ProtocolTables, error) {
	t := &ProtocolTables{
		Inet:    make(map[string]map[uint64]InetSocket, len(InetProtocols)),
		Unix:    map[uint64]UnixSocket{},
		Netlink: map[uint64]NetlinkSocket{},
		Packet:  map[uint64]PacketSocket{},
	}
	for _, proto := range InetProtocols {
		rows, err := r.protocolRows(proto)
		if err != nil {
			return nil, err
		}
		table := make(map[uint64]InetSocket, len(rows))
		for _, parts := range rows {
			inode, sock, err := parseInetRow(parts)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", proto, err)
			}
			table[inode] = sock
		}
		t.Inet[proto] = table
	}

	rows, err := r.protocolRows(ProtoUnix)
	if err != nil {
		return nil, err
	}
	for _, parts := range rows {
		inode, sock, err := parseUnixRow(parts)
		if err != nil {
			return nil, fmt.Errorf("unix: %w", err)
		}
		t.Unix[inode] = sock
	}

	if rows, err = r.protocolRows(ProtoNetlink); err != nil {
		return nil, err
	}
	for _, parts := range rows {
		inode, sock, err := parseNetlinkRow(parts)
		if err != nil {
			return nil, fmt.Errorf("netlink: %w", err)
		}
		t.Netlink[inode] = sock
	}

	if rows, err = r.protocolRows(ProtoPacket); err != nil {
		return nil, err
	}
	for _, parts := range rows {
		inode, sock, err := parsePacketRow(parts)
		if err != nil {
			return nil, fmt.Errorf("packet: %w", err)
		}
		t.Packet[inode] = sock
	}
	return t, nil
}

// protocolRows returns the whitespace separated columns of every row of a
// protocol table, skipping the header line.
func (r *Reader) protocolRows(proto string) ([][]string, error) {
	p := r.proc(r.netDir, proto)
	lines, err := readLines(p)
	if err != nil {
		if vanished(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	if len(lines) == 0 {
		return nil, nil
	}
	rows := make([][]string, 0, len(lines)-1)
	for _, l := range lines[1:] {
		rows = append(rows, strings.Fields(l))
	}
	return rows, nil
}

func parseInode(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid inode %q: %w", s, err)
	}
	return v, nil
}

// parseInetRow parses "sl local rem st tx:rx tr:tm retrnsmt uid timeout inode ...".
func parseInetRow(parts []string) (uint64, InetSocket, error) {
	if len(parts) < 10 {
		return 0, InetSocket{}, fmt.Errorf("short row %q", strings.Join(parts, " "))
	}
	inode, err := parseInode(parts[9])
	if err != nil {
		return 0, InetSocket{}, err
	}
	local, err := DecodeHexEndpoint(parts[1])
	if err != nil {
		return 0, InetSocket{}, err
	}
	remote, err := DecodeHexEndpoint(parts[2])
	if err != nil {
		return 0, InetSocket{}, err
	}
	uid, err := strconv.Atoi(parts[7])
	if err != nil {
		return 0, InetSocket{}, fmt.Errorf("invalid uid %q: %w", parts[7], err)
	}
	return inode, InetSocket{
		LocalHex:  parts[1],
		RemoteHex: parts[2],
		Local:     local,
		Remote:    remote,
		State:     parts[3],
		UID:       uid,
	}, nil
}

// DecodeHexEndpoint converts a /proc/net "HOST:PORT" hex pair into a
// printable address. The host is stored as 32 bit words in host (little
// endian) byte order; the port is big endian.
func DecodeHexEndpoint(s string) (string, error) {
	h, p, ok := strings.Cut(s, ":")
	if !ok {
		return "", fmt.Errorf("invalid endpoint %q", s)
	}
	raw, err := hex.DecodeString(h)
	if err != nil || (len(raw) != net.IPv4len && len(raw) != net.IPv6len) {
		return "", fmt.Errorf("invalid endpoint host %q", h)
	}
	for i := 0; i+4 <= len(raw); i += 4 {
		raw[i], raw[i+1], raw[i+2], raw[i+3] = raw[i+3], raw[i+2], raw[i+1], raw[i]
	}
	port, err := strconv.ParseUint(p, 16, 16)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint port %q: %w", p, err)
	}
	return net.JoinHostPort(net.IP(raw).String(), strconv.FormatUint(port, 10)), nil
}

// parseUnixRow parses "Num RefCount Protocol Flags Type St Inode [Path]".
func parseUnixRow(parts []string) (uint64, UnixSocket, error) {
	if len(parts) < 7 {
		return 0, UnixSocket{}, fmt.Errorf("short row %q", strings.Join(parts, " "))
	}
	inode, err := parseInode(parts[6])
	if err != nil {
		return 0, UnixSocket{}, err
	}
	sock := UnixSocket{Type: parts[4]}
	if len(parts) > 7 {
		sock.Path = strings.Join(parts[7:], " ")
	}
	return inode, sock, nil
}

// parseNetlinkRow parses "sk Eth Pid Groups Rmem Wmem Dump Locks Drops Inode".
func parseNetlinkRow(parts []string) (uint64, NetlinkSocket, error) {
	if len(parts) < 3 {
		return 0, NetlinkSocket{}, fmt.Errorf("short row %q", strings.Join(parts, " "))
	}
	inode, err := parseInode(parts[len(parts)-1])
	if err != nil {
		return 0, NetlinkSocket{}, err
	}
	proto, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, NetlinkSocket{}, fmt.Errorf("invalid protocol %q: %w", parts[1], err)
	}
	return inode, NetlinkSocket{Protocol: proto}, nil
}

// parsePacketRow parses "sk RefCnt Type Proto Iface R Rmem User Inode".
func parsePacketRow(parts []string) (uint64, PacketSocket, error) {
	if len(parts) < 5 {
		return 0, PacketSocket{}, fmt.Errorf("short row %q", strings.Join(parts, " "))
	}
	inode, err := parseInode(parts[len(parts)-1])
	if err != nil {
		return 0, PacketSocket{}, err
	}
	typ, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, PacketSocket{}, fmt.Errorf("invalid type %q: %w", parts[2], err)
	}
	iface, err := strconv.Atoi(parts[4])
	if err != nil {
		return 0, PacketSocket{}, fmt.Errorf("invalid iface %q: %w", parts[4], err)
	}
	return inode, PacketSocket{Type: typ, Iface: iface}, nil
}
