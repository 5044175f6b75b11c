package correlate

import (
	"context"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

// netlinkProtocols as defined in linux/netlink.h
var netlinkProtocols = map[int]string{
	0:  "ROUTE",
	1:  "UNUSED",
	2:  "USERSOCK",
	3:  "FIREWALL",
	4:  "SOCK_DIAG",
	5:  "NFLOG",
	6:  "XFRM",
	7:  "SELINUX",
	8:  "ISCSI",
	9:  "AUDIT",
	10: "FIB_LOOKUP",
	11: "CONNECTOR",
	12: "NETFILTER",
	13: "IP6_FW",
	14: "DNRTMSG",
	15: "KOBJECT_UEVENT",
	16: "GENERIC",
	18: "SCSITRANSPORT",
	19: "ECRYPTFS",
	20: "RDMA",
	21: "CRYPTO",
	22: "SMC",
}

var packetTypes = map[int]string{
	2: "COOKED",
	3: "RAW",
}

// DescribeSocket renders what the protocol tables know about socket inode.
// A socket present in several tables yields one description per table,
// joined by "|". An inode found in no table is ENDPOINT_NOT_FOUND.
func (c *Correlator) DescribeSocket(ctx context.Context, inode uint64) (string, error) {
	t := c.src.Protocols
	if t == nil {
		return "", errors.New(errors.ErrCodeEndpointNotFound, "no protocol tables in snapshot")
	}

	var parts []string
	for _, proto := range kernel.InetProtocols {
		if sock, ok := t.Inet[proto][inode]; ok {
			parts = append(parts, c.describeInet(proto, sock))
		}
	}
	if sock, ok := t.Unix[inode]; ok {
		parts = append(parts, c.describeUnix(ctx, sock))
	}
	if sock, ok := t.Netlink[inode]; ok {
		name, known := netlinkProtocols[sock.Protocol]
		if !known {
			name = strconv.Itoa(sock.Protocol)
		}
		parts = append(parts, fmt.Sprintf("netlink socket %d type:'%s'", inode, name))
	}
	if sock, ok := t.Packet[inode]; ok {
		typ, known := packetTypes[sock.Type]
		if !known {
			typ = "[UNKNOWN TYPE]"
		}
		parts = append(parts, fmt.Sprintf("packet %d %s on interface %s", inode, typ, c.interfaceName(sock.Iface)))
	}

	if len(parts) == 0 {
		return "", errors.NewWithContext(errors.ErrCodeEndpointNotFound,
			fmt.Sprintf("no protocol information for socket %d", inode), map[string]any{"inode": inode})
	}
	return strings.Join(parts, "|"), nil
}

// describeInet formats "tcp4: 10.0.0.1:22 <--> 10.0.0.9:5123 if eth0".
func (c *Correlator) describeInet(proto string, sock kernel.InetSocket) string {
	family := "4"
	if strings.HasSuffix(proto, "6") {
		family = "6"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s: %s", strings.TrimSuffix(proto, "6"), family, sock.Local)

	_, rport, _ := net.SplitHostPort(sock.Remote)
	switch {
	case rport != "" && rport != "0":
		fmt.Fprintf(&b, " <--> %s", sock.Remote)
	case strings.HasPrefix(proto, kernel.ProtoTCP):
		b.WriteString(" listening/waiting")
	}

	if host, _, err := net.SplitHostPort(sock.Local); err == nil {
		if iface := c.interfaceFor(net.ParseIP(host)); iface != "" {
			fmt.Fprintf(&b, " if %s", iface)
		}
	}
	return b.String()
}

func (c *Correlator) describeUnix(ctx context.Context, sock kernel.UnixSocket) string {
	if sock.Path == "" {
		return "unix:<anonymous>"
	}
	perms := "unknown"
	if c.src.Files != nil && strings.HasPrefix(sock.Path, "/") {
		if e, err := c.src.Files.FileProperties(ctx, sock.Path); err == nil {
			perms = strconv.FormatUint(uint64(e.Mode&0o777), 8)
		}
	}
	return fmt.Sprintf("unix:%s (file permissions: %s)", sock.Path, perms)
}

// interfaceFor returns the interface carrying ip, if any.
func (c *Correlator) interfaceFor(ip net.IP) string {
	if ip == nil {
		return ""
	}
	for _, name := range slices.Sorted(maps.Keys(c.src.Interfaces)) {
		iface := c.src.Interfaces[name]
		for _, cidr := range slices.Concat(iface.IPv4, iface.IPv6) {
			addr, _, err := net.ParseCIDR(cidr)
			if err == nil && addr.Equal(ip) {
				return name
			}
		}
	}
	return ""
}

func (c *Correlator) interfaceName(index int) string {
	for name, iface := range c.src.Interfaces {
		if iface.Index == index {
			return name
		}
	}
	return strconv.Itoa(index)
}
