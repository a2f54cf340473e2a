/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package transport

import (
	"net"

	"golang.org/x/net/ipv4"

	"github.com/meshbus/ardp/internal/logfield"
)

// localInterfaceAddrs enumerates every UP IPv4 interface address on the
// host, backing the self-connect refusal and network-reachability checks.
func localInterfaceAddrs() ([]*net.IPNet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []*net.IPNet
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			out = append(out, ipnet)
		}
	}

	return out, nil
}

// controlConn wraps a freshly bound socket for per-datagram control
// messages, requesting the destination address of each datagram so a
// multi-homed host can tell which of its local addresses a peer targeted.
// Readers receive that address alongside the payload; a kernel that cannot
// supply it just yields nil control messages.
func controlConn(conn net.PacketConn) *ipv4.PacketConn {
	p := ipv4.NewPacketConn(conn)
	if err := p.SetControlMessage(ipv4.FlagDst, true); err != nil {
		logfield.Debug("ipv4 control messages unavailable on listen socket").ErrorAdd(err).Log()
	}
	logfield.Debug("listen socket bound").FieldAdd("local_addr", conn.LocalAddr().String()).Log()
	return p
}

// isSelfAddr reports whether remote matches one of our own UP interface
// addresses at the given port, including the INADDR_ANY and loopback forms
// of a self-connect.
func isSelfAddr(remote *net.UDPAddr, ownPort int, nets []*net.IPNet) bool {
	if remote.Port != ownPort {
		return false
	}

	if remote.IP.IsUnspecified() || remote.IP.IsLoopback() {
		return true
	}

	for _, n := range nets {
		if n.IP.Equal(remote.IP) {
			return true
		}
	}

	return false
}

// hasRoute reports whether remote.IP falls inside one of our UP interfaces'
// subnets. A loopback target is always considered reachable.
func hasRoute(remote *net.UDPAddr, nets []*net.IPNet) bool {
	if remote.IP.IsLoopback() {
		return true
	}

	for _, n := range nets {
		if n.Contains(remote.IP) {
			return true
		}
	}

	return false
}
