// Package resolver dials a single upstream attempt's UDP socket: one
// fresh, unshared socket per attempt, used for exactly one send and one
// receive before being closed.
package resolver

import (
	"fmt"
	"net"
	"time"

	"github.com/codeRisshi25/dns-forwarder/upstream"
)

// MaxDatagramSize is the receive buffer size for an upstream reply. DNS
// datagrams over UDP are typically bounded at 512 octets, but some
// upstreams answer larger EDNS(0)-sized messages; 4096 is generous enough
// without pulling in fragmentation handling.
const MaxDatagramSize = 4096

// Conn is one upstream attempt's dedicated UDP socket. It is never shared
// across attempts and must be closed exactly once by whichever event
// (reply, timer, or error) concludes the attempt.
type Conn struct {
	udp *net.UDPConn
}

// Dial opens a fresh UDP socket bound to any local ephemeral port and
// connected to the given upstream endpoint.
func Dial(ep upstream.Endpoint) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("resolver: resolving %s: %w", ep.Addr(), err)
	}

	udp, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("resolver: dialing %s: %w", ep.Addr(), err)
	}

	return &Conn{udp: udp}, nil
}

// Send writes the (already transaction-ID-rewritten) query datagram.
func (c *Conn) Send(query []byte) error {
	_, err := c.udp.Write(query)
	return err
}

// Recv blocks until a reply datagram arrives or the deadline set by the
// caller elapses. It is meant to be called from its own goroutine so the
// forwarder's attempt loop can select over it alongside a timer.
func (c *Conn) Recv() ([]byte, error) {
	buf := make([]byte, MaxDatagramSize)
	n, err := c.udp.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// SetDeadline arms the per-attempt read/write deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.udp.SetDeadline(t)
}

// Close releases the socket. Safe to call exactly once; callers must not
// call it twice.
func (c *Conn) Close() error {
	return c.udp.Close()
}
