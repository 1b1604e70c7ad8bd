// Package upstream holds the pool of public resolvers the forwarder
// delegates to, and the sticky-index bookkeeping that biases new
// attempts toward the endpoint that last answered successfully.
package upstream

import (
	"net"
	"strconv"
	"sync/atomic"
)

// Endpoint is one upstream resolver in the pool.
type Endpoint struct {
	IP   string
	Port int
	Name string
}

// Addr returns the "ip:port" form used to dial the endpoint.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// Pool is the ordered, finite list of upstream endpoints, treated as
// immutable configuration at runtime, plus the process-wide sticky index
// that biases new queries toward the last endpoint that actually worked.
type Pool struct {
	endpoints []Endpoint
	sticky    atomic.Int64
}

// New builds a Pool from an ordered endpoint list. An empty list gives a
// pool with no upstream to try.
func New(endpoints []Endpoint) *Pool {
	cp := make([]Endpoint, len(endpoints))
	copy(cp, endpoints)
	return &Pool{endpoints: cp}
}

// Len returns the number of configured endpoints.
func (p *Pool) Len() int {
	return len(p.endpoints)
}

// At returns the endpoint at index i.
func (p *Pool) At(i int) Endpoint {
	return p.endpoints[i]
}

// Sticky returns the pool index last known to have produced a successful
// reply. It starts at 0.
func (p *Pool) Sticky() int {
	return int(p.sticky.Load())
}

// SetSticky updates the sticky index on a fully successful attempt.
func (p *Pool) SetSticky(i int) {
	p.sticky.Store(int64(i))
}
