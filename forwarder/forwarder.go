// Package forwarder implements the stateful, concurrent request router:
// it owns transaction-ID translation between clients and upstreams,
// per-request timeouts and fail-over across the upstream pool, and
// cache population for successful replies.
//
// A query's attempts run one after another in the goroutine that calls
// Forward. Each attempt reads its upstream socket from a goroutine of its
// own and selects over a reply channel, an error channel, and a timeout;
// the server calls Forward from a separate goroutine per datagram, so one
// query's timer never blocks another query.
package forwarder

import (
	"crypto/rand"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/codeRisshi25/dns-forwarder/cache"
	"github.com/codeRisshi25/dns-forwarder/log"
	"github.com/codeRisshi25/dns-forwarder/model"
	"github.com/codeRisshi25/dns-forwarder/resolver"
	"github.com/codeRisshi25/dns-forwarder/table"
	"github.com/codeRisshi25/dns-forwarder/upstream"
	"github.com/codeRisshi25/dns-forwarder/wire"
)

// AttemptTimeout is the per-attempt budget before an attempt fails over
// to the next upstream.
const AttemptTimeout = 5 * time.Second

// Forwarder is the state machine. It does not own the listening socket;
// it is handed a sender to deliver client-bound replies instead.
type Forwarder struct {
	pool   *upstream.Pool
	table  *table.Table
	cache  *cache.Client
	sender ClientSender

	// timeout is the per-attempt budget; AttemptTimeout by default. Tests
	// shrink it so fail-over scenarios don't take real wall-clock seconds.
	timeout time.Duration

	counter atomic.Uint64
}

// ClientSender delivers a finished reply datagram to its origin client.
// The main listening socket implements this; it is an interface here
// purely to avoid a server->forwarder->server import cycle.
type ClientSender interface {
	SendToClient(raw []byte, addr *net.UDPAddr) error
}

// New builds a Forwarder over the given upstream pool, request table,
// cache client, and client-reply sender.
func New(pool *upstream.Pool, t *table.Table, c *cache.Client, sender ClientSender) *Forwarder {
	return &Forwarder{pool: pool, table: t, cache: c, sender: sender, timeout: AttemptTimeout}
}

// Query is the client-side metadata the server loop gathers before
// invoking the forwarder on a cache miss.
type Query struct {
	ClientAddr *net.UDPAddr
	ClientID   uint16
	Domain     string
	Raw        []byte // the original client datagram, unmodified
}

// Forward runs the attempt sequence starting at the pool's sticky index
// and walking forward without wrap-around. It returns once a reply has
// been sent to the client or every remaining upstream has been
// exhausted; in the latter case no reply is ever sent.
func (f *Forwarder) Forward(q Query) {
	start := f.pool.Sticky()

	for i := start; i < f.pool.Len(); i++ {
		if f.attempt(q, i) {
			return
		}
	}

	log.Sugar.Warnf("forwarder: all upstreams exhausted for %s", q.Domain)
}

// attempt runs one upstream try. It returns true iff a matching upstream
// reply was handed to the client sender; an error from that send is
// logged and still counts as success.
func (f *Forwarder) attempt(q Query, index int) bool {
	ep := f.pool.At(index)

	conn, err := resolver.Dial(ep)
	if err != nil {
		log.Sugar.Warnf("forwarder: dialing upstream %s (%s): %v", ep.Name, ep.Addr(), err)
		return false
	}
	defer func() { _ = conn.Close() }()

	if err = conn.SetDeadline(time.Now().Add(f.timeout)); err != nil {
		log.Sugar.Warnf("forwarder: setting deadline for %s: %v", ep.Name, err)
		return false
	}

	modified := append([]byte(nil), q.Raw...)
	fp := f.fingerprint(q)

	req := &model.PendingRequest{
		ClientIP:      q.ClientAddr.IP,
		ClientPort:    q.ClientAddr.Port,
		ClientQueryID: q.ClientID,
		Domain:        q.Domain,
		CreatedAt:     time.Now(),
		UpstreamIndex: index,
	}

	// Allocation and insertion are two separate table operations, so the ID
	// this attempt ends up owning can change between the two: a
	// concurrently-inserted entry may claim the allocated candidate first.
	// Insert reports that as ErrUpstreamIDCollision rather than silently
	// picking a replacement, so the ID is always re-written into modified
	// before the datagram carrying it is ever sent. The bytes on the wire
	// and the table's record of them must never diverge.
	for {
		req.UpstreamQueryID = f.table.AllocUpstreamID()
		if err = wire.WriteTransactionID(modified, req.UpstreamQueryID); err != nil {
			log.Sugar.Warnf("forwarder: rewriting transaction id: %v", err)
			return false
		}

		err = f.table.Insert(fp, req)
		if err == nil {
			break
		}
		if errors.Is(err, table.ErrUpstreamIDCollision) {
			continue
		}
		log.Sugar.Warnf("forwarder: inserting pending request: %v", err)
		return false
	}

	replyCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		raw, rerr := conn.Recv()
		if rerr != nil {
			errCh <- rerr
			return
		}
		replyCh <- raw
	}()

	if err = conn.Send(modified); err != nil {
		log.Sugar.Warnf("forwarder: sending to upstream %s: %v", ep.Name, err)
		f.table.Remove(fp)
		return false
	}

	select {
	case raw := <-replyCh:
		return f.handleReply(raw)

	case err := <-errCh:
		log.Sugar.Warnf("forwarder: reading from upstream %s: %v", ep.Name, err)
		f.table.Remove(fp)
		return false

	case <-time.After(f.timeout):
		log.Sugar.Infof("forwarder: attempt %d to %s timed out for %s", index, ep.Name, q.Domain)
		f.table.Remove(fp)
		return false
	}
}

// handleReply looks the upstream transaction ID up in the table; on a
// miss, it is an orphan and is dropped without disturbing any other
// in-flight request.
func (f *Forwarder) handleReply(raw []byte) bool {
	upstreamID, err := wire.ReadTransactionID(raw)
	if err != nil {
		log.Sugar.Warnf("forwarder: reply too short to carry a transaction id")
		return false
	}

	req, ok := f.table.LookupByUpstreamID(upstreamID)
	if !ok {
		log.Sugar.Warnf("forwarder: orphan reply for upstream id %s, dropping", wire.FormatID(upstreamID))
		return false
	}

	if err = wire.WriteTransactionID(raw, req.ClientQueryID); err != nil {
		log.Sugar.Warnf("forwarder: restoring client transaction id: %v", err)
		f.table.Remove(req.Fingerprint)
		return false
	}

	f.cache.PutAsync(req.Domain, raw, int(cache.ResponseTTL.Seconds()))

	clientAddr := &net.UDPAddr{IP: req.ClientIP, Port: req.ClientPort}
	if err = f.sender.SendToClient(raw, clientAddr); err != nil {
		log.Sugar.Warnf("forwarder: sending reply to client %s: %v", clientAddr, err)
	}

	f.table.Remove(req.Fingerprint)
	f.pool.SetSticky(req.UpstreamIndex)

	return true
}

// fingerprint derives this attempt's table handle.
func (f *Forwarder) fingerprint(q Query) string {
	seed := make([]byte, 8)
	_, _ = rand.Read(seed)

	return wire.Fingerprint(
		q.ClientAddr.IP,
		q.ClientAddr.Port,
		q.ClientID,
		q.Domain,
		time.Now(),
		f.counter.Add(1),
		seed,
	)
}
