// Package server implements the UDP listener loop: a single-reader
// goroutine over the listening socket, a WaitGroup-tracked in-flight
// set, and graceful two-phase shutdown driven by signals.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeRisshi25/dns-forwarder/cache"
	"github.com/codeRisshi25/dns-forwarder/forwarder"
	"github.com/codeRisshi25/dns-forwarder/localzone"
	"github.com/codeRisshi25/dns-forwarder/log"
	"github.com/codeRisshi25/dns-forwarder/table"
	"github.com/codeRisshi25/dns-forwarder/upstream"
	"github.com/codeRisshi25/dns-forwarder/wire"
)

// StatsInterval is how often the optional stats log runs.
const StatsInterval = 300 * time.Second

// maxDatagramSize is the inbound read buffer size; larger than the
// nominal 512-octet DNS-over-UDP limit so EDNS(0)-sized client datagrams
// aren't truncated on read, even though the core never negotiates
// EDNS(0) itself.
const maxDatagramSize = 4096

// Server owns the listening socket and wires the cache, local zone, and
// forwarder together on every inbound datagram.
type Server struct {
	conn *net.UDPConn

	cache     *cache.Client
	zone      *localzone.Zone
	table     *table.Table
	pool      *upstream.Pool
	forwarder *forwarder.Forwarder

	wg     sync.WaitGroup
	status atomic.Bool

	cancel context.CancelFunc
}

// New binds the listening socket and wires up the request table, cache
// client, local zone, and forwarder.
func New(bindAddr net.IP, port int, c *cache.Client, zone *localzone.Zone, pool *upstream.Pool) (*Server, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: bindAddr, Port: port})
	if err != nil {
		return nil, err
	}

	s := &Server{
		conn:  conn,
		cache: c,
		zone:  zone,
		table: table.New(),
		pool:  pool,
	}
	s.forwarder = forwarder.New(pool, s.table, c, s)

	return s, nil
}

// SendToClient implements forwarder.ClientSender. net.UDPConn's
// read/write paths use independent locking internally, so this is safe
// to call concurrently with the read loop.
func (s *Server) SendToClient(raw []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(raw, addr)
	return err
}

// Start launches the read loop and the periodic sweep/stats jobs.
func (s *Server) Start(ctx context.Context) {
	s.status.Store(true)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.read()
	go s.sweepLoop(ctx)
	go s.statsLoop(ctx)

	log.Sugar.Info("server: running")
}

// Stop drains in-flight work and closes the listening socket. It logs the
// number of pending entries dropped; no failure indications are sent to
// clients for dropped work.
func (s *Server) Stop() {
	log.Sugar.Info("server: stopping")
	s.status.Store(false)
	if s.cancel != nil {
		s.cancel()
	}

	_ = s.conn.Close()
	s.wg.Wait()

	pending, _ := s.table.Stats()
	log.Sugar.Infof("server: stopped, dropping %d pending entries", pending)
}

func (s *Server) read() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Sugar.Info("server: listening socket closed, read loop exiting")
				return
			}
			log.Sugar.Warnf("server: read error: %v", err)
			continue
		}

		if n == 0 {
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleDatagram(packet, remote)
		}()
	}
}

func (s *Server) handleDatagram(packet []byte, remote *net.UDPAddr) {
	clientID, err := wire.ReadTransactionID(packet)
	if err != nil {
		log.Sugar.Warnf("server: malformed query from %s: %v", remote, err)
		return
	}

	domain, err := wire.ExtractQName(packet)
	if err != nil {
		log.Sugar.Warnf("server: malformed query from %s: %v", remote, err)
		return
	}

	s.cache.IncrQueries()

	if s.zone != nil {
		if qtype, ok := questionType(packet); ok {
			if rrs, hit := s.zone.Lookup(domain, qtype); hit {
				reply, serr := localzone.Synthesize(packet, rrs)
				if serr != nil {
					log.Sugar.Warnf("server: synthesizing local-zone reply for %s: %v", domain, serr)
					return
				}
				_ = s.SendToClient(reply, remote)
				return
			}
		}
	}

	if cached, ok := s.cache.Get(domain); ok {
		reply := append([]byte(nil), cached...)
		_ = wire.WriteTransactionID(reply, clientID)
		if err = s.SendToClient(reply, remote); err != nil {
			log.Sugar.Warnf("server: sending cached reply to %s: %v", remote, err)
		}
		s.cache.IncrHits()
		return
	}

	s.forwarder.Forward(forwarder.Query{
		ClientAddr: remote,
		ClientID:   clientID,
		Domain:     domain,
		Raw:        packet,
	})
}

// questionType reads the single question's QTYPE field so the local-zone
// check can match by type as well as name. It never uses the full
// miekg/dns unpacker on the hot path; just enough of the wire format to
// find the QTYPE that follows the QNAME.
func questionType(packet []byte) (uint16, bool) {
	const headerSize = 12
	i := headerSize
	for {
		if i >= len(packet) {
			return 0, false
		}
		length := int(packet[i])
		if length == 0 {
			i++
			break
		}
		i += 1 + length
	}
	if i+2 > len(packet) {
		return 0, false
	}
	return uint16(packet[i])<<8 | uint16(packet[i+1]), true
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(table.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			swept := s.table.Sweep(table.StaleThreshold)
			if swept > 0 {
				log.Sugar.Infof("server: swept %d stale pending entries", swept)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pending, upstreamCount := s.table.Stats()
			log.Sugar.Infof("server: stats pending=%d upstream=%d sticky=%d", pending, upstreamCount, s.pool.Sticky())
		case <-ctx.Done():
			return
		}
	}
}

