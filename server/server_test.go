package server

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeRisshi25/dns-forwarder/cache"
	"github.com/codeRisshi25/dns-forwarder/localzone"
	"github.com/codeRisshi25/dns-forwarder/log"
	"github.com/codeRisshi25/dns-forwarder/upstream"
)

func TestMain(m *testing.M) {
	if log.Sugar == nil {
		if err := log.Init(log.Config{STDOUT: true, Level: int8(2)}); err != nil {
			panic(err)
		}
	}
	os.Exit(m.Run())
}

// testRedisPortEnvVar gates the live-backend scenario below, matching
// cache.testRedisPortEnvVar; skip the test rather than import an
// unexported constant across packages.
const testRedisPortEnvVar = "TEST_REDIS_PORT"

func newLiveCache(t *testing.T) *cache.Client {
	t.Helper()

	portStr := os.Getenv(testRedisPortEnvVar)
	if portStr == "" {
		t.Skipf("skipping; %s is not set", testRedisPortEnvVar)
	}

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := cache.New("127.0.0.1", port)
	require.True(t, c.Ready(), "backend at TEST_REDIS_PORT must be reachable")
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func loadTestZone(t *testing.T, contents string) *localzone.Zone {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "zone.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	z, err := localzone.Load(path)
	require.NoError(t, err)
	return z
}

func newTestServer(t *testing.T, zone *localzone.Zone, pool *upstream.Pool) (*Server, *net.UDPConn) {
	t.Helper()

	c := cache.New("127.0.0.1", 1) // unreachable on purpose, degrades to no-ops
	srv, err := New(net.ParseIP("127.0.0.1"), 0, c, zone, pool)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.conn.Close() })

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return srv, client
}

func buildQuery(id uint16, name string, qtype uint16) []byte {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.Id = id
	raw, _ := m.Pack()
	return raw
}

func TestHandleDatagramLocalZoneHit(t *testing.T) {
	zone := loadTestZone(t, `[
		{"name": "router.home", "type": "A", "ttl": 60, "value": ["192.168.1.1"]}
	]`)

	srv, client := newTestServer(t, zone, upstream.New(nil))

	remote := client.LocalAddr().(*net.UDPAddr)
	query := buildQuery(0x1234, "router.home", dns.TypeA)

	srv.handleDatagram(query, remote)

	buf := make([]byte, 512)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := client.ReadFromUDP(buf)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(buf[:n]))
	assert.Equal(t, uint16(0x1234), resp.Id)
	require.Len(t, resp.Answer, 1)
}

// TestHandleDatagramCacheHit covers the literal cache-hit scenario: a
// precondition entry under dns:example.com, a client query carrying its
// own transaction id, and an expectation that the reply comes back
// under that id with no upstream ever contacted. The pool is empty on
// purpose: if handleDatagram fell through to the forwarder instead of
// answering from cache, nothing would ever reach the client and the
// read below would time out.
func TestHandleDatagramCacheHit(t *testing.T) {
	c := newLiveCache(t)

	want := buildQuery(0, "example.com", dns.TypeA)
	c.Put("example.com", want, 300)

	srv, err := New(net.ParseIP("127.0.0.1"), 0, c, localzone.Empty(), upstream.New(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.conn.Close() })

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	remote := client.LocalAddr().(*net.UDPAddr)

	query := buildQuery(0x5678, "example.com", dns.TypeA)
	srv.handleDatagram(query, remote)

	buf := make([]byte, 512)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := client.ReadFromUDP(buf)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(buf[:n]))
	assert.Equal(t, uint16(0x5678), resp.Id)
}

func TestHandleDatagramMalformedQueryIsDropped(t *testing.T) {
	srv, client := newTestServer(t, localzone.Empty(), upstream.New(nil))
	remote := client.LocalAddr().(*net.UDPAddr)

	srv.handleDatagram([]byte{0x00}, remote)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	buf := make([]byte, 512)
	_, _, err := client.ReadFromUDP(buf)
	assert.Error(t, err) // nothing was ever sent
}

func TestHandleDatagramNoUpstreamsIsSilent(t *testing.T) {
	srv, client := newTestServer(t, localzone.Empty(), upstream.New(nil))
	remote := client.LocalAddr().(*net.UDPAddr)

	query := buildQuery(0xABCD, "example.com", dns.TypeA)
	srv.handleDatagram(query, remote)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	buf := make([]byte, 512)
	_, _, err := client.ReadFromUDP(buf)
	assert.Error(t, err)
}

func TestQuestionType(t *testing.T) {
	query := buildQuery(1, "example.com", dns.TypeAAAA)
	qtype, ok := questionType(query)
	require.True(t, ok)
	assert.Equal(t, dns.TypeAAAA, qtype)
}
