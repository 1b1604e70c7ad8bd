// Package cache is a thin façade over an external Redis-compatible
// key/value store. It is read-through for DNS responses and degrades to
// no-ops/misses whenever the backend is unavailable.
package cache

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/codeRisshi25/dns-forwarder/log"
)

// ResponseTTL is the fixed cache TTL applied to every cached response,
// independent of the TTL fields inside the cached answer itself.
const ResponseTTL = 300 * time.Second

const (
	keyPrefix     = "dns:"
	keyQueryCount = "dns:query_count"
	keyQueryHits  = "dns:query_hits"
	keyStartup    = "dns:startup"
)

// Client is the cache façade. A nil backend pool or a failed startup PING
// leaves Ready() false and every other call becomes a silent no-op/miss.
type Client struct {
	pool  *redis.Pool
	ready bool
}

// New dials addr (host:port) and probes it with PING. Backend failure is
// not fatal: the returned *Client is always usable, just with Ready()
// false and every subsequent cache call a silent no-op/miss.
func New(host string, port int) *Client {
	addr := fmt.Sprintf("%s:%d", host, port)

	pool := &redis.Pool{
		MaxIdle:     8,
		MaxActive:   64,
		IdleTimeout: 5 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr, redis.DialConnectTimeout(2*time.Second))
		},
	}

	c := &Client{pool: pool}

	conn, err := pool.Dial()
	if err != nil {
		log.Sugar.Warnf("cache: backend %s unavailable at startup: %v", addr, err)
		return c
	}
	defer func() { _ = conn.Close() }()

	if _, err = conn.Do("PING"); err != nil {
		log.Sugar.Warnf("cache: backend %s did not answer PING: %v", addr, err)
		return c
	}

	c.ready = true

	if _, err = conn.Do("SET", keyStartup, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Sugar.Warnf("cache: writing startup marker: %v", err)
	}

	return c
}

// Ready reports whether the backend accepted a liveness probe at init.
func (c *Client) Ready() bool {
	return c != nil && c.ready
}

func dnsKey(domain string) string {
	return keyPrefix + domain
}

// Get returns the cached response bytes for domain, or (nil, false) if
// absent, expired, or the backend is unavailable. It never returns an
// error to the caller: failures are logged at the call site and treated
// as a miss.
func (c *Client) Get(domain string) ([]byte, bool) {
	if !c.Ready() {
		return nil, false
	}

	conn := c.pool.Get()
	defer func() { _ = conn.Close() }()

	raw, err := redis.String(conn.Do("GET", dnsKey(domain)))
	if err != nil {
		if err != redis.ErrNil {
			log.Sugar.Warnf("cache: get %q: %v", domain, err)
		}
		return nil, false
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		log.Sugar.Warnf("cache: get %q: decoding value: %v", domain, err)
		return nil, false
	}

	return data, true
}

// Put best-effort writes value under dns:<domain> with a TTL in seconds.
// Failures are logged and swallowed.
func (c *Client) Put(domain string, value []byte, ttlSeconds int) {
	if !c.Ready() {
		return
	}

	conn := c.pool.Get()
	defer func() { _ = conn.Close() }()

	key := dnsKey(domain)
	encoded := base64.StdEncoding.EncodeToString(value)

	if _, err := conn.Do("SET", key, encoded); err != nil {
		log.Sugar.Warnf("cache: put %q: %v", domain, err)
		return
	}

	if _, err := conn.Do("EXPIRE", key, ttlSeconds); err != nil {
		log.Sugar.Warnf("cache: put %q: setting expiry: %v", domain, err)
	}
}

// PutAsync runs Put in its own goroutine so a slow or unavailable backend
// never delays the client reply.
func (c *Client) PutAsync(domain string, value []byte, ttlSeconds int) {
	go c.Put(domain, append([]byte(nil), value...), ttlSeconds)
}

// IncrQueries best-effort increments the total query counter.
func (c *Client) IncrQueries() {
	c.incr(keyQueryCount)
}

// IncrHits best-effort increments the cache-hit counter.
func (c *Client) IncrHits() {
	c.incr(keyQueryHits)
}

func (c *Client) incr(key string) {
	if !c.Ready() {
		return
	}

	conn := c.pool.Get()
	defer func() { _ = conn.Close() }()

	if _, err := conn.Do("INCR", key); err != nil {
		log.Sugar.Warnf("cache: incr %q: %v", key, err)
	}
}

// Close releases the backend connection pool.
func (c *Client) Close() error {
	if c == nil || c.pool == nil {
		return nil
	}
	return c.pool.Close()
}
