// Package throttle implements the three-tier write-credit hierarchy a
// connection draws from before each socket write: a per-connection
// magazine, refilled in bulk from a per-client-IP bucket, itself refilled
// in bulk from a shared pool whose aggregate byte rate is governed by a
// token-bucket limiter. Refilling in quanta rather than per byte is what
// lets many connections share a pool without contending on its counter for
// every write.
//
// Grounded on the throttle magazine accounting in
// _examples/original_source/src/main/connection.c (connection_cb's write
// path and li_connection_reset/li_connection_reset_keep_alive returning
// unused credit to the pool), with the token-bucket refill itself grounded
// on _examples/nishisan-dev-n-backup/internal/agent/throttle.go's
// golang.org/x/time/rate-backed writer.
package throttle

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	poolRefillBatch   = 64 * 1024
	ipRefillQuantum   = 16 * 1024
	connRefillQuantum = 4 * 1024

	// unlimitedCredit is deposited once into a Pool with no configured rate
	// so every tier above it can draw freely without a nil check on every
	// write.
	unlimitedCredit = int64(1) << 62
)

// Magazine is an atomic byte credit balance one tier draws from.
type Magazine struct {
	credit atomic.Int64
}

// Credit returns the current balance.
func (m *Magazine) Credit() int64 {
	return m.credit.Load()
}

// Take withdraws up to want bytes, returning how much was actually
// available (0 if the magazine is empty).
func (m *Magazine) Take(want int64) int64 {
	for {
		cur := m.credit.Load()
		if cur <= 0 || want <= 0 {
			return 0
		}
		grant := want
		if grant > cur {
			grant = cur
		}
		if m.credit.CompareAndSwap(cur, cur-grant) {
			return grant
		}
	}
}

// Deposit adds n bytes of credit.
func (m *Magazine) Deposit(n int64) {
	if n > 0 {
		m.credit.Add(n)
	}
}

// Return gives back credit that was taken but not spent, e.g. after a
// partial socket write consumed fewer bytes than WriteMax granted.
func (m *Magazine) Return(n int64) {
	m.Deposit(n)
}

// Drain withdraws and returns the entire balance, zeroing it.
func (m *Magazine) Drain() int64 {
	return m.credit.Swap(0)
}

// Pool is the top tier of the hierarchy: one per named throttle class
// (e.g. "default", a vhost's configured limit), shared by every worker.
// Its Magazine is refilled from a rate.Limiter on each worker tick instead
// of per byte.
type Pool struct {
	Name string
	Magazine

	limiter *rate.Limiter
}

// NewPool creates a pool. bytesPerSec <= 0 means unlimited: the pool's
// magazine is seeded once with effectively infinite credit and never needs
// refilling.
func NewPool(name string, bytesPerSec int64) *Pool {
	p := &Pool{Name: name}
	if bytesPerSec <= 0 {
		p.Magazine.Deposit(unlimitedCredit)
		return p
	}
	burst := bytesPerSec
	if burst < poolRefillBatch {
		burst = poolRefillBatch
	}
	p.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), int(burst))
	return p
}

// Tick draws whatever the token bucket currently allows, up to
// poolRefillBatch, into the pool's shared credit. A no-op for unlimited
// pools.
func (p *Pool) Tick(now time.Time) {
	if p.limiter == nil {
		return
	}
	avail := p.limiter.TokensAt(now)
	if avail <= 0 {
		return
	}
	grant := int64(avail)
	if grant > poolRefillBatch {
		grant = poolRefillBatch
	}
	if grant <= 0 {
		return
	}
	if p.limiter.AllowN(now, int(grant)) {
		p.Magazine.Deposit(grant)
	}
}

// IPBucket is the middle tier: one per client IP sharing a Pool. It refills
// itself from the pool in ipRefillQuantum-sized draws.
type IPBucket struct {
	Magazine
	pool *Pool
}

// NewIPBucket creates a bucket drawing from pool. pool may be nil, meaning
// throttling is disabled for this bucket's connections.
func NewIPBucket(pool *Pool) *IPBucket {
	return &IPBucket{pool: pool}
}

// Take withdraws up to want bytes, refilling from the pool tier once if the
// bucket's own credit is insufficient.
func (b *IPBucket) Take(want int64) int64 {
	got := b.Magazine.Take(want)
	if got < want && b.pool != nil {
		b.Magazine.Deposit(b.pool.Take(ipRefillQuantum))
		got += b.Magazine.Take(want - got)
	}
	return got
}

// ConnMagazine is the finest tier: one per connection, refilled from its
// IPBucket in connRefillQuantum-sized draws.
type ConnMagazine struct {
	Magazine
	ip *IPBucket
}

// NewConnMagazine creates a connection magazine drawing from ip. ip may be
// nil, meaning throttling is disabled for this connection.
func NewConnMagazine(ip *IPBucket) *ConnMagazine {
	return &ConnMagazine{ip: ip}
}

// WriteMax returns how many of the requested bytes the connection may write
// right now, refilling from the IP (and transitively pool) tier if its own
// credit is exhausted. A result smaller than want throttles the write
// without it being an error; the caller should arm a retry rather than
// treat it as end of data.
func (c *ConnMagazine) WriteMax(want int64) int64 {
	if c.ip == nil {
		return want
	}
	got := c.Magazine.Take(want)
	if got < want {
		c.Magazine.Deposit(c.ip.Take(connRefillQuantum))
		got += c.Magazine.Take(want - got)
	}
	return got
}

// ReturnToPool flushes any remaining connection-level credit back up to the
// IP bucket, called from connection reset/free so unused credit is not
// leaked when a connection is reused or torn down.
func (c *ConnMagazine) ReturnToPool() {
	if c.ip == nil {
		return
	}
	if n := c.Magazine.Drain(); n > 0 {
		c.ip.Magazine.Deposit(n)
	}
}

// Manager owns the named pools and per-IP buckets shared across all of an
// engine's workers.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
	ips   map[string]*IPBucket
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		pools: make(map[string]*Pool),
		ips:   make(map[string]*IPBucket),
	}
}

// Pool returns the named pool, creating it with the given rate if it does
// not exist yet. bytesPerSec is only consulted on first creation.
func (m *Manager) Pool(name string, bytesPerSec int64) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[name]; ok {
		return p
	}
	p := NewPool(name, bytesPerSec)
	m.pools[name] = p
	return p
}

// IPBucket returns the bucket for ip within the named pool, creating it if
// necessary. The pool must already exist (via Pool).
func (m *Manager) IPBucket(poolName, ip string) *IPBucket {
	key := poolName + "|" + ip
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.ips[key]; ok {
		return b
	}
	b := NewIPBucket(m.pools[poolName])
	m.ips[key] = b
	return b
}

// Tick refills every pool's magazine from its rate limiter. Intended to be
// called once per worker tick from a single designated goroutine.
func (m *Manager) Tick(now time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pools {
		p.Tick(now)
	}
}
