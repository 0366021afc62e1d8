package throttle

import (
	"testing"
	"time"
)

func TestMagazineTakeAndDeposit(t *testing.T) {
	var m Magazine
	m.Deposit(100)

	if got := m.Take(40); got != 40 {
		t.Fatalf("Take(40) = %d, want 40", got)
	}
	if got := m.Credit(); got != 60 {
		t.Fatalf("Credit() = %d, want 60", got)
	}
	if got := m.Take(1000); got != 60 {
		t.Fatalf("Take(1000) over-budget = %d, want 60 (all remaining)", got)
	}
	if got := m.Take(1); got != 0 {
		t.Fatalf("Take(1) on empty magazine = %d, want 0", got)
	}
}

func TestMagazineReturnAndDrain(t *testing.T) {
	var m Magazine
	m.Deposit(10)
	m.Take(10)
	m.Return(4)

	if got := m.Credit(); got != 4 {
		t.Fatalf("Credit() after Return = %d, want 4", got)
	}
	if got := m.Drain(); got != 4 {
		t.Fatalf("Drain() = %d, want 4", got)
	}
	if got := m.Credit(); got != 0 {
		t.Fatalf("Credit() after Drain = %d, want 0", got)
	}
}

func TestUnlimitedPoolNeverThrottles(t *testing.T) {
	p := NewPool("unlimited", 0)
	if got := p.Take(1 << 40); got != 1<<40 {
		t.Fatalf("Take on unlimited pool = %d, want full grant", got)
	}
}

func TestPoolTickRefillsFromLimiter(t *testing.T) {
	p := NewPool("limited", 1000)
	now := time.Unix(0, 0)

	p.Tick(now)
	if p.Credit() == 0 {
		t.Fatal("expected Tick to deposit some credit from a fresh limiter's burst")
	}
}

func TestIPBucketRefillsFromPool(t *testing.T) {
	pool := NewPool("p", 0) // unlimited, so Take always succeeds
	b := NewIPBucket(pool)

	got := b.Take(100)
	if got != 100 {
		t.Fatalf("IPBucket.Take(100) = %d, want 100 (refilled from unlimited pool)", got)
	}
}

func TestIPBucketNilPoolMeansNoRefill(t *testing.T) {
	b := NewIPBucket(nil)
	if got := b.Take(10); got != 0 {
		t.Fatalf("Take on empty bucket with nil pool = %d, want 0", got)
	}
}

func TestConnMagazineNilIPDisablesThrottling(t *testing.T) {
	c := NewConnMagazine(nil)
	if got := c.WriteMax(12345); got != 12345 {
		t.Fatalf("WriteMax with nil IP bucket = %d, want full request (throttling disabled)", got)
	}
}

func TestConnMagazineDrawsThroughHierarchy(t *testing.T) {
	pool := NewPool("p", 0)
	ip := NewIPBucket(pool)
	c := NewConnMagazine(ip)

	got := c.WriteMax(1000)
	if got != 1000 {
		t.Fatalf("WriteMax = %d, want 1000 (unlimited pool behind it)", got)
	}
}

func TestConnMagazineReturnToPool(t *testing.T) {
	pool := NewPool("p", 0)
	ip := NewIPBucket(pool)
	c := NewConnMagazine(ip)

	c.Magazine.Deposit(500)
	c.ReturnToPool()

	if got := c.Credit(); got != 0 {
		t.Fatalf("Credit() after ReturnToPool = %d, want 0", got)
	}
	if got := ip.Credit(); got != 500 {
		t.Fatalf("ip.Credit() after ReturnToPool = %d, want 500", got)
	}
}

func TestManagerPoolIsSingleton(t *testing.T) {
	m := NewManager()
	p1 := m.Pool("default", 1000)
	p2 := m.Pool("default", 999999) // rate ignored on second call
	if p1 != p2 {
		t.Fatal("expected the same pool instance to be returned")
	}
}

func TestManagerIPBucketSharesPool(t *testing.T) {
	m := NewManager()
	m.Pool("default", 0)

	b1 := m.IPBucket("default", "10.0.0.1")
	b2 := m.IPBucket("default", "10.0.0.1")
	b3 := m.IPBucket("default", "10.0.0.2")

	if b1 != b2 {
		t.Fatal("expected the same IP bucket instance for the same IP")
	}
	if b1 == b3 {
		t.Fatal("expected distinct buckets for distinct IPs")
	}
}

func TestManagerTick(t *testing.T) {
	m := NewManager()
	p := m.Pool("default", 1000)
	m.Tick(time.Unix(0, 0))

	if p.Credit() == 0 {
		t.Fatal("expected Manager.Tick to refill the pool")
	}
}
