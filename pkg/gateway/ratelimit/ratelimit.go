// Package ratelimit admits live sessions: a connect rate per remote address
// and a concurrent session cap per farmer identity.
package ratelimit

import (
	"math"
	"net"
	"strings"
	"sync"
	"time"
)

type Config struct {
	ConnectRPS   float64
	ConnectBurst int

	MaxSessionsPerIdentity int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*keyLimiter
}

type keyLimiter struct {
	mu sync.Mutex

	tb tokenBucket

	sessionSem chan struct{}

	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*keyLimiter),
	}
}

// RemoteKey reduces an http.Request RemoteAddr to its host.
func RemoteKey(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AllowConnect spends one connect token for remote.
func (l *Limiter) AllowConnect(remote string, now time.Time) Decision {
	if l == nil || l.cfg.ConnectRPS <= 0 || l.cfg.ConnectBurst <= 0 {
		return Decision{Allowed: true}
	}
	if remote == "" {
		remote = "unknown"
	}

	kl := l.getOrCreate("remote:"+remote, now)
	ok, retryAfter := kl.allowToken(now, l.cfg.ConnectRPS, l.cfg.ConnectBurst)
	if !ok {
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}
	return Decision{Allowed: true}
}

// AcquireSession takes one of identity's session slots. The permit must be
// released when the session ends.
func (l *Limiter) AcquireSession(identity string, now time.Time) Decision {
	if l == nil || l.cfg.MaxSessionsPerIdentity <= 0 {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}

	kl := l.getOrCreate("identity:"+identity, now)
	select {
	case kl.sessionSem <- struct{}{}:
		return Decision{
			Allowed: true,
			Permit:  &Permit{release: func() { <-kl.sessionSem }},
		}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

func (l *Limiter) getOrCreate(key string, now time.Time) *keyLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one idle entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k, v := range l.m {
				if len(v.sessionSem) == 0 {
					delete(l.m, k)
					break
				}
			}
		}
	}

	if kl, ok := l.m[key]; ok {
		kl.touch(now)
		return kl
	}
	kl := &keyLimiter{
		sessionSem: make(chan struct{}, max(1, l.cfg.MaxSessionsPerIdentity)),
		lastSeen:   now,
	}
	l.m[key] = kl
	return kl
}

// gcLocked drops expired entries. Entries holding session slots are kept so
// the cap survives collection.
func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if len(v.sessionSem) == 0 && now.Sub(v.seen()) > ttl {
			delete(l.m, k)
		}
	}
}

func (kl *keyLimiter) touch(now time.Time) {
	kl.mu.Lock()
	kl.lastSeen = now
	kl.mu.Unlock()
}

func (kl *keyLimiter) seen() time.Time {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return kl.lastSeen
}

func (kl *keyLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	if burst <= 0 || rps <= 0 {
		return true, 0
	}
	capacity := float64(burst)
	if kl.tb.capacity == 0 {
		kl.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}

	elapsed := now.Sub(kl.tb.last).Seconds()
	if elapsed > 0 {
		kl.tb.tokens = math.Min(kl.tb.capacity, kl.tb.tokens+(elapsed*kl.tb.rps))
		kl.tb.last = now
	}

	if kl.tb.tokens >= 1.0 {
		kl.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - kl.tb.tokens
	retryAfter := int(math.Ceil(needed / kl.tb.rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
