// Package ratelimit throttles model-backed theme generation per user and per
// client address.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

const (
	window        = time.Hour
	sweepInterval = 5 * time.Minute
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config sets the generation limits. A zero hourly limit disables that check.
type Config struct {
	Cooldown          time.Duration
	MaxPerUserPerHour int
	MaxPerIPPerHour   int

	// Clock defaults to the system clock.
	Clock Clock
}

func DefaultConfig() *Config {
	return &Config{
		Cooldown:          2 * time.Second,
		MaxPerUserPerHour: 120,
		MaxPerIPPerHour:   600,
	}
}

// Decision is the answer to a single generation attempt.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string
}

func deny(retryAfter time.Duration, reason string) Decision {
	return Decision{RetryAfter: retryAfter, Reason: reason}
}

// bucket counts accepted generations in the hour starting at start.
type bucket struct {
	start time.Time
	last  time.Time
	count int
}

func (b *bucket) used(now time.Time) int {
	if b == nil || now.Sub(b.start) >= window {
		return 0
	}
	return b.count
}

func (b *bucket) resetIn(now time.Time) time.Duration {
	return b.start.Add(window).Sub(now)
}

func (b *bucket) hit(now time.Time) *bucket {
	if b == nil || now.Sub(b.start) >= window {
		return &bucket{start: now, last: now, count: 1}
	}
	b.count++
	b.last = now
	return b
}

// Limiter keeps in-memory hourly buckets keyed by a digest of the user id or
// client address, so raw identifiers are never held.
type Limiter struct {
	cfg   Config
	clock Clock

	mu    sync.Mutex
	users map[string]*bucket
	addrs map[string]*bucket

	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	l := &Limiter{
		cfg:   *cfg,
		clock: clock,
		users: make(map[string]*bucket),
		addrs: make(map[string]*bucket),
		stop:  make(chan struct{}),
	}
	l.startSweeper()
	return l
}

// Allow decides and, when allowed, records the attempt under one lock.
// User ids are compared case-insensitively.
func (l *Limiter) Allow(userID, ip string) Decision {
	now := l.clock.Now()
	userKey := digest("user", strings.ToLower(strings.TrimSpace(userID)))
	addrKey := digest("addr", strings.TrimSpace(ip))

	l.mu.Lock()
	defer l.mu.Unlock()

	user, addr := l.users[userKey], l.addrs[addrKey]
	if user != nil && l.cfg.Cooldown > 0 {
		if wait := l.cfg.Cooldown - now.Sub(user.last); wait > 0 {
			return deny(wait, "cooldown")
		}
	}
	if limit := l.cfg.MaxPerUserPerHour; limit > 0 && user.used(now) >= limit {
		return deny(user.resetIn(now), "hourly_limit")
	}
	if limit := l.cfg.MaxPerIPPerHour; limit > 0 && addr.used(now) >= limit {
		return deny(addr.resetIn(now), "ip_hourly_limit")
	}

	l.users[userKey] = user.hit(now)
	l.addrs[addrKey] = addr.hit(now)
	return Decision{Allowed: true}
}

// Close stops the background sweeper. It is safe to call more than once and
// concurrently with Allow; a closed limiter keeps answering without sweeping.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
}

func (l *Limiter) startSweeper() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

// sweep drops buckets idle for longer than a window.
func (l *Limiter) sweep() {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, buckets := range []map[string]*bucket{l.users, l.addrs} {
		for key, b := range buckets {
			if now.Sub(b.last) > window {
				delete(buckets, key)
			}
		}
	}
}

func digest(kind, value string) string {
	sum := sha256.Sum256([]byte(kind + ":" + value))
	return hex.EncodeToString(sum[:8])
}

// MaskIdentifier keeps the first and last two characters of an identifier
// for logs.
func MaskIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if len(identifier) > 4 {
		return identifier[:2] + "***" + identifier[len(identifier)-2:]
	}
	return "***"
}
