package server

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/metrics"
)

// RateLimiter enforces the two sliding windows (connections per IP,
// messages per connection) and owns the permanent blacklist. Banned IPs
// persist append-only across restarts.
type RateLimiter struct {
	mu sync.Mutex

	window        time.Duration
	connThreshold int
	msgThreshold  int

	ipHits   map[string][]time.Time
	connHits map[net.Conn][]time.Time
	banned   map[string]bool

	banFile string
	logger  *logrus.Logger
}

// NewRateLimiter loads any previously banned IPs from banFile. A missing
// file just means a clean slate.
func NewRateLimiter(window time.Duration, connThreshold, msgThreshold int, banFile string, logger *logrus.Logger) (*RateLimiter, error) {
	r := &RateLimiter{
		window:        window,
		connThreshold: connThreshold,
		msgThreshold:  msgThreshold,
		ipHits:        make(map[string][]time.Time),
		connHits:      make(map[net.Conn][]time.Time),
		banned:        make(map[string]bool),
		banFile:       banFile,
		logger:        logger,
	}
	if err := r.loadBans(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RateLimiter) loadBans() error {
	f, err := os.Open(r.banFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ratelimit: open %s: %w", r.banFile, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ip := strings.TrimSpace(scanner.Text())
		if ip != "" {
			r.banned[ip] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ratelimit: read %s: %w", r.banFile, err)
	}
	r.logger.WithField("count", len(r.banned)).Info("Loaded banned IP list")
	return nil
}

// IsBanned reports whether ip is permanently blacklisted.
func (r *RateLimiter) IsBanned(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.banned[ip]
}

// RecordConnection notes a new connection from ip and reports whether the
// IP just crossed the threshold and got banned. On a ban the IP's window
// is dropped and the blacklist file is appended to.
func (r *RateLimiter) RecordConnection(ip string) (bannedNow bool) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	hits := prune(append(r.ipHits[ip], now), now, r.window)
	if len(hits) > r.connThreshold {
		r.banned[ip] = true
		delete(r.ipHits, ip)
		r.persistBan(ip)
		metrics.BannedIPsTotal.Inc()
		r.logger.WithField("ip", ip).Warn("IP banned for connection flooding")
		return true
	}
	r.ipHits[ip] = hits
	return false
}

// persistBan appends one line to the blacklist file. Caller holds r.mu.
func (r *RateLimiter) persistBan(ip string) {
	f, err := os.OpenFile(r.banFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.WithError(err).Error("Could not open blacklist file for append")
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, ip); err != nil {
		r.logger.WithError(err).Error("Could not persist banned IP")
	}
}

// RecordMessage notes one message from conn and reports whether the
// connection is over its per-window limit.
func (r *RateLimiter) RecordMessage(conn net.Conn) (over bool) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	hits := prune(append(r.connHits[conn], now), now, r.window)
	r.connHits[conn] = hits
	return len(hits) > r.msgThreshold
}

// DropConn forgets the message window of a closed connection.
func (r *RateLimiter) DropConn(conn net.Conn) {
	r.mu.Lock()
	delete(r.connHits, conn)
	r.mu.Unlock()
}

// GC evicts expired timestamps from both windows.
func (r *RateLimiter) GC() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for ip, hits := range r.ipHits {
		hits = prune(hits, now, r.window)
		if len(hits) == 0 {
			delete(r.ipHits, ip)
		} else {
			r.ipHits[ip] = hits
		}
	}
	for conn, hits := range r.connHits {
		hits = prune(hits, now, r.window)
		if len(hits) == 0 {
			delete(r.connHits, conn)
		} else {
			r.connHits[conn] = hits
		}
	}
}

// prune drops timestamps older than the window.
func prune(hits []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(hits); i++ {
		if hits[i].After(cutoff) {
			break
		}
	}
	return hits[i:]
}
