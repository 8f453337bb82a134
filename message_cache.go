package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// MessageCache remembers the hashes of recently processed requests so that a
// client retry inside the expiry window is rejected instead of applied twice.
// Entries past their TTL count as absent immediately; they are physically
// removed by a sweep that piggybacks on Add at most once per TTL, so an idle
// cache keeps its last contents around but never grows unbounded.
type MessageCache struct {
	mu        sync.RWMutex
	seen      map[string]time.Time // hash -> expiry
	ttl       time.Duration
	lastSweep time.Time
}

func NewMessageCache(ttl time.Duration) *MessageCache {
	return &MessageCache{
		seen:      make(map[string]time.Time),
		ttl:       ttl,
		lastSweep: time.Now(),
	}
}

// Add records a message hash, expiring one TTL from now. When the last sweep
// is older than one TTL it also drops every entry that has already lapsed.
func (mc *MessageCache) Add(hash string) {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.seen[hash] = now.Add(mc.ttl)

	if now.Sub(mc.lastSweep) < mc.ttl {
		return
	}
	for h, expiry := range mc.seen {
		if now.After(expiry) {
			delete(mc.seen, h)
		}
	}
	mc.lastSweep = now
}

// Exists reports whether the hash was recorded less than one TTL ago.
func (mc *MessageCache) Exists(hash string) bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	expiry, ok := mc.seen[hash]
	return ok && time.Now().Before(expiry)
}

// HashMessage generates a unique hash for an RPC request using SHA-256 over
// its canonical array encoding [request_id, method, params, ts]. A client
// retry of the same request therefore maps to the same hash, while any change
// to the request id, payload or timestamp yields a fresh one. Map keys
// marshal in sorted order, so the encoding is stable for identical params.
func HashMessage(msg *RPCMessage) string {
	if msg == nil || msg.Req == nil {
		return ""
	}

	raw, err := json.Marshal(msg.Req)
	if err != nil {
		return ""
	}

	hash := sha256.Sum256(raw)
	return hex.EncodeToString(hash[:])
}
