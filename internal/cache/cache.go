// Package cache implements the two process-wide bounded caches the USM
// pipeline relies on: localized-key memoization and per-engine replay
// state. Both are capacity- and idle-time-bounded, matching the original
// moka-backed caches this system was distilled from.
package cache

import (
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/snmpworks/trapd/internal/usm"
)

const (
	cacheCapacity  = 10_000
	keyCacheTTI    = 1 * time.Hour
	engineCacheTTI = 24 * time.Hour
)

// keyCacheKey is built from the auth protocol and the exact (password,
// engineID) byte pair — never from a hash of the passphrase alone — so cache poisoning across
// engines sharing a passphrase prefix is structurally impossible.
type keyCacheKey string

func makeKeyCacheKey(proto usm.AuthProtocol, password, engineID []byte) keyCacheKey {
	return keyCacheKey(hex.EncodeToString([]byte{byte(proto)}) + ":" + hex.EncodeToString(password) + ":" + hex.EncodeToString(engineID))
}

// KeyCache memoizes Localize results.
type KeyCache struct {
	lru *lru.LRU[keyCacheKey, []byte]
}

func NewKeyCache() *KeyCache {
	return &KeyCache{lru: lru.NewLRU[keyCacheKey, []byte](cacheCapacity, nil, keyCacheTTI)}
}

// Localize returns the memoized localized key for (proto, password,
// engineID), computing and storing it on a miss. The cached call is
// indistinguishable from the uncached call (testable property 2).
func (c *KeyCache) Localize(proto usm.AuthProtocol, password, engineID []byte) ([]byte, error) {
	key := makeKeyCacheKey(proto, password, engineID)
	if v, ok := c.lru.Get(key); ok {
		c.lru.Add(key, v) // refresh the expiry so it counts from last use
		return v, nil
	}
	localized, err := usm.Localize(proto, password, engineID)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, localized)
	return localized, nil
}

// EngineState is the last-observed timeliness state for a remote engine.
type EngineState struct {
	Boots        uint32
	Time         uint32
	ObservedWall time.Time
}

// EngineCache tracks per-engine (boots, time, wall-clock-at-observation)
// for the timeliness check in RFC 3414 §3.2 step 7.
type EngineCache struct {
	mu  sync.Mutex
	lru *lru.LRU[string, EngineState]
}

func NewEngineCache() *EngineCache {
	return &EngineCache{lru: lru.NewLRU[string, EngineState](cacheCapacity, nil, engineCacheTTI)}
}

// Get returns the stored state for engineID, if any.
func (c *EngineCache) Get(engineID []byte) (EngineState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.lru.Get(string(engineID))
	if ok {
		c.lru.Add(string(engineID), state) // refresh the expiry so it counts from last use
	}
	return state, ok
}

// Update installs (boots, observedTime, now) for engineID, enforcing that
// a writer never regresses the stored boots value even under concurrent
// updates from the same engine (§5's "last writer wins, monotonic boots
// enforcement" policy) — implemented as a lock-held compare instead of a
// lock-free CAS loop because golang-lru's LRU is not atomic-swap capable,
// but the externally observable semantics match: no caller ever sees a
// boots regression.
func (c *EngineCache) Update(engineID []byte, boots, observedTime uint32, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := string(engineID)
	if existing, ok := c.lru.Get(key); ok && existing.Boots > boots {
		return
	}
	c.lru.Add(key, EngineState{Boots: boots, Time: observedTime, ObservedWall: now})
}
