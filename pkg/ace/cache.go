package ace

import (
	"bytes"
	"sync"
)

// defaultAID is the key used for rules that apply to the "default
// application selected" case (aid == nil on the client side).
var defaultAID = []byte{}

type ruleKey struct {
	aid  string
	hash string
}

func keyFor(aid, hash []byte) ruleKey {
	return ruleKey{aid: string(aid), hash: string(hash)}
}

// Cache is the Access Rule Cache (C7): a keyed store of (AID-ref, Hash-ref)
// -> ChannelAccess, plus the RefreshTag that gates reloads.
type Cache struct {
	mu          sync.RWMutex
	rules       map[ruleKey]ChannelAccess
	refreshTag  []byte
	initialized bool
}

// NewCache builds an empty, uninitialized Cache.
func NewCache() *Cache {
	return &Cache{rules: map[ruleKey]ChannelAccess{}}
}

// PutRule stores access for (aid, hash); a duplicate key overwrites the
// prior value (later write wins). aid == nil is treated as the default-
// application key; hash == nil is the wildcard "any hash" key.
func (c *Cache) PutRule(aid, hash []byte, access ChannelAccess) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if aid == nil {
		aid = defaultAID
	}
	c.rules[keyFor(aid, hash)] = access
	c.initialized = true
}

// Lookup resolves (aid, hashes) with the precedence from §3: specific AID +
// specific hash, specific AID + any hash, default-AID + specific hash,
// default-AID + any hash. A miss yields a default-DENIED ChannelAccess —
// lookups are total.
func (c *Cache) Lookup(aid []byte, hashes [][]byte) ChannelAccess {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if aid == nil {
		aid = defaultAID
	}

	for _, hash := range hashes {
		if access, ok := c.rules[keyFor(aid, hash)]; ok {
			return access
		}
	}
	if access, ok := c.rules[keyFor(aid, nil)]; ok {
		return access
	}
	if !bytes.Equal(aid, defaultAID) {
		for _, hash := range hashes {
			if access, ok := c.rules[keyFor(defaultAID, hash)]; ok {
				return access
			}
		}
		if access, ok := c.rules[keyFor(defaultAID, nil)]; ok {
			return access
		}
	}
	return Denied("no matching access rule")
}

// RefreshTag returns the currently cached RefreshTag, or nil if none.
func (c *Cache) RefreshTag() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshTag
}

// SetRefreshTag records tag as the cache's current RefreshTag.
func (c *Cache) SetRefreshTag(tag []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshTag = tag
}

// Initialized reports whether any rule has ever been loaded.
func (c *Cache) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Reset clears every rule and the RefreshTag. Called on SE state change.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = map[ruleKey]ChannelAccess{}
	c.refreshTag = nil
	c.initialized = false
}

// DumpRules flattens every stored rule into DumpRule rows for "secli rules
// dump"; the default-application AID key surfaces as a nil AID.
func (c *Cache) DumpRules() []DumpRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows := make([]DumpRule, 0, len(c.rules))
	for key, access := range c.rules {
		var aid []byte
		if key.aid != string(defaultAID) {
			aid = []byte(key.aid)
		}
		var hash []byte
		if key.hash != "" {
			hash = []byte(key.hash)
		}
		rows = append(rows, DumpRule{AID: aid, Hash: hash, Access: access})
	}
	return rows
}
