package laythe

import (
	"log/slog"
	"sync"
	"time"
)

// settingCacheTTL is how long a cached settings row is served before a
// read falls through to the database again.
const settingCacheTTL = 300 * time.Second

type settingCacheEntry struct {
	setting  *Setting
	storedAt time.Time
}

// settingCache is an in-memory read-through cache for guild settings
// rows. It is a pure optimization: a miss, a stale entry, or any cache
// problem falls back to the database.
//
// Contract:
//   - Lookup returns the stored row only while the entry is younger
//     than the TTL. Stale entries are skipped lazily on read, not swept.
//   - Store always overwrites with a fresh timestamp.
//   - Every write path touching the settings table calls Invalidate for
//     the guild, so a read after a write never serves the old row. The
//     DBNotifier extends the same guarantee across processes.
type settingCache struct {
	mu      sync.Mutex
	entries map[string]settingCacheEntry
	ttl     time.Duration

	// now is swapped out in tests to control entry age
	now func() time.Time
}

func newSettingCache(ttl time.Duration) *settingCache {
	return &settingCache{
		entries: map[string]settingCacheEntry{},
		ttl:     ttl,
		now:     time.Now,
	}
}

// Lookup returns the cached row for the guild, or nil if absent or
// stale. The returned value is a copy - mutating it does not affect
// the cache.
func (c *settingCache) Lookup(guildID string) *Setting {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[guildID]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		return nil
	}
	cp := *entry.setting
	return &cp
}

// Store overwrites the entry for the guild with a fresh timestamp.
func (c *settingCache) Store(setting *Setting) {
	if setting == nil {
		return
	}
	cp := *setting
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[setting.GuildID] = settingCacheEntry{
		setting:  &cp,
		storedAt: c.now(),
	}
}

// Invalidate drops the entry for the guild.
func (c *settingCache) Invalidate(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, guildID)
}

// Len returns the number of entries currently held, stale or not.
func (c *settingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *settingCache) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("entries", c.Len()),
		slog.Duration("ttl", c.ttl),
	)
}
