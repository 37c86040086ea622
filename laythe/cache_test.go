package laythe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingCacheLookup(t *testing.T) {
	c := newSettingCache(settingCacheTTL)
	current := time.Now()
	c.now = func() time.Time { return current }

	assert.Nil(t, c.Lookup("g"))

	c.Store(NewSetting("g"))
	got := c.Lookup("g")
	require.NotNil(t, got)
	assert.Equal(t, "g", got.GuildID)

	// just under the TTL still serves the entry
	current = current.Add(settingCacheTTL - time.Second)
	assert.NotNil(t, c.Lookup("g"))

	// at the TTL the entry is stale
	current = current.Add(time.Second)
	assert.Nil(t, c.Lookup("g"))
}

func TestSettingCacheInvalidate(t *testing.T) {
	c := newSettingCache(settingCacheTTL)
	c.Store(NewSetting("g"))
	require.NotNil(t, c.Lookup("g"))

	c.Invalidate("g")
	assert.Nil(t, c.Lookup("g"))
	assert.Zero(t, c.Len())

	// invalidating an absent guild is a no-op
	c.Invalidate("missing")
}

func TestSettingCacheCopies(t *testing.T) {
	c := newSettingCache(settingCacheTTL)

	original := NewSetting("g")
	c.Store(original)
	original.Accepted = true

	got := c.Lookup("g")
	require.NotNil(t, got)
	assert.False(t, got.Accepted, "cache must hold a copy of the stored row")

	got.Accepted = true
	again := c.Lookup("g")
	require.NotNil(t, again)
	assert.False(t, again.Accepted, "lookups must return independent copies")
}

func TestSettingCacheStoreRefreshesTimestamp(t *testing.T) {
	c := newSettingCache(settingCacheTTL)
	current := time.Now()
	c.now = func() time.Time { return current }

	c.Store(NewSetting("g"))
	current = current.Add(settingCacheTTL - time.Second)
	c.Store(NewSetting("g"))

	current = current.Add(2 * time.Second)
	assert.NotNil(t, c.Lookup("g"), "re-store must reset the entry age")
}
