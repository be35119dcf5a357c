package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snmpworks/trapd/internal/usm"
)

func TestKeyCacheLocalizeMatchesUncached(t *testing.T) {
	password := []byte("authkey12")
	engineID := []byte("engine-id-bytes")

	want, err := usm.Localize(usm.SHA1, password, engineID)
	require.NoError(t, err)

	c := NewKeyCache()
	got1, err := c.Localize(usm.SHA1, password, engineID)
	require.NoError(t, err)
	assert.Equal(t, want, got1, "cached-miss Localize")

	got2, err := c.Localize(usm.SHA1, password, engineID)
	require.NoError(t, err)
	assert.Equal(t, want, got2, "cached-hit Localize")
}

func TestKeyCacheDistinguishesEngineAndPassword(t *testing.T) {
	c := NewKeyCache()
	k1, err := c.Localize(usm.SHA1, []byte("pw-one"), []byte("engine-a"))
	require.NoError(t, err)
	k2, err := c.Localize(usm.SHA1, []byte("pw-two"), []byte("engine-a"))
	require.NoError(t, err)
	k3, err := c.Localize(usm.SHA1, []byte("pw-one"), []byte("engine-b"))
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2, "distinct passwords must localize to distinct keys")
	assert.NotEqual(t, k1, k3, "distinct engineIDs must localize to distinct keys")
}

func TestEngineCacheUpdateAndGet(t *testing.T) {
	c := NewEngineCache()
	engineID := []byte("engine-id-bytes")

	_, ok := c.Get(engineID)
	require.False(t, ok, "expected no entry before first Update")

	now := time.Unix(1_700_000_000, 0)
	c.Update(engineID, 3, 100, now)

	state, ok := c.Get(engineID)
	require.True(t, ok, "expected entry after Update")
	assert.EqualValues(t, 3, state.Boots)
	assert.EqualValues(t, 100, state.Time)
}

func TestEngineCacheRejectsBootsRegression(t *testing.T) {
	c := NewEngineCache()
	engineID := []byte("engine-id-bytes")
	now := time.Unix(1_700_000_000, 0)

	c.Update(engineID, 5, 200, now)
	c.Update(engineID, 4, 999, now.Add(time.Minute))

	state, ok := c.Get(engineID)
	require.True(t, ok, "expected entry to remain after rejected regression")
	assert.EqualValues(t, 5, state.Boots, "boots must not regress")
	assert.EqualValues(t, 200, state.Time, "time must not change alongside a rejected boots regression")
}

func TestEngineCacheAcceptsEqualOrGreaterBoots(t *testing.T) {
	c := NewEngineCache()
	engineID := []byte("engine-id-bytes")
	now := time.Unix(1_700_000_000, 0)

	c.Update(engineID, 5, 200, now)
	c.Update(engineID, 5, 250, now.Add(time.Minute))

	state, ok := c.Get(engineID)
	require.True(t, ok)
	assert.EqualValues(t, 250, state.Time, "same-boots update with newer time should apply")

	c.Update(engineID, 6, 10, now.Add(2*time.Minute))
	state, ok = c.Get(engineID)
	require.True(t, ok)
	assert.EqualValues(t, 6, state.Boots)
	assert.EqualValues(t, 10, state.Time)
}

func TestEngineCacheDistinctEngines(t *testing.T) {
	c := NewEngineCache()
	now := time.Unix(1_700_000_000, 0)
	c.Update([]byte("engine-a"), 1, 1, now)
	c.Update([]byte("engine-b"), 2, 2, now)

	a, ok := c.Get([]byte("engine-a"))
	require.True(t, ok)
	assert.EqualValues(t, 1, a.Boots)

	b, ok := c.Get([]byte("engine-b"))
	require.True(t, ok)
	assert.EqualValues(t, 2, b.Boots)
}
