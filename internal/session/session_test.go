package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIDPrefersOpenAIUser(t *testing.T) {
	id := DeriveID("user-123", "claude-user-456", []string{"hello"})
	assert.Equal(t, "openai:user-123", id)
}

func TestDeriveIDFallsBackToClaudeMetadata(t *testing.T) {
	id := DeriveID("", "claude-user-456", []string{"hello"})
	assert.Equal(t, "claude:claude-user-456", id)
}

func TestDeriveIDHashesMessagesWhenNoUserGiven(t *testing.T) {
	id := DeriveID("", "", []string{"hello", "world"})
	assert.Contains(t, id, "msg:")

	// deterministic: same inputs hash to the same id
	again := DeriveID("", "", []string{"hello", "world"})
	assert.Equal(t, id, again)

	// different inputs hash differently
	different := DeriveID("", "", []string{"goodbye", "world"})
	assert.NotEqual(t, id, different)
}

func TestDeriveIDOnlyHashesFirstThreeMessages(t *testing.T) {
	a := DeriveID("", "", []string{"one", "two", "three", "this one is ignored"})
	b := DeriveID("", "", []string{"one", "two", "three", "this one is also ignored but different"})
	assert.Equal(t, a, b)
}

func TestDeriveIDWithNoTextsReturnsSomethingNonEmpty(t *testing.T) {
	id := DeriveID("", "", nil)
	assert.NotEmpty(t, id)
}

func TestRegistryBindAndLookup(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.Bind("sess-1", "acct@example.com")

	acct, ok := r.Lookup("sess-1")
	require.True(t, ok)
	assert.Equal(t, "acct@example.com", acct)

	_, ok = r.Lookup("sess-missing")
	assert.False(t, ok)
}

func TestRegistryLookupEvictsExpiredEntry(t *testing.T) {
	r := NewRegistry(time.Millisecond)
	r.Bind("sess-1", "acct@example.com")
	time.Sleep(5 * time.Millisecond)

	_, ok := r.Lookup("sess-1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryWithinStickyWindow(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.Bind("sess-1", "acct@example.com")

	assert.True(t, r.WithinStickyWindow("sess-1", time.Minute))
	assert.False(t, r.WithinStickyWindow("sess-missing", time.Minute))
}

func TestRegistrySweepEvictsOnlyExpired(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Bind("fresh", "a@example.com")
	r.Bind("stale", "b@example.com")

	// backdate "stale" directly, since Bind always stamps time.Now().
	r.mu.Lock()
	b := r.m["stale"]
	b.LastUsed = time.Now().Add(-time.Hour)
	r.m["stale"] = b
	r.mu.Unlock()

	evicted := r.Sweep()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, r.Len())

	_, ok := r.Lookup("fresh")
	assert.True(t, ok)
	_, ok = r.Lookup("stale")
	assert.False(t, ok)
}

func TestNewRegistryDefaultsTTL(t *testing.T) {
	r := NewRegistry(0)
	assert.Equal(t, time.Hour, r.ttl)
}
