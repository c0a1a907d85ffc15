package tokenpool

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/ratelimit"
	"github.com/relaymux/llm-gateway/internal/session"
)

func newTestPool() *Pool {
	cfg := &config.Config{SchedulingMode: config.SchedulingBalanced, StickyWindowSeconds: 300}
	return NewPool(cfg, ratelimit.NewRegistry(0), session.NewRegistry(0), nil)
}

func TestSortedByTierRanksUltraBeforeProBeforeFreeAndIsStableOnEmail(t *testing.T) {
	p := newTestPool()
	p.Upsert(&Account{Email: "free-b@example.com", Tier: TierFree, Enabled: true})
	p.Upsert(&Account{Email: "pro@example.com", Tier: TierPro, Enabled: true})
	p.Upsert(&Account{Email: "free-a@example.com", Tier: TierFree, Enabled: true})
	p.Upsert(&Account{Email: "ultra@example.com", Tier: TierUltra, Enabled: true})
	p.Upsert(&Account{Email: "disabled@example.com", Tier: TierUltra, Enabled: false})

	sorted := p.sortedByTier()
	require.Len(t, sorted, 4)
	emails := make([]string, len(sorted))
	for i, a := range sorted {
		emails[i] = a.Email
	}
	assert.Equal(t, []string{"ultra@example.com", "pro@example.com", "free-a@example.com", "free-b@example.com"}, emails)
}

func TestTierRankUnknownFallsBackToUnknownRank(t *testing.T) {
	assert.Equal(t, tierRank[TierUnknown], Tier("bogus").rank())
	assert.Equal(t, tierRank[TierUltra], TierUltra.rank())
}

func TestUsableRejectsNilDisabledAndCooledDownAccounts(t *testing.T) {
	p := newTestPool()
	acc := &Account{Email: "a@example.com", Tier: TierFree, Enabled: true}
	assert.True(t, p.usable(acc))

	disabled := &Account{Email: "b@example.com", Enabled: false}
	assert.False(t, p.usable(disabled))
	assert.False(t, p.usable(nil))

	p.cooldowns.Mark(acc.Email, http.StatusForbidden, nil, "")
	assert.False(t, p.usable(acc))
}

func TestScanFromRoundRobinsAcrossUsableAccounts(t *testing.T) {
	p := newTestPool()
	a := &Account{Email: "a@example.com", Tier: TierFree, Enabled: true}
	b := &Account{Email: "b@example.com", Tier: TierFree, Enabled: true}
	p.Upsert(a)
	p.Upsert(b)
	candidates := p.sortedByTier()

	first := p.scanFrom(candidates, 0)
	second := p.scanFrom(candidates, 0)
	third := p.scanFrom(candidates, 0)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Email, second.Email)
	assert.Equal(t, first.Email, third.Email)
}

func TestScanFromSkipsAccountsOnCooldown(t *testing.T) {
	p := newTestPool()
	a := &Account{Email: "a@example.com", Tier: TierFree, Enabled: true}
	b := &Account{Email: "b@example.com", Tier: TierFree, Enabled: true}
	p.Upsert(a)
	p.Upsert(b)
	p.cooldowns.Mark(a.Email, http.StatusTooManyRequests, nil, "")

	candidates := p.sortedByTier()
	picked := p.scanFrom(candidates, 0)
	require.NotNil(t, picked)
	assert.Equal(t, b.Email, picked.Email)
}

func TestScanFromReturnsNilWhenNoneUsable(t *testing.T) {
	p := newTestPool()
	a := &Account{Email: "a@example.com", Tier: TierFree, Enabled: false}
	p.Upsert(a)
	candidates := p.sortedByTier()
	assert.Nil(t, p.scanFrom(candidates, 0))
}

func TestGetTokenReturnsAccountErrorWhenPoolEmpty(t *testing.T) {
	p := newTestPool()
	_, err := p.GetToken(nil, false, "")
	require.Error(t, err)
}

func TestMarkSuccessClearsCooldown(t *testing.T) {
	p := newTestPool()
	email := "a@example.com"
	p.cooldowns.Mark(email, http.StatusForbidden, nil, "")
	_, onCooldown := p.cooldowns.IsOnCooldown(email)
	require.True(t, onCooldown)

	p.MarkSuccess(email)
	_, onCooldown = p.cooldowns.IsOnCooldown(email)
	assert.False(t, onCooldown)
}
