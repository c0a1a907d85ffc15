// Package tokenpool implements the gateway's account pool: selecting which
// OAuth account serves a request under CacheFirst / Balanced /
// PerformanceFirst scheduling, and handing back a live access token.
package tokenpool

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/relaymux/llm-gateway/internal/auth"
	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/gwerrors"
	"github.com/relaymux/llm-gateway/internal/ratelimit"
	"github.com/relaymux/llm-gateway/internal/session"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// Token is what callers of GetToken receive: a live access token plus the
// account it came from, so the dispatcher can report rate limits back
// against the right account.
type Token struct {
	Account     *Account
	AccessToken string
}

// Pool holds the live account set and the scheduling state shared across
// requests (round-robin cursor, cooldowns, session bindings, token cache).
type Pool struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	cursor   int

	cooldowns *ratelimit.Registry
	sessions  *session.Registry
	creds     *auth.Credentials
	cfg       *config.Config
}

func NewPool(cfg *config.Config, cooldowns *ratelimit.Registry, sessions *session.Registry, creds *auth.Credentials) *Pool {
	return &Pool{
		accounts:  make(map[string]*Account),
		cooldowns: cooldowns,
		sessions:  sessions,
		creds:     creds,
		cfg:       cfg,
	}
}

func (p *Pool) Upsert(acc *Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[acc.Email] = acc
}

func (p *Pool) Remove(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.accounts, email)
}

func (p *Pool) All() []*Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		out = append(out, a)
	}
	return out
}

// sortedByTier returns enabled accounts ranked ULTRA < PRO < FREE < other
// (step 1 of getToken), stable on email for determinism.
func (p *Pool) sortedByTier() []*Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier.rank() != out[j].Tier.rank() {
			return out[i].Tier.rank() < out[j].Tier.rank()
		}
		return out[i].Email < out[j].Email
	})
	return out
}

func (p *Pool) byEmail(email string) *Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accounts[email]
}

// usable reports whether account is enabled and not on cooldown.
func (p *Pool) usable(a *Account) bool {
	if a == nil || !a.Enabled {
		return false
	}
	_, onCooldown := p.cooldowns.IsOnCooldown(a.Email)
	return !onCooldown
}

// GetToken implements the 7-step account-selection algorithm:
//  1. rank candidates by subscription tier
//  2. under CacheFirst/Balanced, prefer the account sessionID last used if
//     it's within the sticky window and not forceRotate
//  3. CacheFirst additionally blocks (without holding locks) until that
//     bound account's cooldown clears, bounded by ctx's deadline
//  4. otherwise round-robin-scan the tier-ranked list for a usable account
//  5. if none usable, return AccountError carrying the minimum wait
//  6. proactively refresh a token nearing expiry
//  7. fetch (or refresh) the access token and bind the session
func (p *Pool) GetToken(ctx context.Context, forceRotate bool, sessionID string) (*Token, error) {
	candidates := p.sortedByTier()
	if len(candidates) == 0 {
		return nil, gwerrors.AccountError("no accounts configured")
	}

	mode := p.cfg.SchedulingMode
	stickyWindow := time.Duration(p.cfg.StickyWindowSeconds) * time.Second

	if sessionID != "" && !forceRotate && mode != config.SchedulingPerformanceFirst {
		if boundEmail, ok := p.sessions.Lookup(sessionID); ok {
			if bound := p.byEmail(boundEmail); bound != nil && bound.Enabled {
				if p.usable(bound) {
					return p.finalize(ctx, bound, sessionID)
				}
				if mode == config.SchedulingCacheFirst && p.sessions.WithinStickyWindow(sessionID, stickyWindow) {
					if tok, err := p.waitForAccount(ctx, bound, sessionID); err == nil {
						return tok, nil
					}
					// Cooldown outlasted the deadline or the sticky window;
					// fall through to a fresh scan rather than error out.
				}
			}
		}
	}

	if acc := p.scanFrom(candidates, 0); acc != nil {
		return p.finalize(ctx, acc, sessionID)
	}

	emails := make([]string, len(candidates))
	for i, a := range candidates {
		emails[i] = a.Email
	}
	wait := p.cooldowns.MinWait(emails)
	err := gwerrors.AccountError(fmt.Sprintf("all accounts on cooldown, retry in %s", wait))
	return nil, err
}

// waitForAccount blocks (holding no pool locks across the sleep) until
// bound's cooldown clears or ctx is done, then re-checks usability.
func (p *Pool) waitForAccount(ctx context.Context, bound *Account, sessionID string) (*Token, error) {
	until, onCooldown := p.cooldowns.IsOnCooldown(bound.Email)
	if !onCooldown {
		return p.finalize(ctx, bound, sessionID)
	}
	wait := time.Until(until)
	if wait <= 0 {
		return p.finalize(ctx, bound, sessionID)
	}

	if err := utils.Sleep(ctx, wait.Milliseconds()); err != nil {
		return nil, gwerrors.Timeout("deadline exceeded waiting for sticky account")
	}
	if !p.usable(bound) {
		return nil, gwerrors.AccountError("sticky account still unusable after wait")
	}
	return p.finalize(ctx, bound, sessionID)
}

// scanFrom round-robins the cursor across candidates, advancing it on a
// hit so the next call continues from there (step 4).
func (p *Pool) scanFrom(candidates []*Account, _ int) *Account {
	p.mu.Lock()
	if p.cursor >= len(candidates) {
		p.cursor = 0
	}
	start := p.cursor
	p.mu.Unlock()

	for i := 0; i < len(candidates); i++ {
		idx := (start + i) % len(candidates)
		acc := candidates[idx]
		if p.usable(acc) {
			p.mu.Lock()
			p.cursor = (idx + 1) % len(candidates)
			p.mu.Unlock()
			return acc
		}
	}
	return nil
}

// finalize proactively refreshes a near-expiry token, fetches the current
// access token, binds the session, and stamps LastUsed.
func (p *Pool) finalize(ctx context.Context, acc *Account, sessionID string) (*Token, error) {
	skew := time.Duration(p.cfg.ProactiveRefreshWindowSeconds) * time.Second
	accessToken, err := p.creds.GetAccessToken(ctx, acc.Email, acc.CompositeRefresh, skew)
	if err != nil {
		p.cooldowns.Mark(acc.Email, 401, nil, err.Error())
		return nil, gwerrors.Wrap(gwerrors.KindAccountError, "refresh failed for "+acc.Email, err)
	}

	p.mu.Lock()
	acc.LastUsed = time.Now()
	p.mu.Unlock()

	if sessionID != "" {
		p.sessions.Bind(sessionID, acc.Email)
	}

	return &Token{Account: acc, AccessToken: accessToken}, nil
}

// MarkSuccess clears any cooldown on acc after a request succeeds.
func (p *Pool) MarkSuccess(email string) {
	p.cooldowns.Clear(email)
}

// MarkRateLimited records a cooldown for email per the §4.2 classification
// table, called by the dispatcher on a 429/503/529 response.
func (p *Pool) MarkRateLimited(email string, status int, headers http.Header, body string) {
	_ = p.cooldowns.Mark(email, status, headers, body)
}
