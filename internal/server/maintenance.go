package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaymux/llm-gateway/internal/auth"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// proactiveRefreshWindow triggers a token refresh for any pool account
// within this much of expiring, so a request never has to block on a
// synchronous refresh.
const proactiveRefreshWindow = 10 * time.Minute

// StartMaintenance schedules the periodic sweep the teacher ran as ad hoc
// timers: session-binding TTL eviction, monitor-log pruning, and proactive
// token refresh for accounts nearing expiry. Returns the cron scheduler so
// the caller can Stop() it on shutdown.
func (s *Server) StartMaintenance(creds *auth.Credentials) *cron.Cron {
	c := cron.New()
	spec := s.cfg.MaintenanceCron
	if spec == "" {
		spec = "*/5 * * * *"
	}

	_, err := c.AddFunc(spec, func() {
		s.runMaintenanceSweep(creds)
	})
	if err != nil {
		utils.Error("[maintenance] invalid cron spec %q: %v", spec, err)
		return c
	}

	c.Start()
	utils.Info("[maintenance] scheduled sweep %q", spec)
	return c
}

func (s *Server) runMaintenanceSweep(creds *auth.Credentials) {
	evicted := s.Sessions.Sweep()
	if evicted > 0 {
		utils.Debug("[maintenance] evicted %d expired session binding(s)", evicted)
	}

	if s.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pruned, err := s.Store.PruneMonitorLogs(ctx, time.Now().Add(-7*24*time.Hour))
		cancel()
		if err != nil {
			utils.Warn("[maintenance] prune monitor logs: %v", err)
		} else if pruned > 0 {
			utils.Debug("[maintenance] pruned %d monitor log row(s)", pruned)
		}
	}

	for _, acc := range s.Pool.All() {
		if !acc.Enabled {
			continue
		}
		if !creds.ExpiresWithin(acc.Email, proactiveRefreshWindow) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := creds.GetAccessToken(ctx, acc.Email, acc.CompositeRefresh, proactiveRefreshWindow)
		cancel()
		if err != nil {
			utils.Warn("[maintenance] proactive refresh failed for %s: %v", acc.Email, err)
		} else {
			utils.Debug("[maintenance] proactively refreshed %s", acc.Email)
		}
	}
}
