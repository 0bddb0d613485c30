package service

import (
	"context"

	"code.cloudfoundry.org/clock"
	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/log"
)

// Collect discards, in every cache, the versions no live snapshot can reach.
// It returns the number of versions removed.
func (s *Service) Collect(ctx context.Context) int {
	removed := 0
	for _, kind := range api.Trees {
		removed += s.trees[kind].store.Collect(ctx)
	}
	return removed + s.domains.Collect(ctx)
}

// RunCollector calls Collect every configured interval until ctx is done. It
// returns immediately when the interval is zero.
func (s *Service) RunCollector(ctx context.Context, clk clock.Clock) {
	interval := s.cfg.CollectInterval
	if interval <= 0 {
		return
	}
	ctx = log.WithModule(ctx, "collector")

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if removed := s.Collect(ctx); removed > 0 {
				log.G(ctx).Debugf("collected %d versions", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}
