// Package retention runs the background loop that caps how much run
// history a repo's .docbot/history accumulates. Grounded on the teacher's
// pkg/cleanup service: same Start/Stop/ticker shape, retargeted from
// soft-deleting database rows to pruning snapshot files on disk via
// pkg/project.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/docbot-core/pkg/project"
)

// Service periodically enforces the configured snapshot retention limit by
// deleting the oldest history/<run_id>.json + history/<run_id>/ pairs
// beyond MaxSnapshots. Safe to run alongside concurrent pipeline runs: a
// prune only ever removes snapshots older than the newest MaxCount.
type Service struct {
	paths        project.Paths
	maxSnapshots int
	interval     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service for the given repo's .docbot
// directory. maxSnapshots <= 0 disables pruning entirely.
func NewService(paths project.Paths, maxSnapshots int, interval time.Duration) *Service {
	return &Service{paths: paths, maxSnapshots: maxSnapshots, interval: interval}
}

// Start launches the background pruning loop. A no-op if already running.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	if s.maxSnapshots <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention service started",
		"max_snapshots", s.maxSnapshots,
		"interval", s.interval)
}

// Stop signals the pruning loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.pruneOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneOnce()
		}
	}
}

func (s *Service) pruneOnce() {
	removed, err := project.PruneSnapshots(s.paths, s.maxSnapshots)
	if err != nil {
		slog.Error("retention: prune snapshots failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("retention: pruned old snapshots", "count", removed)
	}
}
