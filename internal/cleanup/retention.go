package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reflector-media/reflector/internal/store"
)

// RetentionSweeper hard-deletes anonymous transcripts older than the
// configured retention window. It only runs in public deployments.
type RetentionSweeper struct {
	transcripts store.TranscriptStore
	retention   time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// NewRetentionSweeper creates a sweeper keeping anonymous transcripts for
// retentionDays days.
func NewRetentionSweeper(transcripts store.TranscriptStore, retentionDays int, log *slog.Logger) *RetentionSweeper {
	if log == nil {
		log = slog.Default()
	}
	return &RetentionSweeper{
		transcripts: transcripts,
		retention:   time.Duration(retentionDays) * 24 * time.Hour,
		now:         time.Now,
		log:         log.With("component", "retention"),
	}
}

// Run sweeps on the given interval until ctx is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("retention sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep deletes expired anonymous transcripts once and returns how many went.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.transcripts.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention: delete expired: %w", err)
	}
	if n > 0 {
		s.log.Info("expired transcripts deleted", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
