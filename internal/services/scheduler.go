package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/pawpal/pawpal-context/internal/config"
	"github.com/pawpal/pawpal-context/internal/models"
	"github.com/pawpal/pawpal-context/internal/providers"
	"github.com/pawpal/pawpal-context/internal/store"
	"github.com/pawpal/pawpal-context/internal/tokens"
)

// Session states. A session is SUMMARIZING exactly while its summarize lock
// is held; the transition back to NORMAL is unconditional, even when the
// summarizer degraded.
const (
	StateNormal      = "NORMAL"
	StateSummarizing = "SUMMARIZING"
)

const lockPollInterval = 100 * time.Millisecond

// SchedulerService decides per turn whether real-time summarization must run
// before the turn proceeds, marks sessions for batch compression, and drives
// the batch sweep.
type SchedulerService struct {
	store      *store.TieredStore
	summarizer *SummarizerService
	counter    tokens.Counter
	cfg        config.CompactionConfig
	batch      config.BatchConfig
	limiter    providers.RateLimiter
	log        *logrus.Entry
}

func NewSchedulerService(tiered *store.TieredStore, summarizer *SummarizerService, counter tokens.Counter, cfg config.CompactionConfig, batch config.BatchConfig, limiter providers.RateLimiter) *SchedulerService {
	return &SchedulerService{
		store:      tiered,
		summarizer: summarizer,
		counter:    counter,
		cfg:        cfg,
		batch:      batch,
		limiter:    limiter,
		log:        logrus.WithField("component", "scheduler"),
	}
}

// SessionState reports the session's current compression state.
func (s *SchedulerService) SessionState(ctx context.Context, sessionID string) (string, error) {
	held, err := s.store.AcquireSummarizeLock(ctx, sessionID, s.cfg.LockTTL)
	if err != nil {
		return "", err
	}
	if held {
		// Probe acquired the lock, so nobody was summarizing.
		if err := s.store.ReleaseSummarizeLock(ctx, sessionID); err != nil {
			return "", err
		}
		return StateNormal, nil
	}
	return StateSummarizing, nil
}

// EvaluateTurn runs the trigger check for one incoming turn. When the
// unsummarized recent tier exceeds the threshold it summarizes synchronously,
// holding the turn; this is the only blocking point in the pipeline. Failures
// here are degradations: the turn always proceeds.
func (s *SchedulerService) EvaluateTurn(ctx context.Context, sessionID, userID, personaID string) error {
	footprint, err := s.unsummarizedFootprint(ctx, sessionID)
	if err != nil {
		return err
	}

	if footprint > s.cfg.RealtimeTokenThreshold {
		// Real-time wins the tie-break: a fresh summary makes any scheduled
		// job redundant. A degraded run leaves the marker so the sweep still
		// catches the session up.
		if s.runRealtime(ctx, sessionID) {
			if err := s.store.ClearBatchMarker(ctx, sessionID); err != nil {
				s.log.WithError(err).WithField("session_id", sessionID).Warn("failed to clear batch marker")
			}
		}
		return nil
	}

	return s.maybeMarkBatchPending(ctx, sessionID, userID, personaID)
}

// unsummarizedFootprint is the token cost of every turn not yet covered by
// the session summary, measured the way the completion service bills it.
func (s *SchedulerService) unsummarizedFootprint(ctx context.Context, sessionID string) (int, error) {
	var coveredTo int64
	summary, err := s.store.GetSummary(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if summary != nil {
		coveredTo = summary.CoversUpToTurnID
	}

	turns, err := s.store.GetTurnsAfter(ctx, sessionID, coveredTo)
	if err != nil {
		return 0, err
	}
	msgs := make([]models.ContextMessage, len(turns))
	for i, t := range turns {
		msgs[i] = models.TurnMessage(t)
	}
	return s.counter.CountMessages(msgs), nil
}

// runRealtime performs the NORMAL -> SUMMARIZING -> NORMAL transition. If a
// concurrent turn already holds the session's lock, this turn waits for it
// instead of racing a second summarization. Reports whether the session ended
// up with a fresh summary.
func (s *SchedulerService) runRealtime(ctx context.Context, sessionID string) bool {
	log := s.log.WithField("session_id", sessionID)
	deadline := time.Now().Add(s.cfg.RealtimeTimeout)

	for {
		acquired, err := s.store.AcquireSummarizeLock(ctx, sessionID, s.cfg.LockTTL)
		if err != nil {
			log.WithError(err).Warn("failed to acquire summarize lock, proceeding with current summary")
			return false
		}
		if acquired {
			break
		}
		if time.Now().After(deadline) {
			log.Warn("timed out waiting for concurrent summarization, proceeding with current summary")
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(lockPollInterval):
		}
	}
	defer func() {
		if err := s.store.ReleaseSummarizeLock(ctx, sessionID); err != nil {
			log.WithError(err).Warn("failed to release summarize lock")
		}
	}()

	// The concurrent holder we waited for may already have compressed the
	// session below the threshold.
	footprint, err := s.unsummarizedFootprint(ctx, sessionID)
	if err != nil {
		log.WithError(err).Warn("failed to re-check footprint")
		return false
	}
	if footprint <= s.cfg.RealtimeTokenThreshold {
		return true
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.RealtimeTimeout)
	defer cancel()

	if _, err := s.summarizer.SummarizeSession(cctx, sessionID); err != nil {
		if errors.Is(err, models.ErrSummarizationDegraded) {
			log.Warn("real-time summarization degraded")
		} else {
			log.WithError(err).Warn("real-time summarization failed")
		}
		return false
	}
	return true
}

// maybeMarkBatchPending sets the session's compression marker when its turn
// count crosses the batch interval. Idleness is re-checked at sweep time, so
// a session that stays active simply keeps its marker until it quiets down.
func (s *SchedulerService) maybeMarkBatchPending(ctx context.Context, sessionID, userID, personaID string) error {
	if s.cfg.BatchIntervalTurns <= 0 {
		return nil
	}
	stats, err := s.store.SessionStats(ctx, sessionID)
	if err != nil {
		return err
	}
	if stats.TurnCount == 0 || stats.TurnCount%int64(s.cfg.BatchIntervalTurns) != 0 {
		return nil
	}

	created, err := s.store.MarkBatchPending(ctx, models.CompressionMarker{
		SessionID: sessionID,
		UserID:    userID,
		PersonaID: personaID,
		Kind:      models.MarkerKindInterval,
	}, s.cfg.MarkerTTL)
	if err != nil {
		return err
	}
	if created {
		s.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"turn_count": stats.TurnCount,
		}).Info("session marked for batch compression")
	}
	return nil
}

// RunBatchSweep processes every outstanding compression marker with bounded
// concurrency and returns the number of sessions fully processed. Sessions
// whose provider calls fail keep their marker for the next sweep.
func (s *SchedulerService) RunBatchSweep(ctx context.Context) (int, error) {
	markers, err := s.store.ListBatchPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(markers) == 0 {
		return 0, nil
	}

	concurrency := int64(s.batch.Concurrency)
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)

	var processed int64
	for _, marker := range markers {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		marker := marker
		go func() {
			defer sem.Release(1)
			if s.processBatchSession(ctx, marker) {
				atomic.AddInt64(&processed, 1)
			}
		}()
	}

	// Drain: wait for all in-flight workers.
	if err := sem.Acquire(context.Background(), concurrency); err == nil {
		sem.Release(concurrency)
	}

	if _, err := s.store.CleanupExpired(ctx); err != nil {
		s.log.WithError(err).Warn("expired-record cleanup failed")
	}

	return int(atomic.LoadInt64(&processed)), nil
}

// processBatchSession summarizes one marked session and rebuilds its user's
// profile under the per-session deadline. Returns whether the marker was
// consumed.
func (s *SchedulerService) processBatchSession(ctx context.Context, marker models.CompressionMarker) bool {
	log := s.log.WithFields(logrus.Fields{
		"session_id": marker.SessionID,
		"user_id":    marker.UserID,
	})

	cctx, cancel := context.WithTimeout(ctx, s.batch.SessionDeadline)
	defer cancel()

	stats, err := s.store.SessionStats(cctx, marker.SessionID)
	if err != nil {
		log.WithError(err).Warn("failed to read session stats, keeping marker")
		return false
	}
	if s.cfg.IdleThreshold > 0 && time.Since(stats.LastActivity) < s.cfg.IdleThreshold {
		// Still active; the next sweep will catch it once it quiets down.
		return false
	}

	if s.limiter != nil && !s.limiter.Allow("completion") {
		log.Info("completion quota exhausted, deferring session")
		return false
	}

	acquired, err := s.store.AcquireSummarizeLock(cctx, marker.SessionID, s.cfg.LockTTL)
	if err != nil || !acquired {
		return false
	}
	defer func() {
		if err := s.store.ReleaseSummarizeLock(ctx, marker.SessionID); err != nil {
			log.WithError(err).Warn("failed to release summarize lock")
		}
	}()

	if _, err := s.summarizer.SummarizeSession(cctx, marker.SessionID); err != nil {
		log.WithError(err).Warn("batch summarization failed, keeping marker")
		return false
	}
	if _, err := s.summarizer.BuildProfile(cctx, marker.UserID, marker.PersonaID); err != nil {
		log.WithError(err).Warn("profile rebuild failed, keeping marker")
		return false
	}

	if err := s.store.ClearBatchMarker(cctx, marker.SessionID); err != nil {
		log.WithError(err).Warn("failed to clear batch marker")
		return false
	}
	return true
}
