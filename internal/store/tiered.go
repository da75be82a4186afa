// Package store is the tiered context store: Tier 1 verbatim turns, Tier 2
// session summaries, Tier 3 user profiles, plus the compression markers and
// per-session summarize locks, all on the kv.Store contract.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pawpal/pawpal-context/internal/kv"
	"github.com/pawpal/pawpal-context/internal/models"
	"github.com/pawpal/pawpal-context/internal/tokens"
)

// TieredStore persists the three memory tiers. All mutations are single-key
// atomic operations; cross-key consistency comes from the coverage invariant
// on summaries and the per-session summarize lock, not from transactions.
type TieredStore struct {
	kv      kv.Store
	counter tokens.Counter
	turnTTL time.Duration
	log     *logrus.Entry
}

func NewTieredStore(store kv.Store, counter tokens.Counter, turnTTL time.Duration) *TieredStore {
	return &TieredStore{
		kv:      store,
		counter: counter,
		turnTTL: turnTTL,
		log:     logrus.WithField("component", "tiered_store"),
	}
}

func turnSeqKey(sessionID string) string  { return "session:" + sessionID + ":turnseq" }
func turnsKey(sessionID string) string    { return "session:" + sessionID + ":turns" }
func tokensKey(sessionID string) string   { return "session:" + sessionID + ":tokens" }
func activityKey(sessionID string) string { return "session:" + sessionID + ":last" }
func summaryKey(sessionID string) string  { return "session:" + sessionID + ":summary" }
func lockKey(sessionID string) string     { return "session:" + sessionID + ":summarizing" }
func markerKey(sessionID string) string   { return "marker:" + sessionID }

func profileKey(userID, personaID string) string {
	return "profile:" + userID + ":" + personaID
}
func sessionIndexKey(userID, personaID string) string {
	return "user:" + userID + ":persona:" + personaID + ":sessions"
}
func sessionMemberKey(userID, personaID, sessionID string) string {
	return "user:" + userID + ":persona:" + personaID + ":session:" + sessionID
}

// AppendTurn allocates the next turn id, caches the token count on the record
// and writes it to the session's turn log. Counter updates use atomic
// increments so concurrent writers never undercount.
func (s *TieredStore) AppendTurn(ctx context.Context, turn *models.Turn) error {
	if turn.SessionID == "" {
		return fmt.Errorf("append turn: missing session id")
	}

	seq, err := s.kv.Incr(ctx, turnSeqKey(turn.SessionID), 1)
	if err != nil {
		return fmt.Errorf("failed to allocate turn id: %w", err)
	}
	turn.TurnID = seq
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if turn.Tokens == 0 {
		turn.Tokens = s.counter.Count(turn.Text)
	}

	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	if _, err := s.kv.ListAppend(ctx, turnsKey(turn.SessionID), raw); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	if _, err := s.kv.Incr(ctx, tokensKey(turn.SessionID), int64(turn.Tokens)); err != nil {
		return fmt.Errorf("failed to update token total: %w", err)
	}
	if err := s.kv.Put(ctx, activityKey(turn.SessionID), []byte(turn.CreatedAt.Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("failed to update last activity: %w", err)
	}

	if s.turnTTL > 0 {
		// Sliding retention: the whole log expires after turnTTL of inactivity.
		if err := s.kv.Expire(ctx, turnsKey(turn.SessionID), s.turnTTL); err != nil {
			s.log.WithError(err).WithField("session_id", turn.SessionID).Warn("failed to refresh turn ttl")
		}
	}

	return nil
}

// GetRecent returns up to n most recent turns, newest last.
func (s *TieredStore) GetRecent(ctx context.Context, sessionID string, n int) ([]models.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	raws, err := s.kv.ListRange(ctx, turnsKey(sessionID), int64(-n), -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent turns: %w", err)
	}
	return decodeTurns(raws)
}

// GetTurnsAfter returns every turn with id greater than afterTurnID, oldest
// first.
func (s *TieredStore) GetTurnsAfter(ctx context.Context, sessionID string, afterTurnID int64) ([]models.Turn, error) {
	raws, err := s.kv.ListRange(ctx, turnsKey(sessionID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	all, err := decodeTurns(raws)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.TurnID > afterTurnID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *TieredStore) GetSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	rec, err := s.kv.Get(ctx, summaryKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	var summary models.SessionSummary
	if err := json.Unmarshal(rec.Value, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &summary, nil
}

// PutSummary atomically replaces the session summary. A write whose coverage
// range is smaller than the stored one is rejected with ErrStaleSummary, as
// is a conditional-write race lost to a concurrent summarizer.
func (s *TieredStore) PutSummary(ctx context.Context, summary models.SessionSummary) error {
	key := summaryKey(summary.SessionID)
	rec, err := s.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read current summary: %w", err)
	}

	var version int64
	if rec != nil {
		var current models.SessionSummary
		if err := json.Unmarshal(rec.Value, &current); err != nil {
			return fmt.Errorf("failed to decode current summary: %w", err)
		}
		if summary.CoversUpToTurnID < current.CoversUpToTurnID {
			return models.ErrStaleSummary
		}
		version = rec.Version
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := s.kv.PutIf(ctx, key, raw, version); err != nil {
		if err == kv.ErrPreconditionFailed {
			return models.ErrStaleSummary
		}
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func (s *TieredStore) GetProfile(ctx context.Context, userID, personaID string) (*models.UserProfile, error) {
	rec, err := s.kv.Get(ctx, profileKey(userID, personaID))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	var profile models.UserProfile
	if err := json.Unmarshal(rec.Value, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

// PutProfile atomically replaces the (user, persona) profile.
func (s *TieredStore) PutProfile(ctx context.Context, profile models.UserProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := s.kv.Put(ctx, profileKey(profile.UserID, profile.PersonaID), raw); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

// RegisterSession records the session under its (user, persona) index so
// batch profile builds can find it. Idempotent.
func (s *TieredStore) RegisterSession(ctx context.Context, userID, personaID, sessionID string) error {
	added, err := s.kv.SetNX(ctx, sessionMemberKey(userID, personaID, sessionID), []byte("1"), 0)
	if err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	if !added {
		return nil
	}
	if _, err := s.kv.ListAppend(ctx, sessionIndexKey(userID, personaID), []byte(sessionID)); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

// ListSessions returns every session recorded for the (user, persona) pair.
func (s *TieredStore) ListSessions(ctx context.Context, userID, personaID string) ([]string, error) {
	raws, err := s.kv.ListRange(ctx, sessionIndexKey(userID, personaID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]string, len(raws))
	for i, raw := range raws {
		sessions[i] = string(raw)
	}
	return sessions, nil
}

// SessionStats reads the session's running bookkeeping.
func (s *TieredStore) SessionStats(ctx context.Context, sessionID string) (models.SessionStats, error) {
	var stats models.SessionStats

	turnCount, err := s.kv.Incr(ctx, turnSeqKey(sessionID), 0)
	if err != nil {
		return stats, fmt.Errorf("failed to read turn count: %w", err)
	}
	tokenTotal, err := s.kv.Incr(ctx, tokensKey(sessionID), 0)
	if err != nil {
		return stats, fmt.Errorf("failed to read token total: %w", err)
	}
	stats.TurnCount = turnCount
	stats.TokenTotal = tokenTotal

	rec, err := s.kv.Get(ctx, activityKey(sessionID))
	if err != nil {
		return stats, fmt.Errorf("failed to read last activity: %w", err)
	}
	if rec != nil {
		if t, err := time.Parse(time.RFC3339Nano, string(rec.Value)); err == nil {
			stats.LastActivity = t
		}
	}
	return stats, nil
}

// AcquireSummarizeLock takes the per-session mutual-exclusion marker via
// conditional write. The TTL bounds how long a crashed holder can block the
// session.
func (s *TieredStore) AcquireSummarizeLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	return s.kv.SetNX(ctx, lockKey(sessionID), []byte(time.Now().UTC().Format(time.RFC3339Nano)), ttl)
}

func (s *TieredStore) ReleaseSummarizeLock(ctx context.Context, sessionID string) error {
	return s.kv.Delete(ctx, lockKey(sessionID))
}

// MarkBatchPending creates the session's compression marker. Creation is
// idempotent: at most one marker is ever outstanding per session.
func (s *TieredStore) MarkBatchPending(ctx context.Context, marker models.CompressionMarker, ttl time.Duration) (bool, error) {
	if marker.CreatedAt.IsZero() {
		marker.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(marker)
	if err != nil {
		return false, fmt.Errorf("failed to marshal marker: %w", err)
	}
	return s.kv.SetNX(ctx, markerKey(marker.SessionID), raw, ttl)
}

func (s *TieredStore) GetBatchMarker(ctx context.Context, sessionID string) (*models.CompressionMarker, error) {
	rec, err := s.kv.Get(ctx, markerKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read marker: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	var marker models.CompressionMarker
	if err := json.Unmarshal(rec.Value, &marker); err != nil {
		return nil, fmt.Errorf("failed to decode marker: %w", err)
	}
	return &marker, nil
}

// ListBatchPending returns every outstanding compression marker.
func (s *TieredStore) ListBatchPending(ctx context.Context) ([]models.CompressionMarker, error) {
	keys, err := s.kv.Scan(ctx, "marker:")
	if err != nil {
		return nil, fmt.Errorf("failed to scan markers: %w", err)
	}
	markers := make([]models.CompressionMarker, 0, len(keys))
	for _, key := range keys {
		rec, err := s.kv.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read marker %s: %w", key, err)
		}
		if rec == nil {
			continue
		}
		var marker models.CompressionMarker
		if err := json.Unmarshal(rec.Value, &marker); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("skipping undecodable marker")
			continue
		}
		markers = append(markers, marker)
	}
	return markers, nil
}

// ClearBatchMarker consumes the session's marker.
func (s *TieredStore) ClearBatchMarker(ctx context.Context, sessionID string) error {
	return s.kv.Delete(ctx, markerKey(sessionID))
}

// TrimExpiredTurns physically deletes turns older than the cutoff from the
// head of the log and settles the running token total. Used by the retention
// sweep on backends without native TTL.
func (s *TieredStore) TrimExpiredTurns(ctx context.Context, sessionID string, cutoff time.Time) (int, error) {
	raws, err := s.kv.ListRange(ctx, turnsKey(sessionID), 0, -1)
	if err != nil {
		return 0, fmt.Errorf("failed to read turns: %w", err)
	}
	turns, err := decodeTurns(raws)
	if err != nil {
		return 0, err
	}

	expired := 0
	removedTokens := int64(0)
	for _, t := range turns {
		if !t.CreatedAt.Before(cutoff) {
			break
		}
		expired++
		removedTokens += int64(t.Tokens)
	}
	if expired == 0 {
		return 0, nil
	}

	if err := s.kv.ListTrim(ctx, turnsKey(sessionID), int64(expired), -1); err != nil {
		return 0, fmt.Errorf("failed to trim turns: %w", err)
	}
	if _, err := s.kv.Incr(ctx, tokensKey(sessionID), -removedTokens); err != nil {
		return expired, fmt.Errorf("failed to settle token total: %w", err)
	}
	return expired, nil
}

// CleanupExpired delegates to the backend's physical expiry sweep.
func (s *TieredStore) CleanupExpired(ctx context.Context) (int64, error) {
	return s.kv.CleanupExpired(ctx)
}

func decodeTurns(raws [][]byte) ([]models.Turn, error) {
	turns := make([]models.Turn, 0, len(raws))
	for _, raw := range raws {
		var t models.Turn
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("failed to decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}
