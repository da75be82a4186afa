package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pawpal/pawpal-context/internal/models"
)

const profileSystemPrompt = `You build a short profile of a user from their side of conversations with a pet-care assistant.

Reply with strict JSON, no prose around it:
{"profile": "<max 120 words about the user, their pets and their preferences>",
 "topics": ["<recurring topic>", ...],
 "engagement": "<one of: casual, regular, intensive>",
 "style": "<one of: concise, detailed, exploratory>"}`

// BuildProfile aggregates the user's own turns across every session with the
// persona and regenerates the Tier-3 profile. Regeneration supersedes, never
// duplicates: the same underlying turns produce the same tag set.
func (s *SummarizerService) BuildProfile(ctx context.Context, userID, personaID string) (*models.UserProfile, error) {
	sessions, err := s.store.ListSessions(ctx, userID, personaID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return s.store.GetProfile(ctx, userID, personaID)
	}

	var userTurns []models.Turn
	for _, sessionID := range sessions {
		turns, err := s.store.GetTurnsAfter(ctx, sessionID, 0)
		if err != nil {
			return nil, err
		}
		for _, t := range turns {
			if t.Role == models.RoleUser {
				userTurns = append(userTurns, t)
			}
		}
	}
	if len(userTurns) == 0 {
		return s.store.GetProfile(ctx, userID, personaID)
	}

	included := s.boundTurns(userTurns, s.cfg.InputTokenCeiling)
	var sb strings.Builder
	sb.WriteString("User messages, oldest first:\n")
	for _, t := range included {
		sb.WriteString("- ")
		sb.WriteString(t.Text)
		sb.WriteString("\n")
	}

	reply, err := s.completeWithRetry(ctx, "profile:"+userID, profileSystemPrompt, sb.String(), s.cfg.ProfileMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}

	text, tags := parseProfileReply(reply)

	vector, err := s.embedding.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}

	profile := models.UserProfile{
		ID:                uuid.NewString(),
		UserID:            userID,
		PersonaID:         personaID,
		Text:              text,
		Embedding:         vector,
		Tags:              tags,
		ConversationCount: len(sessions),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := s.store.PutProfile(ctx, profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// parseProfileReply decodes the model's JSON reply, tolerating fenced code
// blocks and falling back to the raw text with empty tags when the JSON is
// malformed.
func parseProfileReply(reply string) (string, models.ProfileTags) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed struct {
		Profile    string   `json:"profile"`
		Topics     []string `json:"topics"`
		Engagement string   `json:"engagement"`
		Style      string   `json:"style"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil || parsed.Profile == "" {
		return strings.TrimSpace(reply), models.ProfileTags{}
	}
	return parsed.Profile, models.ProfileTags{
		Topics:     parsed.Topics,
		Engagement: parsed.Engagement,
		Style:      parsed.Style,
	}
}
