package service

import (
	"context"
	"fmt"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/repository"
)

// SessionResolver decides which session of a channel an event belongs to.
type SessionResolver struct {
	store repository.SessionStore
}

func NewSessionResolver(store repository.SessionStore) *SessionResolver {
	return &SessionResolver{store: store}
}

// Resolve returns explicitSessionID unchanged when set. Otherwise the event
// belongs to the most recent session that had already started at eventTime.
func (r *SessionResolver) Resolve(ctx context.Context, channelArn, explicitSessionID, eventTime string) (string, error) {
	if explicitSessionID != "" {
		return explicitSessionID, nil
	}

	sessions, err := r.store.ListSessionsByChannel(ctx, channelArn)
	if err != nil {
		return "", fmt.Errorf("%w: list sessions: %w", ErrStoreFailure, err)
	}

	if id, ok := SelectSession(sessions, eventTime); ok {
		return id, nil
	}

	return "", fmt.Errorf("%w: channel %s at %s", ErrNoMatchingSession, channelArn, eventTime)
}

// SelectSession picks the latest session started at or before eventTime.
// List order is not trusted: the startTime index sorts strings, which
// disagrees with instant order once offsets differ. Equal start times keep
// the first listed session.
func SelectSession(sessions []models.SessionSummary, eventTime string) (string, bool) {
	var best models.SessionSummary
	found := false
	for _, s := range sessions {
		if s.StartTime == "" || models.CompareTimes(s.StartTime, eventTime) > 0 {
			continue
		}
		if !found || models.CompareTimes(s.StartTime, best.StartTime) > 0 {
			best, found = s, true
		}
	}
	return best.ID, found
}
