// internal/service/reconciler.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/lock"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/repository"
)

type Outcome string

const (
	OutcomeMerged  Outcome = "merged"
	OutcomeIgnored Outcome = "ignored"
)

// handledCategories are the envelope categories that carry session events.
// Any other non-empty category is audit noise and is dropped.
var handledCategories = map[string]bool{
	models.CategoryStateChange:  true,
	models.CategoryHealthChange: true,
	models.CategoryLimitBreach:  true,
}

// IsIgnoredCategory reports whether an envelope is accepted without
// processing.
func IsIgnoredCategory(category string) bool {
	return category != "" && !handledCategories[category]
}

// Publisher receives a change record after every successful merge.
type Publisher interface {
	Publish(ctx context.Context, partitionKey string, data []byte) error
}

// SessionChange is the record handed to the Publisher.
type SessionChange struct {
	EventType  string       `json:"event_type"`
	ChannelArn string       `json:"channel_arn"`
	SessionID  string       `json:"session_id"`
	UserSub    string       `json:"user_sub"`
	Event      models.Event `json:"event"`
	IsHealthy  bool         `json:"is_healthy"`
	Closed     []string     `json:"closed_sessions,omitempty"`
	Timestamp  int64        `json:"timestamp"`
}

// Reconciler folds envelopes into stream sessions. It keeps no state between
// calls; everything lives in the store.
type Reconciler struct {
	directory repository.ChannelDirectory
	store     repository.SessionStore
	resolver  *SessionResolver
	locker    lock.Locker
	publisher Publisher
	logger    *zap.Logger
}

type Option func(*Reconciler)

// WithPublisher enables change records.
func WithPublisher(p Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

func NewReconciler(directory repository.ChannelDirectory, store repository.SessionStore, locker lock.Locker, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		directory: directory,
		store:     store,
		resolver:  NewSessionResolver(store),
		locker:    locker,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks the fields every handled envelope must carry.
func Validate(env *models.Envelope) error {
	var missing []string
	if env.ChannelArn() == "" {
		missing = append(missing, "channelArn")
	}
	if strings.TrimSpace(env.Time) == "" {
		missing = append(missing, "time")
	}
	if env.Category == "" {
		missing = append(missing, "category")
	}
	if env.EventName() == "" {
		missing = append(missing, "eventName/limitName")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidationFailed, strings.Join(missing, ", "))
	}
	if !models.ValidTime(env.Time) {
		return fmt.Errorf("%w: time %q is not RFC 3339", ErrValidationFailed, env.Time)
	}
	return nil
}

// Reconcile processes one envelope. Each accepted envelope results in exactly
// one AppendEvent and, for session starts, a CloseSession per stale open
// session.
func (r *Reconciler) Reconcile(ctx context.Context, env models.Envelope) (Outcome, error) {
	if IsIgnoredCategory(env.Category) {
		r.logger.Debug("ignoring envelope", zap.String("category", env.Category), zap.String("id", env.ID))
		return OutcomeIgnored, nil
	}

	if err := Validate(&env); err != nil {
		return "", err
	}

	channelArn := env.ChannelArn()
	eventName := env.EventName()

	owner, err := r.directory.FindOwnerByChannel(ctx, channelArn)
	if err != nil {
		if errors.Is(err, repository.ErrOwnerNotFound) {
			return "", fmt.Errorf("%w: channel %s", ErrOwnerNotFound, channelArn)
		}
		return "", fmt.Errorf("%w: find owner: %w", ErrStoreFailure, err)
	}

	sessionID, err := r.resolver.Resolve(ctx, channelArn, env.Detail.SessionID, env.Time)
	if err != nil {
		return "", err
	}

	unlock, err := r.locker.Lock(ctx, lock.SessionKey(channelArn, sessionID))
	if err != nil {
		return "", fmt.Errorf("%w: lock session: %w", ErrStoreFailure, err)
	}
	defer unlock()

	existing, err := r.store.GetSession(ctx, channelArn, sessionID)
	if err != nil {
		return "", fmt.Errorf("%w: read session: %w", ErrStoreFailure, err)
	}

	in := MergeInput{
		ChannelArn: channelArn,
		SessionID:  sessionID,
		EventName:  eventName,
		EventType:  env.Category,
		EventTime:  env.Time,
	}
	if existing != nil {
		in.Existing = existing.TruncatedEvents
	}
	if IsSessionStart(eventName) {
		in.Siblings, err = r.store.ListSessionsByChannel(ctx, channelArn)
		if err != nil {
			return "", fmt.Errorf("%w: list sessions: %w", ErrStoreFailure, err)
		}
	}

	res := Merge(in)

	err = r.store.AppendEvent(ctx, repository.AppendRequest{
		ChannelArn: channelArn,
		SessionID:  sessionID,
		UserSub:    owner.ID,
		Event:      res.Event,
		Log:        res.Log,
		PriorLen:   res.PriorLen,
		Set:        res.Set,
		Unset:      res.Unset,
	})
	if err != nil {
		return "", fmt.Errorf("%w: append event: %w", ErrStoreFailure, err)
	}

	if err := r.closeSessions(ctx, channelArn, res.Close); err != nil {
		return "", err
	}

	r.logger.Info("event reconciled",
		zap.String("channel_arn", channelArn),
		zap.String("channel_name", env.Detail.ChannelName),
		zap.String("session_id", sessionID),
		zap.String("event", eventName),
		zap.String("category", env.Category),
		zap.Strings("closed", res.Close),
	)

	r.publish(ctx, channelArn, sessionID, owner.ID, res)
	return OutcomeMerged, nil
}

// closeSessions closes all ids concurrently and waits for every call. Closes
// that succeeded before a failure stay applied.
func (r *Reconciler) closeSessions(ctx context.Context, channelArn string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := r.store.CloseSession(gctx, channelArn, id); err != nil {
				return fmt.Errorf("%w: close session %s: %w", ErrStoreFailure, id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Reconciler) publish(ctx context.Context, channelArn, sessionID, userSub string, res MergeResult) {
	if r.publisher == nil {
		return
	}

	change := SessionChange{
		EventType:  "session_reconciled",
		ChannelArn: channelArn,
		SessionID:  sessionID,
		UserSub:    userSub,
		Event:      res.Event,
		Closed:     res.Close,
		Timestamp:  time.Now().Unix(),
	}
	if healthy, ok := res.Set[models.AttrIsHealthy].(bool); ok {
		change.IsHealthy = healthy
	}

	data, err := json.Marshal(change)
	if err != nil {
		r.logger.Warn("failed to encode session change", zap.Error(err))
		return
	}
	if err := r.publisher.Publish(ctx, channelArn, data); err != nil {
		r.logger.Warn("could not publish session change",
			zap.String("channel_arn", channelArn),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}
