package repository

import (
	"context"
	"errors"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
)

var (
	// ErrOwnerNotFound is returned when no directory entry maps the channel.
	ErrOwnerNotFound = errors.New("channel owner not found")

	// ErrConcurrentUpdate is returned by AppendEvent when the session log
	// changed between the read and the write.
	ErrConcurrentUpdate = errors.New("session log changed concurrently")
)

// ChannelDirectory resolves the user owning a channel.
type ChannelDirectory interface {
	FindOwnerByChannel(ctx context.Context, channelArn string) (*models.ChannelOwner, error)
}

// SessionStore is the gateway to the stream session table.
type SessionStore interface {
	// GetSession returns nil and no error when the session does not exist.
	GetSession(ctx context.Context, channelArn, sessionID string) (*models.StreamSession, error)
	// ListSessionsByChannel returns the started sessions of a channel, most
	// recent startTime first.
	ListSessionsByChannel(ctx context.Context, channelArn string) ([]models.SessionSummary, error)
	AppendEvent(ctx context.Context, req AppendRequest) error
	CloseSession(ctx context.Context, channelArn, sessionID string) error
}

// AppendRequest is one merge applied to a session as a single update.
type AppendRequest struct {
	ChannelArn string
	SessionID  string
	// UserSub is written only if the session has none yet.
	UserSub string
	// Event is the entry being appended.
	Event models.Event
	// Log is the complete sorted log after the merge. It must contain every
	// entry of the log the merge was computed from plus Event.
	Log []models.Event
	// PriorLen is the log length the merge was computed from.
	PriorLen int
	Set      map[string]interface{}
	Unset    []string
}
