package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
)

// MemoryStore keeps sessions and channel owners in process. It applies the
// same update semantics as the DynamoDB gateway and backs tests and
// STORE_BACKEND=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.StreamSession
	owners   map[string]models.ChannelOwner
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.StreamSession),
		owners:   make(map[string]models.ChannelOwner),
	}
}

func memoryKey(channelArn, sessionID string) string {
	return channelArn + "|" + sessionID
}

// PutOwner registers a channel owner.
func (m *MemoryStore) PutOwner(channelArn, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[channelArn] = models.ChannelOwner{ID: ownerID, ChannelArn: channelArn}
}

// PutSession stores a copy of session, replacing any existing record.
func (m *MemoryStore) PutSession(session models.StreamSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[memoryKey(session.ChannelArn, session.ID)] = cloneSession(&session)
}

// Sessions returns copies of every session of a channel, in no order.
func (m *MemoryStore) Sessions(channelArn string) []models.StreamSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.StreamSession
	for _, s := range m.sessions {
		if s.ChannelArn == channelArn {
			out = append(out, *cloneSession(s))
		}
	}
	return out
}

func (m *MemoryStore) FindOwnerByChannel(ctx context.Context, channelArn string) (*models.ChannelOwner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.owners[channelArn]
	if !ok {
		return nil, ErrOwnerNotFound
	}
	return &owner, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, channelArn, sessionID string) (*models.StreamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[memoryKey(channelArn, sessionID)]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) ListSessionsByChannel(ctx context.Context, channelArn string) ([]models.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SessionSummary
	for _, s := range m.sessions {
		// sessions without startTime are not in the index
		if s.ChannelArn != channelArn || s.StartTime == "" {
			continue
		}
		summary := models.SessionSummary{ID: s.ID, StartTime: s.StartTime}
		if s.IsOpen != nil {
			summary.IsOpen = models.OpenValue()
		}
		out = append(out, summary)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := models.CompareTimes(out[i].StartTime, out[j].StartTime); c != 0 {
			return c > 0
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, req AppendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(req.ChannelArn, req.SessionID)
	s, ok := m.sessions[key]
	if ok && s.TruncatedEvents != nil && len(s.TruncatedEvents) != req.PriorLen {
		return fmt.Errorf("append to %s/%s: %w", req.ChannelArn, req.SessionID, ErrConcurrentUpdate)
	}

	next := &models.StreamSession{ChannelArn: req.ChannelArn, ID: req.SessionID}
	if ok {
		next = cloneSession(s)
	}

	if next.UserSub == "" {
		next.UserSub = req.UserSub
	}
	next.TruncatedEvents = append([]models.Event(nil), req.Log...)

	for name, value := range req.Set {
		if err := setAttribute(next, name, value); err != nil {
			return err
		}
	}
	for _, name := range req.Unset {
		if err := unsetAttribute(next, name); err != nil {
			return err
		}
	}

	m.sessions[key] = next
	return nil
}

func (m *MemoryStore) CloseSession(ctx context.Context, channelArn, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[memoryKey(channelArn, sessionID)]; ok {
		s.IsOpen = nil
	}
	return nil
}

func setAttribute(s *models.StreamSession, name string, value interface{}) error {
	switch name {
	case models.AttrStartTime:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("attribute %s: unexpected type %T", name, value)
		}
		s.StartTime = v
	case models.AttrEndTime:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("attribute %s: unexpected type %T", name, value)
		}
		s.EndTime = v
	case models.AttrIsOpen:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("attribute %s: unexpected type %T", name, value)
		}
		s.IsOpen = &v
	case models.AttrIsHealthy:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("attribute %s: unexpected type %T", name, value)
		}
		s.IsHealthy = v
	case models.AttrHasErrorEvent:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("attribute %s: unexpected type %T", name, value)
		}
		s.HasErrorEvent = v
	default:
		return fmt.Errorf("attribute %s cannot be set", name)
	}
	return nil
}

func unsetAttribute(s *models.StreamSession, name string) error {
	switch name {
	case models.AttrIsOpen:
		s.IsOpen = nil
	case models.AttrEndTime:
		s.EndTime = ""
	case models.AttrStartTime:
		s.StartTime = ""
	default:
		return fmt.Errorf("attribute %s cannot be removed", name)
	}
	return nil
}

func cloneSession(s *models.StreamSession) *models.StreamSession {
	c := *s
	if s.IsOpen != nil {
		v := *s.IsOpen
		c.IsOpen = &v
	}
	if s.TruncatedEvents != nil {
		c.TruncatedEvents = append([]models.Event(nil), s.TruncatedEvents...)
	}
	return &c
}
