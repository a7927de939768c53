package service

import (
	"sort"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
)

// MergeInput is everything the merge needs. Merge does no I/O.
type MergeInput struct {
	ChannelArn string
	SessionID  string
	EventName  string
	EventType  string
	EventTime  string
	// Existing is the session's log as read from the store.
	Existing []models.Event
	// Siblings are the channel's sessions; only consulted for session starts.
	Siblings []models.SessionSummary
}

// MergeResult holds the update for the target session and the sessions that
// have to be closed afterwards.
type MergeResult struct {
	Event    models.Event
	Log      []models.Event
	PriorLen int
	Set      map[string]interface{}
	Unset    []string
	Close    []string
}

func IsSessionStart(name string) bool { return name == models.EventSessionCreated }

func IsSessionEnd(name string) bool { return name == models.EventSessionEnded }

func IsLimitBreach(eventType string) bool { return eventType == models.CategoryLimitBreach }

// Merge folds one event into a session log and derives the attribute changes.
func Merge(in MergeInput) MergeResult {
	event := models.Event{
		EventTime: in.EventTime,
		Name:      in.EventName,
		Type:      in.EventType,
	}

	log := SortEvents(append(append(make([]models.Event, 0, len(in.Existing)+1), in.Existing...), event))

	res := MergeResult{
		Event:    event,
		Log:      log,
		PriorLen: len(in.Existing),
		Set: map[string]interface{}{
			models.AttrIsHealthy: DeriveHealth(log),
		},
	}

	if IsSessionStart(in.EventName) {
		res.Set[models.AttrStartTime] = in.EventTime

		// A start that follows an end in the same log is a late replay of
		// the start, not a new broadcast: the flags are left alone.
		if !containsEnd(in.Existing) {
			res.Set[models.AttrHasErrorEvent] = false
			res.Set[models.AttrIsOpen] = models.OpenMarker
		}

		res.Close = staleSessions(in.Siblings, in.SessionID)
	}

	if IsSessionEnd(in.EventName) {
		res.Set[models.AttrEndTime] = in.EventTime
		res.Unset = append(res.Unset, models.AttrIsOpen)
	}

	if IsLimitBreach(in.EventType) {
		res.Set[models.AttrHasErrorEvent] = true
	}

	return res
}

// SortEvents sorts log ascending by eventTime in place, keeping the relative
// order of equal timestamps, and returns it.
func SortEvents(log []models.Event) []models.Event {
	sort.SliceStable(log, func(i, j int) bool {
		return models.CompareTimes(log[i].EventTime, log[j].EventTime) < 0
	})
	return log
}

// DeriveHealth is false only when the latest health change in the sorted log
// is a starvation start.
func DeriveHealth(sorted []models.Event) bool {
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Type == models.CategoryHealthChange {
			return sorted[i].Name != models.EventStarvationStart
		}
	}
	return true
}

func containsEnd(log []models.Event) bool {
	for _, e := range log {
		if IsSessionEnd(e.Name) {
			return true
		}
	}
	return false
}

// staleSessions lists every other session of the channel. The projected
// isOpen can lag behind the table, so it is not consulted; closing a closed
// session is a no-op.
func staleSessions(siblings []models.SessionSummary, keep string) []string {
	var ids []string
	seen := make(map[string]bool, len(siblings))
	for _, s := range siblings {
		if s.ID == keep || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		ids = append(ids, s.ID)
	}
	return ids
}
