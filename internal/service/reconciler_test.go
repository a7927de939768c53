package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/lock"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/repository"
)

const testChannel = "arn:aws:ivs:us-west-2:123456789012:channel/abc"

// recordingStore records the writes passed to the wrapped MemoryStore.
type recordingStore struct {
	*repository.MemoryStore

	mu       sync.Mutex
	calls    int
	appends  []repository.AppendRequest
	closes   []string
	closeErr error
}

func newRecordingStore() *recordingStore {
	s := &recordingStore{MemoryStore: repository.NewMemoryStore()}
	s.PutOwner(testChannel, "user-1")
	return s
}

func (s *recordingStore) count() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *recordingStore) FindOwnerByChannel(ctx context.Context, channelArn string) (*models.ChannelOwner, error) {
	s.count()
	return s.MemoryStore.FindOwnerByChannel(ctx, channelArn)
}

func (s *recordingStore) GetSession(ctx context.Context, channelArn, sessionID string) (*models.StreamSession, error) {
	s.count()
	return s.MemoryStore.GetSession(ctx, channelArn, sessionID)
}

func (s *recordingStore) ListSessionsByChannel(ctx context.Context, channelArn string) ([]models.SessionSummary, error) {
	s.count()
	return s.MemoryStore.ListSessionsByChannel(ctx, channelArn)
}

func (s *recordingStore) AppendEvent(ctx context.Context, req repository.AppendRequest) error {
	s.mu.Lock()
	s.calls++
	s.appends = append(s.appends, req)
	s.mu.Unlock()
	return s.MemoryStore.AppendEvent(ctx, req)
}

func (s *recordingStore) CloseSession(ctx context.Context, channelArn, sessionID string) error {
	s.mu.Lock()
	s.calls++
	s.closes = append(s.closes, sessionID)
	closeErr := s.closeErr
	s.mu.Unlock()
	if closeErr != nil {
		return closeErr
	}
	return s.MemoryStore.CloseSession(ctx, channelArn, sessionID)
}

func newTestReconciler(store *recordingStore, opts ...Option) *Reconciler {
	return NewReconciler(store, store, lock.NewKeyedMutex(), zap.NewNop(), opts...)
}

func envelope(category, name, sessionID, at string) models.Envelope {
	env := models.Envelope{
		Category:  category,
		Time:      at,
		Resources: []string{testChannel},
		Detail:    models.Detail{SessionID: sessionID},
	}
	if category == models.CategoryLimitBreach {
		env.Detail.LimitName = name
	} else {
		env.Detail.EventName = name
	}
	return env
}

func openSessions(store *recordingStore) []string {
	var ids []string
	for _, s := range store.Sessions(testChannel) {
		if s.Open() {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func TestReconcileIgnoresAuditEvents(t *testing.T) {
	store := newRecordingStore()
	r := newTestReconciler(store)

	env := envelope(models.CategoryCloudTrail, "", "", "")
	env.Resources = nil

	outcome, err := r.Reconcile(context.Background(), env)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeIgnored)
	}
	if store.calls != 0 {
		t.Errorf("store calls = %d, want 0", store.calls)
	}
}

func TestReconcileValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Envelope)
	}{
		{"missing channelArn", func(e *models.Envelope) { e.Resources = nil }},
		{"blank channelArn", func(e *models.Envelope) { e.Resources = []string{"  "} }},
		{"missing time", func(e *models.Envelope) { e.Time = "" }},
		{"unparseable time", func(e *models.Envelope) { e.Time = "2024-01-01T01" }},
		{"space separated time", func(e *models.Envelope) { e.Time = "2024-01-01 00:00:00" }},
		{"missing category", func(e *models.Envelope) { e.Category = "" }},
		{"missing event name", func(e *models.Envelope) { e.Detail.EventName = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newRecordingStore()
			r := newTestReconciler(store)

			env := envelope(models.CategoryStateChange, models.EventSessionCreated, "s1", "2024-01-01T00:00:00Z")
			tt.mutate(&env)

			_, err := r.Reconcile(context.Background(), env)
			if !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("err = %v, want ErrValidationFailed", err)
			}
			if store.calls != 0 {
				t.Errorf("store calls = %d, want 0", store.calls)
			}
		})
	}
}

func TestReconcileOwnerNotFound(t *testing.T) {
	store := newRecordingStore()
	r := newTestReconciler(store)

	env := envelope(models.CategoryStateChange, models.EventSessionCreated, "s1", "2024-01-01T00:00:00Z")
	env.Resources = []string{"arn:unknown"}

	_, err := r.Reconcile(context.Background(), env)
	if !errors.Is(err, ErrOwnerNotFound) {
		t.Fatalf("err = %v, want ErrOwnerNotFound", err)
	}
	if Classify(err) != "owner_not_found" {
		t.Errorf("Classify = %q", Classify(err))
	}
	if len(store.appends) != 0 {
		t.Error("no append expected")
	}
}

func TestReconcileNoMatchingSession(t *testing.T) {
	store := newRecordingStore()
	store.PutSession(models.StreamSession{ChannelArn: testChannel, ID: "s1", StartTime: "2024-01-01T05:00:00Z"})
	r := newTestReconciler(store)

	env := envelope(models.CategoryHealthChange, models.EventStarvationStart, "", "2024-01-01T04:00:00Z")

	_, err := r.Reconcile(context.Background(), env)
	if !errors.Is(err, ErrNoMatchingSession) {
		t.Fatalf("err = %v, want ErrNoMatchingSession", err)
	}
	if len(store.appends) != 0 {
		t.Error("no append expected")
	}
}

func TestReconcileSessionStartClosesOldSession(t *testing.T) {
	store := newRecordingStore()
	store.PutSession(models.StreamSession{
		ChannelArn: testChannel,
		ID:         "old",
		StartTime:  "2024-01-01T00:00:00Z",
		IsOpen:     models.OpenValue(),
		TruncatedEvents: []models.Event{
			{EventTime: "2024-01-01T00:00:00Z", Name: models.EventSessionCreated, Type: models.CategoryStateChange},
		},
	})
	r := newTestReconciler(store)

	env := envelope(models.CategoryStateChange, models.EventSessionCreated, "new", "2024-01-01T01:00:00Z")
	outcome, err := r.Reconcile(context.Background(), env)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome != OutcomeMerged {
		t.Errorf("outcome = %q", outcome)
	}

	if len(store.appends) != 1 {
		t.Fatalf("appends = %d, want 1", len(store.appends))
	}
	req := store.appends[0]
	if req.SessionID != "new" || req.UserSub != "user-1" {
		t.Errorf("append target = %s/%s", req.SessionID, req.UserSub)
	}
	if req.Set[models.AttrStartTime] != "2024-01-01T01:00:00Z" ||
		req.Set[models.AttrHasErrorEvent] != false ||
		req.Set[models.AttrIsOpen] != models.OpenMarker {
		t.Errorf("Set = %v", req.Set)
	}
	if len(store.closes) != 1 || store.closes[0] != "old" {
		t.Errorf("closes = %v, want [old]", store.closes)
	}

	open := openSessions(store)
	if len(open) != 1 || open[0] != "new" {
		t.Errorf("open sessions = %v, want [new]", open)
	}

	created, err := store.MemoryStore.GetSession(context.Background(), testChannel, "new")
	if err != nil || created == nil {
		t.Fatalf("GetSession(new) = %v, %v", created, err)
	}
	if created.UserSub != "user-1" || len(created.TruncatedEvents) != 1 {
		t.Errorf("created session = %+v", created)
	}
}

func TestReconcileSessionEnd(t *testing.T) {
	store := newRecordingStore()
	store.PutSession(models.StreamSession{
		ChannelArn: testChannel,
		ID:         "s1",
		UserSub:    "user-1",
		StartTime:  "2024-01-01T00:00:00Z",
		IsOpen:     models.OpenValue(),
		IsHealthy:  true,
		TruncatedEvents: []models.Event{
			{EventTime: "2024-01-01T00:00:00Z", Name: models.EventSessionCreated, Type: models.CategoryStateChange},
		},
	})
	r := newTestReconciler(store)

	env := envelope(models.CategoryStateChange, models.EventSessionEnded, "s1", "2024-01-01T02:00:00Z")
	if _, err := r.Reconcile(context.Background(), env); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	req := store.appends[0]
	if len(req.Unset) != 1 || req.Unset[0] != models.AttrIsOpen {
		t.Errorf("Unset = %v", req.Unset)
	}
	if req.Set[models.AttrEndTime] != "2024-01-01T02:00:00Z" {
		t.Errorf("endTime = %v", req.Set[models.AttrEndTime])
	}
	if _, ok := req.Set[models.AttrIsHealthy]; !ok {
		t.Error("isHealthy must always be set")
	}
	if len(store.closes) != 0 {
		t.Errorf("closes = %v, want none", store.closes)
	}
	if open := openSessions(store); len(open) != 0 {
		t.Errorf("open sessions = %v, want none", open)
	}
}

func TestReconcileResolvesAcrossOffsets(t *testing.T) {
	store := newRecordingStore()
	store.PutSession(models.StreamSession{ChannelArn: testChannel, ID: "B", StartTime: "2024-01-01T11:30:00+02:00"})
	store.PutSession(models.StreamSession{ChannelArn: testChannel, ID: "A", StartTime: "2024-01-01T10:00:00Z", IsOpen: models.OpenValue()})
	r := newTestReconciler(store)

	env := envelope(models.CategoryHealthChange, models.EventStarvationStart, "", "2024-01-01T10:30:00Z")
	if _, err := r.Reconcile(context.Background(), env); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if len(store.appends) != 1 || store.appends[0].SessionID != "A" {
		t.Fatalf("appended to %+v, want session A", store.appends)
	}
}

func TestReconcileLogsChannelName(t *testing.T) {
	store := newRecordingStore()
	core, logs := observer.New(zap.InfoLevel)
	r := NewReconciler(store, store, lock.NewKeyedMutex(), zap.New(core))

	env := envelope(models.CategoryStateChange, models.EventSessionCreated, "s1", "2024-01-01T00:00:00Z")
	env.Detail.ChannelName = "main-stage"
	if _, err := r.Reconcile(context.Background(), env); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	entries := logs.FilterMessage("event reconciled").All()
	if len(entries) != 1 {
		t.Fatalf("got %d reconcile log entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["channel_name"]; got != "main-stage" {
		t.Errorf("channel_name = %v, want main-stage", got)
	}
}

func TestReconcileLimitBreachResolvesByTime(t *testing.T) {
	store := newRecordingStore()
	store.PutSession(models.StreamSession{
		ChannelArn: testChannel,
		ID:         "s1",
		StartTime:  "2024-01-01T00:00:00Z",
		IsOpen:     models.OpenValue(),
	})
	r := newTestReconciler(store)

	env := envelope(models.CategoryLimitBreach, "Concurrent Streams", "", "2024-01-01T00:30:00Z")
	if _, err := r.Reconcile(context.Background(), env); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, _ := store.MemoryStore.GetSession(context.Background(), testChannel, "s1")
	if !got.HasErrorEvent {
		t.Error("hasErrorEvent = false, want true")
	}
	if len(got.TruncatedEvents) != 1 || got.TruncatedEvents[0].Name != "Concurrent Streams" ||
		got.TruncatedEvents[0].Type != models.CategoryLimitBreach {
		t.Errorf("log = %+v", got.TruncatedEvents)
	}
}

func TestReconcileResolverPicksSessionStartedBeforeEvent(t *testing.T) {
	store := newRecordingStore()
	store.PutSession(models.StreamSession{ChannelArn: testChannel, ID: "t0", StartTime: "2024-01-01T00:00:00Z"})
	store.PutSession(models.StreamSession{ChannelArn: testChannel, ID: "t2", StartTime: "2024-01-01T02:00:00Z"})

	id, err := NewSessionResolver(store).Resolve(context.Background(), testChannel, "", "2024-01-01T01:00:00Z")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "t0" {
		t.Errorf("Resolve = %q, want t0", id)
	}

	id, err = NewSessionResolver(store).Resolve(context.Background(), testChannel, "explicit", "2024-01-01T01:00:00Z")
	if err != nil || id != "explicit" {
		t.Errorf("Resolve(explicit) = %q, %v", id, err)
	}
}

func TestReconcileAtMostOneOpen(t *testing.T) {
	store := newRecordingStore()
	r := newTestReconciler(store)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		env := envelope(models.CategoryStateChange, models.EventSessionCreated,
			fmt.Sprintf("s%d", i), fmt.Sprintf("2024-01-01T0%d:00:00Z", i))
		if _, err := r.Reconcile(ctx, env); err != nil {
			t.Fatalf("start s%d: %v", i, err)
		}
		if open := openSessions(store); len(open) != 1 || open[0] != fmt.Sprintf("s%d", i) {
			t.Fatalf("after start s%d open sessions = %v", i, open)
		}
	}

	end := envelope(models.CategoryStateChange, models.EventSessionEnded, "s4", "2024-01-01T05:00:00Z")
	if _, err := r.Reconcile(ctx, end); err != nil {
		t.Fatalf("end: %v", err)
	}
	if open := openSessions(store); len(open) != 0 {
		t.Errorf("open sessions after end = %v", open)
	}
}

func TestReconcileLateStartAfterEndStaysClosed(t *testing.T) {
	store := newRecordingStore()
	r := newTestReconciler(store)
	ctx := context.Background()

	end := envelope(models.CategoryStateChange, models.EventSessionEnded, "s1", "2024-01-01T02:00:00Z")
	if _, err := r.Reconcile(ctx, end); err != nil {
		t.Fatalf("end: %v", err)
	}
	start := envelope(models.CategoryStateChange, models.EventSessionCreated, "s1", "2024-01-01T00:00:00Z")
	if _, err := r.Reconcile(ctx, start); err != nil {
		t.Fatalf("start: %v", err)
	}

	got, _ := store.MemoryStore.GetSession(ctx, testChannel, "s1")
	if got.Open() {
		t.Error("replayed start reopened an ended session")
	}
	if got.StartTime != "2024-01-01T00:00:00Z" || got.EndTime != "2024-01-01T02:00:00Z" {
		t.Errorf("times = %s..%s", got.StartTime, got.EndTime)
	}
	if got.TruncatedEvents[0].Name != models.EventSessionCreated {
		t.Errorf("log not sorted: %+v", got.TruncatedEvents)
	}
}

func TestReconcileCloseFailure(t *testing.T) {
	store := newRecordingStore()
	store.closeErr = errors.New("throttled")
	store.PutSession(models.StreamSession{ChannelArn: testChannel, ID: "old", StartTime: "2024-01-01T00:00:00Z", IsOpen: models.OpenValue()})
	r := newTestReconciler(store)

	env := envelope(models.CategoryStateChange, models.EventSessionCreated, "new", "2024-01-01T01:00:00Z")
	_, err := r.Reconcile(context.Background(), env)
	if !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("err = %v, want ErrStoreFailure", err)
	}
	if len(store.appends) != 1 {
		t.Errorf("appends = %d, want 1", len(store.appends))
	}
}

type failingLocker struct{}

func (failingLocker) Lock(ctx context.Context, key string) (func(), error) {
	return nil, errors.New("lock backend down")
}

func TestReconcileLockFailure(t *testing.T) {
	store := newRecordingStore()
	r := NewReconciler(store, store, failingLocker{}, zap.NewNop())

	env := envelope(models.CategoryStateChange, models.EventSessionCreated, "s1", "2024-01-01T00:00:00Z")
	_, err := r.Reconcile(context.Background(), env)
	if !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("err = %v, want ErrStoreFailure", err)
	}
	if len(store.appends) != 0 {
		t.Error("no append expected without the lock")
	}
}

func TestReconcileConcurrentAppendsSameSession(t *testing.T) {
	store := newRecordingStore()
	store.PutSession(models.StreamSession{ChannelArn: testChannel, ID: "s1", StartTime: "2024-01-01T00:00:00Z", IsOpen: models.OpenValue()})
	r := newTestReconciler(store)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := models.EventStarvationStart
			if i%2 == 1 {
				name = models.EventStarvationEnd
			}
			at := fmt.Sprintf("2024-01-01T00:%02d:00Z", n-i)
			if _, err := r.Reconcile(context.Background(), envelope(models.CategoryHealthChange, name, "s1", at)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Reconcile: %v", err)
	}

	got, _ := store.MemoryStore.GetSession(context.Background(), testChannel, "s1")
	if len(got.TruncatedEvents) != n {
		t.Fatalf("log length = %d, want %d", len(got.TruncatedEvents), n)
	}
	for i := 1; i < len(got.TruncatedEvents); i++ {
		if models.CompareTimes(got.TruncatedEvents[i-1].EventTime, got.TruncatedEvents[i].EventTime) > 0 {
			t.Fatalf("log not sorted at %d: %+v", i, got.TruncatedEvents)
		}
	}
	// latest event is i=0 at minute 40, a Starvation Start
	if got.IsHealthy {
		t.Error("isHealthy = true, want false")
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	data [][]byte
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, partitionKey string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, partitionKey)
	p.data = append(p.data, data)
	return p.err
}

func TestReconcilePublishesChange(t *testing.T) {
	store := newRecordingStore()
	pub := &recordingPublisher{}
	r := newTestReconciler(store, WithPublisher(pub))

	env := envelope(models.CategoryStateChange, models.EventSessionCreated, "s1", "2024-01-01T00:00:00Z")
	if _, err := r.Reconcile(context.Background(), env); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if len(pub.keys) != 1 || pub.keys[0] != testChannel {
		t.Fatalf("published keys = %v", pub.keys)
	}
	var change SessionChange
	if err := json.Unmarshal(pub.data[0], &change); err != nil {
		t.Fatalf("decode change: %v", err)
	}
	if change.SessionID != "s1" || change.UserSub != "user-1" || !change.IsHealthy {
		t.Errorf("change = %+v", change)
	}
}

func TestReconcilePublishFailureIsNotFatal(t *testing.T) {
	store := newRecordingStore()
	r := newTestReconciler(store, WithPublisher(&recordingPublisher{err: errors.New("stream missing")}))

	env := envelope(models.CategoryStateChange, models.EventSessionCreated, "s1", "2024-01-01T00:00:00Z")
	if _, err := r.Reconcile(context.Background(), env); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("%w: missing time", ErrValidationFailed), "validation_failed"},
		{repository.ErrOwnerNotFound, "owner_not_found"},
		{fmt.Errorf("x: %w", ErrNoMatchingSession), "no_matching_session"},
		{fmt.Errorf("%w: append: %w", ErrStoreFailure, repository.ErrConcurrentUpdate), "store_failure"},
		{errors.New("boom"), "unknown"},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
