package mindsync

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	interrors "github.com/mindsentry/mindsync/internal/errors"
	"github.com/mindsentry/mindsync/internal/netmon"
	"github.com/mindsentry/mindsync/internal/store"
	"github.com/mindsentry/mindsync/internal/types"
)

// ------------------------- test doubles -------------------------

// fakeMonitor is a hand-driven connectivity monitor.
type fakeMonitor struct {
	mu        sync.Mutex
	connected bool
	listeners map[int]func(netmon.State)
	nextID    int
}

func newFakeMonitor(connected bool) *fakeMonitor {
	return &fakeMonitor{connected: connected, listeners: make(map[int]func(netmon.State))}
}

func (m *fakeMonitor) Subscribe(cb func(netmon.State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = cb
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *fakeMonitor) IsConnectedNow(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *fakeMonitor) UnsubscribeAll() {
	m.mu.Lock()
	m.listeners = make(map[int]func(netmon.State))
	m.mu.Unlock()
}

// setConnected flips the state and fires listeners on a transition.
func (m *fakeMonitor) setConnected(connected bool) {
	m.mu.Lock()
	transition := m.connected != connected
	m.connected = connected
	var cbs []func(netmon.State)
	if transition {
		for _, cb := range m.listeners {
			cbs = append(cbs, cb)
		}
	}
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(netmon.State{Connected: connected})
	}
}

// fakeRemote records submissions in order and fails scripted ids.
type fakeRemote struct {
	mu       sync.Mutex
	calls    []string // record ids in submission order
	failWith map[string]error
	failOnce map[string]error
	gate     chan struct{} // when set, submissions block until closed

	dashboard      *types.Dashboard
	insights       *types.Insights
	dashboardCalls int
	insightsCalls  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		failWith: make(map[string]error),
		failOnce: make(map[string]error),
	}
}

func (r *fakeRemote) submit(id string) error {
	r.mu.Lock()
	gate := r.gate
	r.calls = append(r.calls, id)
	err, sticky := r.failWith[id]
	if !sticky {
		if once, ok := r.failOnce[id]; ok {
			err = once
			delete(r.failOnce, id)
		}
	}
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (r *fakeRemote) SubmitCheckIn(_ context.Context, _ types.CheckInRequest, key string) error {
	return r.submit(key)
}

func (r *fakeRemote) SendChatMessage(_ context.Context, _ types.ChatMessageRequest, key string) error {
	return r.submit(key)
}

func (r *fakeRemote) FetchDashboard(context.Context) (*types.Dashboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dashboardCalls++
	if r.dashboard == nil {
		return nil, fmt.Errorf("no dashboard configured")
	}
	return r.dashboard, nil
}

func (r *fakeRemote) FetchInsights(context.Context) (*types.Insights, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insightsCalls++
	if r.insights == nil {
		return nil, fmt.Errorf("no insights configured")
	}
	return r.insights, nil
}

func (r *fakeRemote) callIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// ------------------------- helpers -------------------------

func testConfig() Config {
	return Config{
		SettleDelay:   10 * time.Millisecond,
		MaxAttempts:   8,
		MaxRunRetries: 1,
		BaseBackoff:   5 * time.Millisecond,
		MaxInterval:   20 * time.Millisecond,
		CacheTTL:      time.Hour,
	}
}

func newTestEngine(t *testing.T, remote Remote, mon netmon.Monitor, opts ...Option) (*Engine, *store.SQLiteStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "mindsync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	opts = append([]Option{WithConfig(testConfig())}, opts...)
	e := New(st, remote, mon, opts...)
	t.Cleanup(func() { _ = e.Close() })
	return e, st
}

func sequenceIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

// ------------------------- tests -------------------------

func TestSyncAll_MarksEnqueuedRecordSynced(t *testing.T) {
	remote := newFakeRemote()
	e, st := newTestEngine(t, remote, newFakeMonitor(true))
	ctx := context.Background()

	rec, err := e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm", Note: "ok"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	unsynced, _ := st.ListUnsynced(ctx, store.CollectionCheckIns)
	if len(unsynced) != 1 || unsynced[0].Synced {
		t.Fatalf("expected one unsynced record, got %+v", unsynced)
	}

	sum := e.SyncAll(ctx)
	if !sum.Success || sum.CheckInsSynced != 1 || len(sum.Errors) != 0 {
		t.Fatalf("summary = %+v", sum)
	}

	unsynced, _ = st.ListUnsynced(ctx, store.CollectionCheckIns)
	if len(unsynced) != 0 {
		t.Fatalf("still unsynced: %+v", unsynced)
	}
	all, _ := st.ListAll(ctx, store.CollectionCheckIns)
	if len(all) != 1 || !all[0].Synced || all[0].ID != rec.ID {
		t.Fatalf("record not marked synced: %+v", all)
	}
}

func TestSyncAll_PartialFailureKeepsFailedQueued(t *testing.T) {
	remote := newFakeRemote()
	e, st := newTestEngine(t, remote,
		newFakeMonitor(true),
		WithIDGenerator(sequenceIDs("m1", "m2")))
	ctx := context.Background()

	if _, err := e.EnqueueChatMessage(ctx, ChatMessage{Text: "first", Sender: "user"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := e.EnqueueChatMessage(ctx, ChatMessage{Text: "second", Sender: "user"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	remote.failWith["m1"] = &interrors.APIError{Op: "send chat message", StatusCode: 500, Detail: "boom"}

	sum := e.SyncAll(ctx)
	if sum.MessagesSynced != 1 {
		t.Fatalf("messagesSynced = %d, want 1", sum.MessagesSynced)
	}
	// A per-record failure does not fail the run itself.
	if !sum.Success {
		t.Fatalf("per-record failure must not fail the run: %+v", sum)
	}

	unsynced, _ := st.ListUnsynced(ctx, store.CollectionChatMessages)
	if len(unsynced) != 1 || unsynced[0].ID != "m1" {
		t.Fatalf("unsynced = %+v, want exactly m1", unsynced)
	}
	if unsynced[0].Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", unsynced[0].Attempts)
	}
}

func TestSyncAll_RetrySucceedsOnNextRun(t *testing.T) {
	remote := newFakeRemote()
	e, st := newTestEngine(t, remote,
		newFakeMonitor(true),
		WithIDGenerator(sequenceIDs("c1")))
	ctx := context.Background()

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Tense"})
	remote.failOnce["c1"] = &interrors.NetworkError{Op: "submit check-in", Timeout: true, Err: fmt.Errorf("deadline")}

	if sum := e.SyncAll(ctx); sum.CheckInsSynced != 0 {
		t.Fatalf("first run should fail delivery: %+v", sum)
	}
	if sum := e.SyncAll(ctx); !sum.Success || sum.CheckInsSynced != 1 {
		t.Fatalf("second run should deliver: %+v", sum)
	}
	unsynced, _ := st.ListUnsynced(ctx, store.CollectionCheckIns)
	if len(unsynced) != 0 {
		t.Fatalf("record still queued after successful retry: %+v", unsynced)
	}
}

func TestSyncAll_AuthErrorAbortsRun(t *testing.T) {
	remote := newFakeRemote()
	e, st := newTestEngine(t, remote,
		newFakeMonitor(true),
		WithIDGenerator(sequenceIDs("c1", "c2", "m1")))
	ctx := context.Background()

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm"})
	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Tense"})
	_, _ = e.EnqueueChatMessage(ctx, ChatMessage{Text: "hi", Sender: "user"})
	remote.failWith["c1"] = &interrors.AuthError{Op: "submit check-in"}

	sum := e.SyncAll(ctx)
	if sum.Success {
		t.Fatalf("run with session expiry must not report success: %+v", sum)
	}
	if got := remote.callIDs(); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("calls = %v, want only c1", got)
	}

	// Nothing was synced; everything stays queued for after re-login.
	unsyncedCheckIns, _ := st.ListUnsynced(ctx, store.CollectionCheckIns)
	unsyncedMessages, _ := st.ListUnsynced(ctx, store.CollectionChatMessages)
	if len(unsyncedCheckIns) != 2 || len(unsyncedMessages) != 1 {
		t.Fatalf("queue state after auth abort: %d check-ins, %d messages",
			len(unsyncedCheckIns), len(unsyncedMessages))
	}
}

func TestSyncAll_AuthErrorPreservesCompletedResults(t *testing.T) {
	remote := newFakeRemote()
	e, st := newTestEngine(t, remote,
		newFakeMonitor(true),
		WithIDGenerator(sequenceIDs("c1", "c2")))
	ctx := context.Background()

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm"})
	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Tense"})
	remote.failWith["c2"] = &interrors.AuthError{Op: "submit check-in"}

	sum := e.SyncAll(ctx)
	if sum.Success || sum.CheckInsSynced != 1 {
		t.Fatalf("summary = %+v, want one preserved success", sum)
	}
	unsynced, _ := st.ListUnsynced(ctx, store.CollectionCheckIns)
	if len(unsynced) != 1 || unsynced[0].ID != "c2" {
		t.Fatalf("unsynced = %+v, want only c2", unsynced)
	}
}

func TestSyncAll_MutualExclusion(t *testing.T) {
	remote := newFakeRemote()
	e, _ := newTestEngine(t, remote, newFakeMonitor(true))
	ctx := context.Background()

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm"})

	gate := make(chan struct{})
	remote.gate = gate

	first := make(chan Summary, 1)
	go func() { first <- e.SyncAll(ctx) }()

	// Wait until the first run is inside a submission.
	deadline := time.After(2 * time.Second)
	for len(remote.callIDs()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first run never submitted")
		case <-time.After(time.Millisecond):
		}
	}

	second := e.SyncAll(ctx)
	if second.Success {
		t.Fatalf("second concurrent run must not report success: %+v", second)
	}
	if got := len(remote.callIDs()); got != 1 {
		t.Fatalf("second run issued network calls: %d total", got)
	}

	close(gate)
	sum := <-first
	if !sum.Success || sum.CheckInsSynced != 1 {
		t.Fatalf("first run outcome altered: %+v", sum)
	}
}

func TestSyncAll_OrderPreservedWithinBatch(t *testing.T) {
	remote := newFakeRemote()
	e, _ := newTestEngine(t, remote,
		newFakeMonitor(true),
		WithIDGenerator(sequenceIDs("r1", "r2", "r3")))
	ctx := context.Background()

	for _, mood := range []string{"Calm", "Tense", "Happy"} {
		if _, err := e.EnqueueCheckIn(ctx, CheckIn{Mood: mood}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	e.SyncAll(ctx)
	got := remote.callIDs()
	want := []string{"r1", "r2", "r3"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("submission order = %v, want %v", got, want)
		}
	}
}

func TestSyncAll_IrrecoverableErrorDeadLettersImmediately(t *testing.T) {
	remote := newFakeRemote()
	e, st := newTestEngine(t, remote,
		newFakeMonitor(true),
		WithIDGenerator(sequenceIDs("bad")))
	ctx := context.Background()

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: ""})
	remote.failWith["bad"] = &interrors.APIError{Op: "submit check-in", StatusCode: 400, Detail: "mood is required"}

	e.SyncAll(ctx)

	unsynced, _ := st.ListUnsynced(ctx, store.CollectionCheckIns)
	if len(unsynced) != 0 {
		t.Fatalf("poison record still queued: %+v", unsynced)
	}
	dead, _ := st.ListAll(ctx, store.DeadLetterCollection(store.CollectionCheckIns))
	if len(dead) != 1 || dead[0].ID != "bad" {
		t.Fatalf("dead letters = %+v", dead)
	}

	// The dead-lettered record is never retried.
	e.SyncAll(ctx)
	if got := len(remote.callIDs()); got != 1 {
		t.Fatalf("dead-lettered record was retried: %d calls", got)
	}
}

func TestSyncAll_MaxAttemptsDeadLetters(t *testing.T) {
	remote := newFakeRemote()
	cfg := testConfig()
	cfg.MaxAttempts = 2
	e, st := newTestEngine(t, remote,
		newFakeMonitor(true),
		WithConfig(cfg),
		WithIDGenerator(sequenceIDs("flaky")))
	ctx := context.Background()

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm"})
	remote.failWith["flaky"] = &interrors.APIError{Op: "submit check-in", StatusCode: 503, Detail: "unavailable"}

	e.SyncAll(ctx) // attempt 1: stays queued
	unsynced, _ := st.ListUnsynced(ctx, store.CollectionCheckIns)
	if len(unsynced) != 1 {
		t.Fatalf("record should survive first failure: %+v", unsynced)
	}

	e.SyncAll(ctx) // attempt 2: budget exhausted
	unsynced, _ = st.ListUnsynced(ctx, store.CollectionCheckIns)
	if len(unsynced) != 0 {
		t.Fatalf("record should be dead-lettered after max attempts: %+v", unsynced)
	}
	dead, _ := st.ListAll(ctx, store.DeadLetterCollection(store.CollectionCheckIns))
	if len(dead) != 1 {
		t.Fatalf("dead letters = %+v", dead)
	}
}

func TestAttemptSync_SkipsWhenOffline(t *testing.T) {
	remote := newFakeRemote()
	mon := newFakeMonitor(false)
	e, st := newTestEngine(t, remote, mon)
	ctx := context.Background()

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm"})
	e.AttemptSync(ctx)

	if got := len(remote.callIDs()); got != 0 {
		t.Fatalf("no network calls expected while offline, got %d", got)
	}
	if off, _ := st.OfflineFlag(ctx); !off {
		t.Fatal("offline flag should be recorded")
	}
}

func TestAttemptSync_SkipsWhenNothingPending(t *testing.T) {
	remote := newFakeRemote()
	e, _ := newTestEngine(t, remote, newFakeMonitor(true))

	e.AttemptSync(context.Background())
	if got := len(remote.callIDs()); got != 0 {
		t.Fatalf("nothing pending, but %d calls issued", got)
	}
}

func TestStart_ConnectivityEventTriggersSync(t *testing.T) {
	remote := newFakeRemote()
	mon := newFakeMonitor(false)
	e, st := newTestEngine(t, remote, mon)
	ctx := context.Background()

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm"})
	e.Start()

	mon.setConnected(true)

	deadline := time.After(2 * time.Second)
	for {
		unsynced, _ := st.ListUnsynced(ctx, store.CollectionCheckIns)
		if len(unsynced) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("reconnect did not trigger a sync")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStart_DrainsBacklogFromPreviousProcess(t *testing.T) {
	remote := newFakeRemote()
	e, st := newTestEngine(t, remote, newFakeMonitor(true))
	ctx := context.Background()

	// Backlog exists before Start, as after a process restart.
	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm"})
	e.Start()

	deadline := time.After(2 * time.Second)
	for {
		unsynced, _ := st.ListUnsynced(ctx, store.CollectionCheckIns)
		if len(unsynced) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("startup attempt did not drain the backlog")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOnStatusChange_BroadcastsRunLifecycle(t *testing.T) {
	remote := newFakeRemote()
	e, _ := newTestEngine(t, remote, newFakeMonitor(true))
	ctx := context.Background()

	var mu sync.Mutex
	var messages []string
	unsub := e.OnStatusChange(func(st Status) {
		mu.Lock()
		messages = append(messages, st.Message)
		mu.Unlock()
	})

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm"})
	e.SyncAll(ctx)

	mu.Lock()
	got := append([]string(nil), messages...)
	mu.Unlock()
	if len(got) < 3 || got[0] != "Syncing offline data..." || got[len(got)-1] != "Sync complete" {
		t.Fatalf("status sequence = %v", got)
	}

	// After unsubscribe no further updates arrive.
	unsub()
	e.SyncAll(ctx)
	mu.Lock()
	after := len(messages)
	mu.Unlock()
	if after != len(got) {
		t.Fatalf("listener fired after unsubscribe: %d → %d messages", len(got), after)
	}
}

func TestSyncAll_StoreReadFailureReportedNotThrown(t *testing.T) {
	remote := newFakeRemote()
	st, err := store.Open(filepath.Join(t.TempDir(), "mindsync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	e := New(&failingListStore{Store: st}, remote, newFakeMonitor(true), WithConfig(testConfig()))
	t.Cleanup(func() { _ = e.Close(); _ = st.Close() })

	sum := e.SyncAll(context.Background())
	if sum.Success || len(sum.Errors) == 0 {
		t.Fatalf("store read failure must yield success=false with errors: %+v", sum)
	}
	if got := len(remote.callIDs()); got != 0 {
		t.Fatalf("no submissions expected, got %d", got)
	}
}

func TestSyncAll_MarkSyncedFailureKeepsRunNonFatal(t *testing.T) {
	remote := newFakeRemote()
	st, err := store.Open(filepath.Join(t.TempDir(), "mindsync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	wrapped := &failingMarkStore{Store: st}
	e := New(wrapped, remote, newFakeMonitor(true),
		WithConfig(testConfig()),
		WithIDGenerator(sequenceIDs("c1")))
	t.Cleanup(func() { _ = e.Close(); _ = st.Close() })
	ctx := context.Background()

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm"})
	sum := e.SyncAll(ctx)

	// Delivery happened but the flag write failed: reported, not fatal, and
	// the record stays queued for an idempotent redelivery.
	if sum.Success || len(sum.Errors) == 0 {
		t.Fatalf("summary = %+v", sum)
	}
	unsynced, _ := st.ListUnsynced(ctx, store.CollectionCheckIns)
	if len(unsynced) != 1 {
		t.Fatalf("record should remain queued: %+v", unsynced)
	}
}

func TestDashboard_CacheReadThrough(t *testing.T) {
	remote := newFakeRemote()
	remote.dashboard = &types.Dashboard{Streak: 3, LastMood: "Calm"}
	e, _ := newTestEngine(t, remote, newFakeMonitor(true))
	ctx := context.Background()

	d1, err := e.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	d2, err := e.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard (cached): %v", err)
	}
	if d1.Streak != 3 || d2.Streak != 3 {
		t.Fatalf("got %+v / %+v", d1, d2)
	}
	if remote.dashboardCalls != 1 {
		t.Fatalf("remote fetches = %d, want 1 (second read served from cache)", remote.dashboardCalls)
	}
}

func TestInsights_CacheReadThrough(t *testing.T) {
	remote := newFakeRemote()
	remote.insights = &types.Insights{Period: "7d", Points: []types.InsightPoint{{Date: "2026-02-01", Score: 0.8}}}
	e, _ := newTestEngine(t, remote, newFakeMonitor(true))
	ctx := context.Background()

	if _, err := e.Insights(ctx); err != nil {
		t.Fatalf("insights: %v", err)
	}
	ins, err := e.Insights(ctx)
	if err != nil {
		t.Fatalf("insights (cached): %v", err)
	}
	if len(ins.Points) != 1 || remote.insightsCalls != 1 {
		t.Fatalf("points=%d fetches=%d", len(ins.Points), remote.insightsCalls)
	}
}

func TestClearOfflineData(t *testing.T) {
	remote := newFakeRemote()
	e, st := newTestEngine(t, remote, newFakeMonitor(true))
	ctx := context.Background()

	_, _ = e.EnqueueCheckIn(ctx, CheckIn{Mood: "Calm"})
	_, _ = e.EnqueueChatMessage(ctx, ChatMessage{Text: "hi", Sender: "user"})

	if err := e.ClearOfflineData(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	pending, _ := st.PendingCounts(ctx)
	if pending.HasPending() {
		t.Fatalf("pending after clear: %+v", pending)
	}
}

func TestClose_Idempotent(t *testing.T) {
	e, _ := newTestEngine(t, newFakeRemote(), newFakeMonitor(true))
	e.Start()
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

// ------------------------- failing store wrappers -------------------------

type failingListStore struct{ store.Store }

func (f *failingListStore) ListUnsynced(context.Context, string) ([]types.QueuedRecord, error) {
	return nil, &interrors.StorageError{Op: "list", Err: fmt.Errorf("disk unavailable")}
}

type failingMarkStore struct{ store.Store }

func (f *failingMarkStore) MarkSynced(context.Context, string, []string) error {
	return &interrors.StorageError{Op: "markSynced", Err: fmt.Errorf("disk full")}
}
