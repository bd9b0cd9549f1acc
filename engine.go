// Package mindsync implements the offline-first synchronization core of the
// MindSentry mobile client: a durable queue of user actions (mood check-ins,
// chat messages) drained to the backend once connectivity returns, with
// at-most-one-concurrent-run semantics and per-record independent retry.
package mindsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	interrors "github.com/mindsentry/mindsync/internal/errors"
	"github.com/mindsentry/mindsync/internal/netmon"
	"github.com/mindsentry/mindsync/internal/store"
	"github.com/mindsentry/mindsync/internal/types"
)

// Re-export the public data types.
type (
	CheckIn       = types.CheckIn
	ChatMessage   = types.ChatMessage
	QueuedRecord  = types.QueuedRecord
	Status        = types.Status
	Summary       = types.Summary
	PendingStatus = types.PendingStatus
	Dashboard     = types.Dashboard
	Insights      = types.Insights
)

// Remote is the backend surface the engine drains records into. Satisfied by
// *api.Client; tests substitute scripted fakes.
type Remote interface {
	SubmitCheckIn(ctx context.Context, req types.CheckInRequest, idempotencyKey string) error
	SendChatMessage(ctx context.Context, req types.ChatMessageRequest, idempotencyKey string) error
	FetchDashboard(ctx context.Context) (*types.Dashboard, error)
	FetchInsights(ctx context.Context) (*types.Insights, error)
}

const (
	cacheKeyDashboard = "dashboard"
	cacheKeyInsights  = "insights"
)

// Engine orchestrates draining of queued records to the backend. Construct
// with New, wire connectivity triggers with Start, release with Close.
type Engine struct {
	store  store.Store
	remote Remote
	net    netmon.Monitor
	cfg    Config
	log    zerolog.Logger

	clock func() time.Time
	newID func() string

	syncing uint32 // 0 → idle, 1 → run in progress; reset on restart by construction
	status  *statusNotifier

	unsubscribe func()
	done        chan struct{}
	closedOnce  uint32
	wg          sync.WaitGroup
}

// New constructs an Engine with injected dependencies. All three
// collaborators are required.
func New(st store.Store, remote Remote, mon netmon.Monitor, opts ...Option) *Engine {
	if st == nil {
		panic("store cannot be nil")
	}
	if remote == nil {
		panic("remote cannot be nil")
	}
	if mon == nil {
		panic("monitor cannot be nil")
	}

	e := &Engine{
		store:  st,
		remote: remote,
		net:    mon,
		cfg:    Config{}.withDefaults(),
		log:    zerolog.Nop(),
		clock:  time.Now,
		newID:  func() string { return "offline_" + uuid.NewString() },
		status: newStatusNotifier(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			panic(err)
		}
	}
	return e
}

// Start subscribes to connectivity transitions: on regaining connectivity
// the engine waits SettleDelay and attempts a sync. It also schedules one
// immediate attempt to drain anything left over from a previous process.
func (e *Engine) Start() {
	e.unsubscribe = e.net.Subscribe(func(st netmon.State) {
		if !st.Connected {
			_ = e.store.SetOfflineFlag(context.Background(), true)
			return
		}
		e.spawn(func() { e.settleAndSync() })
	})
	e.spawn(func() { e.attemptAndReschedule(context.Background()) })
}

// Close tears down the connectivity subscription, waits for in-flight
// background work, and drops status listeners. Safe to call multiple times.
func (e *Engine) Close() error {
	if !atomic.CompareAndSwapUint32(&e.closedOnce, 0, 1) {
		return nil
	}
	close(e.done)
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.wg.Wait()
	e.status.reset()
	return nil
}

// OnStatusChange registers a sync-status listener and returns its
// unsubscribe function. Safe to call from multiple UI components.
func (e *Engine) OnStatusChange(cb func(Status)) (unsubscribe func()) {
	return e.status.subscribe(cb)
}

// EnqueueCheckIn persists a check-in for eventual delivery, online or not.
func (e *Engine) EnqueueCheckIn(ctx context.Context, c CheckIn) (QueuedRecord, error) {
	if c.Timestamp.IsZero() {
		c.Timestamp = e.clock()
	}
	rec := QueuedRecord{
		ID:         e.newID(),
		Kind:       types.KindCheckIn,
		CheckIn:    &c,
		EnqueuedAt: e.clock(),
	}
	if err := e.store.Append(ctx, store.CollectionCheckIns, rec); err != nil {
		return QueuedRecord{}, err
	}
	recordsEnqueuedTotal.WithLabelValues(store.CollectionCheckIns).Inc()
	return rec, nil
}

// EnqueueChatMessage persists a chat message for eventual delivery.
func (e *Engine) EnqueueChatMessage(ctx context.Context, m ChatMessage) (QueuedRecord, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = e.clock()
	}
	rec := QueuedRecord{
		ID:         e.newID(),
		Kind:       types.KindChatMessage,
		Chat:       &m,
		EnqueuedAt: e.clock(),
	}
	if err := e.store.Append(ctx, store.CollectionChatMessages, rec); err != nil {
		return QueuedRecord{}, err
	}
	recordsEnqueuedTotal.WithLabelValues(store.CollectionChatMessages).Inc()
	return rec, nil
}

// PendingStatus reports queue depth for display purposes.
func (e *Engine) PendingStatus(ctx context.Context) (PendingStatus, error) {
	pending, err := e.store.PendingCounts(ctx)
	if err != nil {
		return PendingStatus{}, err
	}
	e.observePending(pending)
	return pending, nil
}

func (e *Engine) observePending(p PendingStatus) {
	pendingRecords.WithLabelValues(store.CollectionCheckIns).Set(float64(p.PendingCheckIns))
	pendingRecords.WithLabelValues(store.CollectionChatMessages).Set(float64(p.PendingMessages))
}

// ClearOfflineData drops the queue collections and their dead letters.
// Invoked on account logout or an explicit maintenance reset.
func (e *Engine) ClearOfflineData(ctx context.Context) error {
	return e.store.ClearCollections(ctx,
		store.CollectionCheckIns,
		store.CollectionChatMessages,
		store.DeadLetterCollection(store.CollectionCheckIns),
		store.DeadLetterCollection(store.CollectionChatMessages),
	)
}

// AttemptSync is the guarded entry point: it returns silently when offline
// or when nothing is pending, otherwise it runs SyncAll.
func (e *Engine) AttemptSync(ctx context.Context) {
	if !e.net.IsConnectedNow(ctx) {
		_ = e.store.SetOfflineFlag(ctx, true)
		return
	}
	_ = e.store.SetOfflineFlag(ctx, false)

	pending, err := e.store.PendingCounts(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("pending check failed, skipping sync attempt")
		return
	}
	e.observePending(pending)
	if !pending.HasPending() {
		return
	}
	e.SyncAll(ctx)
}

// SyncAll performs one sync run: drain unsynced check-ins, then unsynced
// chat messages, submitting in enqueue order. One record's failure never
// aborts the batch; a session expiry stops all further submissions while
// preserving completed results. At most one run executes at a time; a
// concurrent call returns immediately without issuing network calls.
func (e *Engine) SyncAll(ctx context.Context) Summary {
	if !atomic.CompareAndSwapUint32(&e.syncing, 0, 1) {
		e.log.Debug().Msg("sync already in progress")
		return Summary{Success: false, Errors: []string{"sync already in progress"}}
	}
	defer atomic.StoreUint32(&e.syncing, 0)

	e.notify("Syncing offline data...")

	var sum Summary
	checkIns, authStop, err := e.syncCollection(ctx, store.CollectionCheckIns, &sum)
	sum.CheckInsSynced = checkIns
	if err != nil {
		// A store read failure aborts the run; records stay queued.
		sum.Errors = append(sum.Errors, err.Error())
	} else if !authStop {
		messages, _, merr := e.syncCollection(ctx, store.CollectionChatMessages, &sum)
		sum.MessagesSynced = messages
		if merr != nil {
			sum.Errors = append(sum.Errors, merr.Error())
		}
	}

	sum.Success = len(sum.Errors) == 0
	if sum.Success {
		e.notifySynced("Sync complete")
		syncRunsTotal.WithLabelValues("success").Inc()
	} else {
		e.notifySynced("Sync failed")
		syncRunsTotal.WithLabelValues("failure").Inc()
	}
	e.log.Info().
		Bool("success", sum.Success).
		Int("checkInsSynced", sum.CheckInsSynced).
		Int("messagesSynced", sum.MessagesSynced).
		Strs("errors", sum.Errors).
		Msg("sync run finished")
	return sum
}

// syncCollection drains one collection. It returns the number of records
// accepted remotely and whether the run must stop because the session
// expired. The returned error is a store read failure only; per-record
// submission failures are absorbed here.
func (e *Engine) syncCollection(ctx context.Context, collection string, sum *Summary) (int, bool, error) {
	recs, err := e.store.ListUnsynced(ctx, collection)
	if err != nil {
		return 0, false, fmt.Errorf("read unsynced %s: %w", collection, err)
	}
	if len(recs) == 0 {
		return 0, false, nil
	}
	e.notify(progressMessage(collection, len(recs)))

	succeeded := make([]string, 0, len(recs))
	authStop := false
	for _, rec := range recs {
		err := e.submit(ctx, rec)
		if err == nil {
			succeeded = append(succeeded, rec.ID)
			recordsSyncedTotal.WithLabelValues(collection).Inc()
			continue
		}

		submissionFailuresTotal.WithLabelValues(collection).Inc()
		if interrors.IsAuth(err) {
			// Stop the whole run to avoid a flood of repeated 401s.
			sum.Errors = append(sum.Errors, err.Error())
			authStop = true
			break
		}

		e.log.Warn().Err(err).Str("collection", collection).Str("id", rec.ID).Msg("record submission failed")
		if serr := e.store.IncrementAttempts(ctx, collection, rec.ID); serr != nil {
			e.log.Warn().Err(serr).Str("id", rec.ID).Msg("attempt counter update failed")
		}
		if !interrors.IsRecoverable(err) || rec.Attempts+1 >= e.cfg.MaxAttempts {
			e.deadLetter(ctx, collection, rec.ID, err)
		}
	}

	if len(succeeded) > 0 {
		// Single batch write per collection to minimize storage churn.
		if serr := e.store.MarkSynced(ctx, collection, succeeded); serr != nil {
			// Accepted remotely but still flagged unsynced: the records
			// will be redelivered next run and deduplicated by their
			// idempotency keys.
			sum.Errors = append(sum.Errors, serr.Error())
		}
	}
	return len(succeeded), authStop, nil
}

func (e *Engine) submit(ctx context.Context, rec QueuedRecord) error {
	switch rec.Kind {
	case types.KindCheckIn:
		return e.remote.SubmitCheckIn(ctx, types.CheckInRequestFrom(rec), rec.ID)
	case types.KindChatMessage:
		return e.remote.SendChatMessage(ctx, types.ChatMessageRequestFrom(rec), rec.ID)
	default:
		return fmt.Errorf("record %s: unknown kind %q", rec.ID, rec.Kind)
	}
}

func (e *Engine) deadLetter(ctx context.Context, collection, id string, cause error) {
	e.log.Error().Err(cause).Str("collection", collection).Str("id", id).Msg("record dead-lettered")
	if err := e.store.MoveToDeadLetter(ctx, collection, id); err != nil {
		e.log.Warn().Err(err).Str("id", id).Msg("dead-letter move failed, record stays queued")
		return
	}
	deadLetteredTotal.WithLabelValues(collection).Inc()
}

// Dashboard serves the dashboard aggregate through the TTL cache: a live
// cache entry answers without a network call.
func (e *Engine) Dashboard(ctx context.Context) (*Dashboard, error) {
	var cached Dashboard
	if ok, err := e.store.CacheGet(ctx, cacheKeyDashboard, &cached); err == nil && ok {
		return &cached, nil
	}
	fresh, err := e.remote.FetchDashboard(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.store.CacheSet(ctx, cacheKeyDashboard, fresh, e.cfg.CacheTTL); err != nil {
		e.log.Warn().Err(err).Msg("dashboard cache write failed")
	}
	return fresh, nil
}

// Insights serves the mood trend series through the TTL cache.
func (e *Engine) Insights(ctx context.Context) (*Insights, error) {
	var cached Insights
	if ok, err := e.store.CacheGet(ctx, cacheKeyInsights, &cached); err == nil && ok {
		return &cached, nil
	}
	fresh, err := e.remote.FetchInsights(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.store.CacheSet(ctx, cacheKeyInsights, fresh, e.cfg.CacheTTL); err != nil {
		e.log.Warn().Err(err).Msg("insights cache write failed")
	}
	return fresh, nil
}

// ------------------------- internals -------------------------

// spawn runs fn on a tracked goroutine unless the engine is closed.
func (e *Engine) spawn(fn func()) {
	if atomic.LoadUint32(&e.closedOnce) == 1 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// settleAndSync waits out the post-reconnect settle delay, then attempts a
// sync and keeps rescheduling with backoff while records remain pending.
func (e *Engine) settleAndSync() {
	timer := time.NewTimer(e.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-e.done:
		return
	}
	e.attemptAndReschedule(context.Background())
}

// attemptAndReschedule implements the explicit retry policy: after a run
// that leaves records pending, retry with exponential backoff while the
// device stays online, up to MaxRunRetries reschedules.
func (e *Engine) attemptAndReschedule(ctx context.Context) {
	e.AttemptSync(ctx)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = e.cfg.MaxInterval
	exp.Reset()

	for retry := 0; retry < e.cfg.MaxRunRetries; retry++ {
		pending, err := e.store.PendingCounts(ctx)
		if err != nil {
			return
		}
		e.observePending(pending)
		if !pending.HasPending() {
			return
		}

		timer := time.NewTimer(exp.NextBackOff())
		select {
		case <-timer.C:
		case <-e.done:
			timer.Stop()
			return
		}
		if !e.net.IsConnectedNow(ctx) {
			// Back to waiting for the next connectivity event.
			return
		}
		e.SyncAll(ctx)
	}
}

func (e *Engine) notify(msg string) {
	e.status.notify(Status{IsSyncing: true, Message: msg})
}

func (e *Engine) notifySynced(msg string) {
	e.status.notify(Status{IsSyncing: false, Message: msg})
}

func progressMessage(collection string, n int) string {
	switch collection {
	case store.CollectionCheckIns:
		return fmt.Sprintf("Syncing %d check-in(s)...", n)
	case store.CollectionChatMessages:
		return fmt.Sprintf("Syncing %d message(s)...", n)
	default:
		return fmt.Sprintf("Syncing %d record(s)...", n)
	}
}
