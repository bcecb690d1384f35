package poller

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ada/internal/capability"
	"ada/internal/domain"
	"ada/internal/orchestrator"
	"ada/internal/storage"
	"ada/internal/task"
)

type fakeResumer struct {
	mu        sync.Mutex
	resumed   []string // task ids
	evaluated []string // event ids
	resumeErr error
}

func (f *fakeResumer) LockTenant(tenantID string) func() { return func() {} }

func (f *fakeResumer) Resume(ctx context.Context, waitingTask *domain.Task, event domain.InboundEvent) (*orchestrator.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, waitingTask.ID)
	return &orchestrator.Outcome{}, f.resumeErr
}

func (f *fakeResumer) EvaluateProactive(ctx context.Context, tenantID string, event domain.InboundEvent) (*orchestrator.ProactiveOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated = append(f.evaluated, event.EventID)
	return &orchestrator.ProactiveOutcome{NoAction: true}, nil
}

type testRig struct {
	poller  *Poller
	resumer *fakeResumer
	source  *MemorySource
	tasks   *task.Store
	cursors *storage.CursorStore
	amb     *storage.AmbiguityStore
	tenants *storage.TenantDirectory
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	resumer := &fakeResumer{}
	source := NewMemorySource()
	tasks := task.NewStore(db, nil)
	cursors := storage.NewCursorStore(db)
	amb := storage.NewAmbiguityStore(db)
	tenants := storage.NewTenantDirectory(db)

	p := New(resumer, tasks, cursors, amb, tenants,
		map[string]EventSource{domain.ChannelEmail: source}, nil, Config{})
	return &testRig{poller: p, resumer: resumer, source: source, tasks: tasks, cursors: cursors, amb: amb, tenants: tenants}
}

func parkWaitingTask(t *testing.T, tasks *task.Store, tenantID, expectedFrom string) *domain.Task {
	t.Helper()
	ctx := context.Background()
	created, err := tasks.Create(ctx, tenantID, "follow up", map[string]any{
		domain.ContextWaitingFor:   "email_reply",
		domain.ContextExpectedFrom: expectedFrom,
	})
	require.NoError(t, err)
	_, err = tasks.Transition(ctx, created.ID, domain.TaskInProgress, nil)
	require.NoError(t, err)
	waiting, err := tasks.Transition(ctx, created.ID, domain.TaskWaiting, nil)
	require.NoError(t, err)
	return waiting
}

func emailEvent(id, sender string) domain.InboundEvent {
	return domain.InboundEvent{
		Channel:          domain.ChannelEmail,
		EventID:          id,
		SenderIdentity:   sender,
		SubjectOrSummary: "re: follow up",
	}
}

func TestCycleResumesMatchingTask(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	require.NoError(t, rig.tenants.Register(ctx, "tenant-a", ""))

	waiting := parkWaitingTask(t, rig.tasks, "tenant-a", "sara@example.com")
	rig.source.Push("tenant-a", emailEvent("evt-1", "sara@example.com"))

	require.NoError(t, rig.poller.RunCycle(ctx))

	assert.Equal(t, []string{waiting.ID}, rig.resumer.resumed)
	assert.Empty(t, rig.resumer.evaluated)

	// The cursor advanced past the processed event.
	cursor, err := rig.cursors.Get(ctx, "tenant-a", domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "1", cursor)

	// A second cycle sees nothing new.
	require.NoError(t, rig.poller.RunCycle(ctx))
	assert.Len(t, rig.resumer.resumed, 1)
}

func TestCycleEvaluatesUnmatchedEventProactively(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	require.NoError(t, rig.tenants.Register(ctx, "tenant-a", ""))

	rig.source.Push("tenant-a", emailEvent("evt-1", "stranger@example.com"))

	require.NoError(t, rig.poller.RunCycle(ctx))
	assert.Empty(t, rig.resumer.resumed)
	assert.Equal(t, []string{"evt-1"}, rig.resumer.evaluated)
}

func TestCycleParksAmbiguousEvent(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	require.NoError(t, rig.tenants.Register(ctx, "tenant-a", ""))

	t1 := parkWaitingTask(t, rig.tasks, "tenant-a", "sara@example.com")
	t2 := parkWaitingTask(t, rig.tasks, "tenant-a", "sara@example.com")
	rig.source.Push("tenant-a", emailEvent("evt-1", "sara@example.com"))

	require.NoError(t, rig.poller.RunCycle(ctx))

	// Neither task was resumed; the event is parked and the cursor moved on.
	assert.Empty(t, rig.resumer.resumed)
	parked, err := rig.amb.ListUnresolved(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, "evt-1", parked[0].Event.EventID)
	assert.ElementsMatch(t, []string{t1.ID, t2.ID}, parked[0].CandidateTasks)

	cursor, err := rig.cursors.Get(ctx, "tenant-a", domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "1", cursor)
}

func TestCycleIsolatesTenantFaults(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	require.NoError(t, rig.tenants.Register(ctx, "tenant-a", ""))
	require.NoError(t, rig.tenants.Register(ctx, "tenant-b", ""))

	// tenant-a has a poisoned cursor so its fetch fails; tenant-b must
	// still be processed.
	require.NoError(t, rig.cursors.Advance(ctx, "tenant-a", domain.ChannelEmail, "not-a-number"))
	rig.source.Push("tenant-a", emailEvent("evt-a", "x@example.com"))
	rig.source.Push("tenant-b", emailEvent("evt-b", "y@example.com"))

	require.NoError(t, rig.poller.RunCycle(ctx))
	assert.Equal(t, []string{"evt-b"}, rig.resumer.evaluated)
}

func TestCycleKeepsCursorOnEventFailure(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	require.NoError(t, rig.tenants.Register(ctx, "tenant-a", ""))

	// Proactive evaluation failing means the event was not fully processed:
	// the cursor must not advance, so the event is retried next cycle.
	failing := &failingResumer{}
	rig.poller.orch = failing
	rig.source.Push("tenant-a", emailEvent("evt-1", "x@example.com"))

	require.NoError(t, rig.poller.RunCycle(ctx))
	cursor, err := rig.cursors.Get(ctx, "tenant-a", domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "", cursor)

	// Once processing succeeds, the cursor moves.
	rig.poller.orch = rig.resumer
	require.NoError(t, rig.poller.RunCycle(ctx))
	cursor, err = rig.cursors.Get(ctx, "tenant-a", domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "1", cursor)
}

type failingResumer struct{}

func (f *failingResumer) LockTenant(tenantID string) func() { return func() {} }

func (f *failingResumer) Resume(ctx context.Context, waitingTask *domain.Task, event domain.InboundEvent) (*orchestrator.Outcome, error) {
	return nil, fmt.Errorf("boom")
}

func (f *failingResumer) EvaluateProactive(ctx context.Context, tenantID string, event domain.InboundEvent) (*orchestrator.ProactiveOutcome, error) {
	return nil, fmt.Errorf("boom")
}

func TestResumeFailureDoesNotBlockCursor(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	require.NoError(t, rig.tenants.Register(ctx, "tenant-a", ""))

	parkWaitingTask(t, rig.tasks, "tenant-a", "sara@example.com")
	rig.source.Push("tenant-a", emailEvent("evt-1", "sara@example.com"))

	// A failing resumption has already applied its retry policy to the
	// task; the event itself counts as processed.
	rig.resumer.resumeErr = fmt.Errorf("llm unavailable")
	require.NoError(t, rig.poller.RunCycle(ctx))

	cursor, err := rig.cursors.Get(ctx, "tenant-a", domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "1", cursor)
}

func TestMailSourceConvertsMessages(t *testing.T) {
	mail := capability.NewFakeMail()
	mail.Receive("tenant-a", capability.MailMessage{From: "sara@example.com", Subject: "hello", Body: "hi"})

	src := &MailSource{Mail: mail}
	events, next, err := src.FetchSince(context.Background(), "tenant-a", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ChannelEmail, events[0].Channel)
	assert.Equal(t, "sara@example.com", events[0].SenderIdentity)
	assert.Equal(t, "hello", events[0].SubjectOrSummary)
	assert.Equal(t, "1", next)
}
