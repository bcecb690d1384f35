package capability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ada/internal/domain"
	"ada/internal/errors"
)

func echoExecutor(name string) Executor {
	return &Func{
		Def: Definition{Name: name, Description: name, Parameters: objectSchema(nil)},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			return &Result{CallID: call.ID, Name: name, Content: "ok"}, nil
		},
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoExecutor("send_mail")))
	err := reg.Register(echoExecutor("send_mail"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoExecutor("zeta"), echoExecutor("alpha"), echoExecutor("mid"))

	defs := reg.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "mid", defs[1].Name)
	assert.Equal(t, "zeta", defs[2].Name)
}

func TestSubsetHidesEverythingElse(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoExecutor("search_mail"), echoExecutor("send_mail"), echoExecutor("delegate"))

	view := reg.Subset("search_mail")
	defs := view.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "search_mail", defs[0].Name)

	_, err := view.Get("send_mail")
	assert.Error(t, err)
	_, err = view.Get("search_mail")
	assert.NoError(t, err)
}

func TestWithoutExcludesNamed(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoExecutor("search_mail"), echoExecutor("delegate"))

	view := reg.Without("delegate")
	_, err := view.Get("delegate")
	assert.Error(t, err)

	defs := view.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "search_mail", defs[0].Name)
}

func TestFindAvailableSlotsSkipsConflicts(t *testing.T) {
	cal := NewFakeCalendar()
	tenant := "tenant-a"
	// A Monday. One meeting 10:00-11:00.
	_, err := cal.CreateEvent(context.Background(), tenant, CalendarEvent{
		Title: "standup",
		Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	exec := NewFindAvailableSlots(cal)
	res, err := exec.Execute(context.Background(), tenant, Call{
		ID:   "c1",
		Name: "find_available_slots",
		Arguments: map[string]any{
			"from":             "2026-03-02T00:00:00Z",
			"to":               "2026-03-03T00:00:00Z",
			"duration_minutes": float64(60),
			"max":              float64(3),
		},
	})
	require.NoError(t, err)

	slots, ok := res.Data.([]Slot)
	require.True(t, ok)
	require.Len(t, slots, 3)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), slots[0].Start)
	// The 10:00 hour is taken, so the second slot starts at 11:00.
	assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), slots[1].Start)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), slots[2].Start)
}

func TestFindAvailableSlotsSkipsWeekends(t *testing.T) {
	cal := NewFakeCalendar()
	exec := NewFindAvailableSlots(cal)
	// Saturday and Sunday only.
	res, err := exec.Execute(context.Background(), "tenant-a", Call{
		ID:   "c1",
		Name: "find_available_slots",
		Arguments: map[string]any{
			"from": "2026-03-07T00:00:00Z",
			"to":   "2026-03-09T00:00:00Z",
		},
	})
	require.NoError(t, err)
	slots, ok := res.Data.([]Slot)
	require.True(t, ok)
	assert.Empty(t, slots)
}

type fakeTaskLifecycle struct {
	tasks map[string]*domain.Task
	seq   int
}

func newFakeTaskLifecycle() *fakeTaskLifecycle {
	return &fakeTaskLifecycle{tasks: make(map[string]*domain.Task)}
}

func (f *fakeTaskLifecycle) Create(ctx context.Context, tenantID, description string, initialContext map[string]any) (*domain.Task, error) {
	f.seq++
	task := &domain.Task{
		ID:          fmt.Sprintf("task-%d", f.seq),
		TenantID:    tenantID,
		Description: description,
		Status:      domain.TaskPending,
		Context:     initialContext,
	}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeTaskLifecycle) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("not found: %s", taskID)
	}
	return task, nil
}

func (f *fakeTaskLifecycle) Transition(ctx context.Context, taskID string, newStatus domain.TaskStatus, contextPatch map[string]any) (*domain.Task, error) {
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("not found: %s", taskID)
	}
	task.Status = newStatus
	for k, v := range contextPatch {
		if task.Context == nil {
			task.Context = make(map[string]any)
		}
		task.Context[k] = v
	}
	return task, nil
}

func TestCreateWaitingTaskParksWithHints(t *testing.T) {
	tasks := newFakeTaskLifecycle()
	exec := NewCreateWaitingTask(tasks)

	ctx := WithConversationID(context.Background(), "conv-7")
	res, err := exec.Execute(ctx, "tenant-a", Call{
		ID:   "c1",
		Name: "create_waiting_task",
		Arguments: map[string]any{
			"description":   "follow up on pricing question",
			"waiting_for":   "email_reply",
			"expected_from": "sara@example.com",
		},
	})
	require.NoError(t, err)

	task, ok := res.Data.(*domain.Task)
	require.True(t, ok)
	assert.Equal(t, domain.TaskWaiting, task.Status)
	assert.Equal(t, "email_reply", task.ContextString(domain.ContextWaitingFor))
	assert.Equal(t, "sara@example.com", task.ContextString(domain.ContextExpectedFrom))
	assert.Equal(t, "conv-7", task.ContextString(domain.ContextConversationID))
}

func TestCreateWaitingTaskRequiresHints(t *testing.T) {
	exec := NewCreateWaitingTask(newFakeTaskLifecycle())
	_, err := exec.Execute(context.Background(), "tenant-a", Call{
		ID:        "c1",
		Name:      "create_waiting_task",
		Arguments: map[string]any{"description": "no hints"},
	})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestMarkTaskCompleteChecksTenant(t *testing.T) {
	tasks := newFakeTaskLifecycle()
	created, err := tasks.Create(context.Background(), "tenant-a", "do the thing", nil)
	require.NoError(t, err)

	exec := NewMarkTaskComplete(tasks)
	_, err = exec.Execute(context.Background(), "tenant-b", Call{
		ID:        "c1",
		Name:      "mark_task_complete",
		Arguments: map[string]any{"task_id": created.ID},
	})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)

	res, err := exec.Execute(context.Background(), "tenant-a", Call{
		ID:        "c2",
		Name:      "mark_task_complete",
		Arguments: map[string]any{"task_id": created.ID, "outcome": "done"},
	})
	require.NoError(t, err)
	task := res.Data.(*domain.Task)
	assert.Equal(t, domain.TaskCompleted, task.Status)
	assert.Equal(t, "done", task.ContextString("outcome"))
}

func TestWithRetryRecoversFromTransient(t *testing.T) {
	attempts := 0
	flaky := &Func{
		Def: Definition{Name: "flaky", Parameters: objectSchema(nil)},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			attempts++
			if attempts < 3 {
				return nil, &errors.TransientError{Message: "upstream hiccup"}
			}
			return &Result{CallID: call.ID, Name: "flaky", Content: "ok"}, nil
		},
	}
	wrapped := WithRetry(flaky, errors.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, nil)

	res, err := wrapped.Execute(context.Background(), "tenant-a", Call{ID: "c1", Name: "flaky"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, 3, attempts)
}

func TestWithRetrySurfacesCapabilityError(t *testing.T) {
	broken := &Func{
		Def: Definition{Name: "broken", Parameters: objectSchema(nil)},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			return nil, &errors.PermanentError{Message: "bad request"}
		},
	}
	wrapped := WithRetry(broken, errors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, nil)

	_, err := wrapped.Execute(context.Background(), "tenant-a", Call{ID: "c1", Name: "broken"})
	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "broken", capErr.Capability)
	assert.False(t, capErr.Retryable)
}

func TestFakeEmbedderDeterministic(t *testing.T) {
	emb := NewFakeEmbedder()
	a, err := emb.Embed(context.Background(), "quarterly revenue report")
	require.NoError(t, err)
	b, err := emb.Embed(context.Background(), "quarterly revenue report")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, emb.Dimensions())
}
