package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ada/internal/async"
	"ada/internal/capability"
	"ada/internal/domain"
	"ada/internal/instruction"
	"ada/internal/llm"
	"ada/internal/rag"
	"ada/internal/storage"
	"ada/internal/task"
)

type harness struct {
	orch         *Orchestrator
	tasks        *task.Store
	instructions *instruction.Store
	index        *rag.Index
	mail         *capability.FakeMail
	crm          *capability.FakeCRM
}

func newHarness(t *testing.T, client llm.Client) *harness {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tasks := task.NewStore(db, nil)
	instructions := instruction.NewStore(db, nil)
	conversations := storage.NewConversationStore(db)

	index, err := rag.NewIndex(rag.IndexConfig{}, capability.NewFakeEmbedder(), nil)
	require.NoError(t, err)

	mail := capability.NewFakeMail()
	cal := capability.NewFakeCalendar()
	crm := capability.NewFakeCRM()

	registry := capability.NewRegistry()
	registry.MustRegister(
		capability.NewSearchMail(mail),
		capability.NewSendMail(mail),
		capability.NewGetCalendarEvents(cal),
		capability.NewCreateCalendarEvent(cal),
		capability.NewFindAvailableSlots(cal),
		capability.NewSearchCRMContacts(crm),
		capability.NewCreateCRMContact(crm),
		capability.NewGetContactNotes(crm),
		capability.NewCreateCRMNote(crm),
		capability.NewSemanticQuery(rag.Searcher{Index: index}),
		capability.NewCreateWaitingTask(tasks),
		capability.NewMarkTaskComplete(tasks),
	)

	orch := New(client, registry, tasks, instructions, conversations, index, async.NewKeyedMutex(), nil, Config{
		MaxResumptionTries: 2,
	})
	return &harness{
		orch:         orch,
		tasks:        tasks,
		instructions: instructions,
		index:        index,
		mail:         mail,
		crm:          crm,
	}
}

func TestHandleUtteranceFinalAnswer(t *testing.T) {
	client := llm.NewMockClient(llm.TextResponse("You have no meetings today."))
	h := newHarness(t, client)

	resp, err := h.orch.HandleUtterance(context.Background(), "tenant-a", "", "what is on my calendar?")
	require.NoError(t, err)
	assert.Equal(t, "You have no meetings today.", resp.Answer)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Empty(t, resp.Invocations)
}

func TestHandleUtteranceInvokesCapability(t *testing.T) {
	client := llm.NewMockClient(
		llm.ToolCallResponse("c1", "send_mail", `{"to":"sara@example.com","subject":"hello","body":"hi"}`),
		llm.TextResponse("Sent the email to Sara."),
	)
	h := newHarness(t, client)

	resp, err := h.orch.HandleUtterance(context.Background(), "tenant-a", "", "email sara")
	require.NoError(t, err)
	assert.Equal(t, "Sent the email to Sara.", resp.Answer)
	require.Len(t, resp.Invocations, 1)
	assert.Equal(t, "send_mail", resp.Invocations[0].Capability)
	assert.Empty(t, resp.Invocations[0].Error)
	assert.Len(t, h.mail.Sent("tenant-a"), 1)
}

func TestHandleUtteranceCreatesWaitingTask(t *testing.T) {
	client := llm.NewMockClient(
		llm.ToolCallResponse("c1", "send_mail", `{"to":"sara@example.com","subject":"availability","body":"when are you free?"}`),
		llm.ToolCallResponse("c2", "create_waiting_task",
			`{"description":"book a meeting once sara replies","waiting_for":"email_reply","expected_from":"sara@example.com"}`),
		llm.TextResponse("Asked Sara for availability; I will follow up when she replies."),
	)
	h := newHarness(t, client)

	resp, err := h.orch.HandleUtterance(context.Background(), "tenant-a", "", "set up a meeting with sara")
	require.NoError(t, err)

	waiting, err := h.tasks.ListWaiting(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "email_reply", waiting[0].ContextString(domain.ContextWaitingFor))
	assert.Equal(t, "sara@example.com", waiting[0].ContextString(domain.ContextExpectedFrom))
	// The waiting task is threaded back to the conversation it came from.
	assert.Equal(t, resp.ConversationID, waiting[0].ContextString(domain.ContextConversationID))
}

func TestHandleUtteranceTimeout(t *testing.T) {
	// The model asks for a capability on every round and never answers.
	responses := make([]*llm.CompletionResponse, 0, 12)
	for i := 0; i < 12; i++ {
		responses = append(responses, llm.ToolCallResponse("c1", "search_mail", `{"query":"anything"}`))
	}
	client := llm.NewMockClient(responses...)
	h := newHarness(t, client)
	h.orch.config.MaxIterations = 3

	resp, err := h.orch.HandleUtterance(context.Background(), "tenant-a", "", "loop forever")
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 3, timeout.Iterations)
	require.NotNil(t, resp)
	assert.Contains(t, resp.Answer, "could not finish")
}

func TestResumeCompletesTask(t *testing.T) {
	h := newHarness(t, llm.NewMockClient())
	ctx := context.Background()

	created, err := h.tasks.Create(ctx, "tenant-a", "book a meeting once sara replies", map[string]any{
		domain.ContextWaitingFor:   "email_reply",
		domain.ContextExpectedFrom: "sara@example.com",
	})
	require.NoError(t, err)
	_, err = h.tasks.Transition(ctx, created.ID, domain.TaskInProgress, nil)
	require.NoError(t, err)
	waiting, err := h.tasks.Transition(ctx, created.ID, domain.TaskWaiting, nil)
	require.NoError(t, err)

	client := llm.NewMockClient(
		llm.ToolCallResponse("c1", "create_calendar_event",
			`{"title":"Meeting with Sara","start":"2026-04-02T10:00:00Z","end":"2026-04-02T11:00:00Z"}`),
		llm.TextResponse("Booked the meeting with Sara for Thursday 10:00."),
	)
	h.orch.client = client

	outcome, err := h.orch.Resume(ctx, waiting, domain.InboundEvent{
		Channel:        domain.ChannelEmail,
		EventID:        "evt-1",
		SenderIdentity: "sara@example.com",
		RawPayload:     map[string]any{"body": "Thursday at 10 works for me"},
	})
	require.NoError(t, err)
	assert.Equal(t, "final_answer", outcome.StopReason)

	final, err := h.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, final.Status)
	assert.Equal(t, "Booked the meeting with Sara for Thursday 10:00.", final.ContextString("outcome"))
}

func TestResumeReparksOnFailureThenFails(t *testing.T) {
	h := newHarness(t, llm.NewMockClient())
	ctx := context.Background()

	created, err := h.tasks.Create(ctx, "tenant-a", "follow up with sara", map[string]any{
		domain.ContextWaitingFor:   "email_reply",
		domain.ContextExpectedFrom: "sara@example.com",
	})
	require.NoError(t, err)
	_, err = h.tasks.Transition(ctx, created.ID, domain.TaskInProgress, nil)
	require.NoError(t, err)
	waiting, err := h.tasks.Transition(ctx, created.ID, domain.TaskWaiting, nil)
	require.NoError(t, err)

	event := domain.InboundEvent{Channel: domain.ChannelEmail, EventID: "evt-1", SenderIdentity: "sara@example.com"}

	// First attempt: the model never finishes, so the run errors and the
	// task is re-parked with a retry count.
	h.orch.client = llm.NewMockClient() // exhausted mock fails the first completion
	_, err = h.orch.Resume(ctx, waiting, event)
	require.Error(t, err)

	reparked, err := h.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskWaiting, reparked.Status)
	assert.Equal(t, 1, reparked.ContextInt(domain.ContextRetryCount))

	// Second attempt exceeds the budget of 2 and the task fails.
	h.orch.client = llm.NewMockClient()
	_, err = h.orch.Resume(ctx, reparked, event)
	require.Error(t, err)

	failed, err := h.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, failed.Status)
	assert.Contains(t, failed.ContextString(domain.ContextFailureReason), "resumption failed")
}

func TestEvaluateProactiveTagsInvocations(t *testing.T) {
	h := newHarness(t, llm.NewMockClient())
	ctx := context.Background()

	ins, err := h.instructions.Add(ctx, "tenant-a",
		"When someone new emails me, create a CRM contact and a note about the email.")
	require.NoError(t, err)

	client := llm.NewMockClient(
		llm.ToolCallResponse("c1", "create_crm_contact",
			`{"instruction_id":"`+ins.ID+`","email":"new@example.com","first_name":"New"}`),
		llm.ToolCallResponse("c2", "create_crm_note",
			`{"instruction_id":"`+ins.ID+`","contact_id":"contact-1","text":"First email: asking about pricing"}`),
		llm.TextResponse("Created a contact and a note for new@example.com."),
	)
	h.orch.client = client

	outcome, err := h.orch.EvaluateProactive(ctx, "tenant-a", domain.InboundEvent{
		Channel:          domain.ChannelEmail,
		EventID:          "evt-9",
		SenderIdentity:   "new@example.com",
		SubjectOrSummary: "pricing question",
	})
	require.NoError(t, err)
	assert.False(t, outcome.NoAction)
	require.Len(t, outcome.Actions, 2)
	assert.Equal(t, "create_crm_contact", outcome.Actions[0].Capability)
	assert.Equal(t, ins.ID, outcome.Actions[0].InstructionID)
	assert.Equal(t, "create_crm_note", outcome.Actions[1].Capability)
	assert.Equal(t, ins.ID, outcome.Actions[1].InstructionID)
	// instruction_id is stripped before the capability sees the arguments.
	assert.NotContains(t, outcome.Actions[0].Arguments, "instruction_id")

	contacts, err := h.crm.SearchContacts(ctx, "tenant-a", "new@example.com", 10)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
}

func TestEvaluateProactiveRejectsUntaggedCalls(t *testing.T) {
	h := newHarness(t, llm.NewMockClient())
	ctx := context.Background()

	_, err := h.instructions.Add(ctx, "tenant-a", "When someone new emails me, create a contact.")
	require.NoError(t, err)

	client := llm.NewMockClient(
		llm.ToolCallResponse("c1", "create_crm_contact", `{"email":"new@example.com"}`),
		llm.TextResponse("no action"),
	)
	h.orch.client = client

	outcome, err := h.orch.EvaluateProactive(ctx, "tenant-a", domain.InboundEvent{
		Channel:        domain.ChannelEmail,
		EventID:        "evt-9",
		SenderIdentity: "new@example.com",
	})
	require.NoError(t, err)
	assert.True(t, outcome.NoAction)

	// The untagged call was rejected, not executed.
	contacts, err := h.crm.SearchContacts(ctx, "tenant-a", "new@example.com", 10)
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestEvaluateProactiveNoInstructions(t *testing.T) {
	h := newHarness(t, llm.NewMockClient())
	outcome, err := h.orch.EvaluateProactive(context.Background(), "tenant-a", domain.InboundEvent{
		Channel: domain.ChannelEmail, EventID: "evt-1", SenderIdentity: "x@example.com",
	})
	require.NoError(t, err)
	assert.True(t, outcome.NoAction)
}

func TestEngineOneCapabilityPerIteration(t *testing.T) {
	mail := capability.NewFakeMail()
	registry := capability.NewRegistry()
	registry.MustRegister(capability.NewSendMail(mail))

	client := llm.NewMockClient(
		&llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "send_mail", Arguments: `{"to":"a@example.com","subject":"one","body":"x"}`},
				{ID: "c2", Name: "send_mail", Arguments: `{"to":"b@example.com","subject":"two","body":"y"}`},
			},
			StopReason: "tool_calls",
		},
		llm.TextResponse("done"),
	)
	engine := NewEngine(client, registry, nil)

	outcome, err := engine.Run(context.Background(), "tenant-a", []llm.Message{
		{Role: llm.RoleUser, Content: "send two emails"},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Invocations, 1)
	assert.Len(t, mail.Sent("tenant-a"), 1)
}

func TestDelegateRunsScopedSpecialist(t *testing.T) {
	h := newHarness(t, llm.NewMockClient())
	ctx := context.Background()

	// The specialist searches mail, then summarizes. A call outside its
	// scope is rejected by the subset view.
	client := llm.NewMockClient(
		llm.ToolCallResponse("c1", "delegate", `{"specialist":"email_researcher","goal":"what did sara ask about?"}`),
		llm.ToolCallResponse("s1", "search_mail", `{"query":"sara"}`),
		llm.ToolCallResponse("s2", "send_mail", `{"to":"x@example.com","subject":"no","body":"no"}`),
		llm.TextResponse("Sara asked about renewal pricing."),
		llm.TextResponse("She asked about renewal pricing."),
	)
	registry := buildRegistry(h)
	registry.MustRegister(NewDelegate(client, registry, nil))
	engine := NewEngine(client, registry, nil)

	h.mail.Receive("tenant-a", capability.MailMessage{From: "sara@example.com", Subject: "renewal pricing", Body: "what does renewal cost?"})

	outcome, err := engine.Run(ctx, "tenant-a", []llm.Message{
		{Role: llm.RoleUser, Content: "find out what sara asked about"},
	})
	require.NoError(t, err)
	assert.Equal(t, "She asked about renewal pricing.", outcome.Answer)
	// The out-of-scope send_mail inside the specialist was rejected.
	assert.Empty(t, h.mail.Sent("tenant-a"))
}

func buildRegistry(h *harness) *capability.Registry {
	registry := capability.NewRegistry()
	registry.MustRegister(
		capability.NewSearchMail(h.mail),
		capability.NewSendMail(h.mail),
		capability.NewSemanticQuery(rag.Searcher{Index: h.index}),
	)
	return registry
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &TimeoutError{Iterations: 5, Elapsed: 3 * time.Second}
	assert.Contains(t, err.Error(), "5 iteration(s)")
}

func TestRunRecordsTimeoutObservation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := MustNewMetrics(reg)
	client := llm.NewMockClient(
		llm.ToolCallResponse("c1", "search_mail", `{"query":"anything"}`),
		llm.ToolCallResponse("c2", "search_mail", `{"query":"anything"}`),
	)
	registry := capability.NewRegistry()
	registry.MustRegister(capability.NewSearchMail(capability.NewFakeMail()))
	engine := NewEngine(client, registry, nil, WithMaxIterations(2), WithMetrics(metrics))

	_, err := engine.Run(context.Background(), "tenant-a", []llm.Message{
		{Role: llm.RoleUser, Content: "loop forever"},
	})
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)

	// The capped run lands in the same histogram the answered path uses.
	families, err := reg.Gather()
	require.NoError(t, err)
	var count uint64
	for _, fam := range families {
		if fam.GetName() != "ada_orchestrator_run_duration_seconds" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "stop_reason" && label.GetValue() == "timeout" {
					count = m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	assert.Equal(t, uint64(1), count)
}

func TestTrimToTokenBudgetDropsOldestFirst(t *testing.T) {
	// 40 characters estimate to 10 tokens each.
	turn := func(role, tag string) storage.StoredMessage {
		return storage.StoredMessage{Role: role, Content: tag + strings.Repeat("x", 40-len(tag))}
	}
	window := []storage.StoredMessage{
		turn(llm.RoleUser, "first"),
		turn(llm.RoleAssistant, "second"),
		turn(llm.RoleUser, "third"),
	}

	trimmed := trimToTokenBudget(window, 20)
	require.Len(t, trimmed, 2)
	assert.True(t, strings.HasPrefix(trimmed[0].Content, "second"))
	assert.True(t, strings.HasPrefix(trimmed[1].Content, "third"))

	// A window already inside the budget passes through untouched.
	assert.Len(t, trimToTokenBudget(window, 30), 3)

	// The newest turn survives even when it alone exceeds the budget.
	trimmed = trimToTokenBudget(window, 1)
	require.Len(t, trimmed, 1)
	assert.True(t, strings.HasPrefix(trimmed[0].Content, "third"))
}
