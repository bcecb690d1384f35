package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ada/internal/async"
	"ada/internal/capability"
	"ada/internal/domain"
	"ada/internal/instruction"
	"ada/internal/llm"
	"ada/internal/logging"
	"ada/internal/rag"
	"ada/internal/storage"
	"ada/internal/task"
)

// Defaults for working-context assembly and resumption retry.
const (
	DefaultTopK               = 5
	DefaultHistoryWindow      = 20
	DefaultHistoryTokenBudget = 8000
	DefaultMaxResumptionTries = 3
)

// Config tunes the orchestrator.
type Config struct {
	TopK               int
	HistoryWindow      int
	HistoryTokenBudget int
	MaxResumptionTries int
	MaxIterations      int
	MaxWallClock       time.Duration
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.HistoryTokenBudget <= 0 {
		c.HistoryTokenBudget = DefaultHistoryTokenBudget
	}
	if c.MaxResumptionTries <= 0 {
		c.MaxResumptionTries = DefaultMaxResumptionTries
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxWallClock <= 0 {
		c.MaxWallClock = DefaultMaxWallClock
	}
}

// Orchestrator owns the three entry points into the reasoning loop. All
// runs for one tenant are serialized through the shared keyed mutex; the
// poller uses the same instance, so a live user turn and a resumption can
// never race on the same tenant's tasks.
type Orchestrator struct {
	client        llm.Client
	registry      *capability.Registry
	tasks         *task.Store
	instructions  *instruction.Store
	conversations *storage.ConversationStore
	index         *rag.Index
	tenantLocks   *async.KeyedMutex
	logger        logging.Logger
	metrics       *Metrics
	config        Config
}

// New creates the orchestrator service.
func New(
	client llm.Client,
	registry *capability.Registry,
	tasks *task.Store,
	instructions *instruction.Store,
	conversations *storage.ConversationStore,
	index *rag.Index,
	tenantLocks *async.KeyedMutex,
	logger logging.Logger,
	config Config,
) *Orchestrator {
	config.applyDefaults()
	return &Orchestrator{
		client:        client,
		registry:      registry,
		tasks:         tasks,
		instructions:  instructions,
		conversations: conversations,
		index:         index,
		tenantLocks:   tenantLocks,
		logger:        logging.OrNop(logger),
		metrics:       DefaultMetrics(),
		config:        config,
	}
}

// Response is the outcome of a direct user turn.
type Response struct {
	ConversationID string             `json:"conversation_id"`
	Answer         string             `json:"answer"`
	Invocations    []InvocationRecord `json:"invocations,omitempty"`
	Citations      []domain.RankedDoc `json:"citations,omitempty"`
}

// HandleUtterance runs one direct-mode turn: recent conversation window plus
// retrieved context, then the reasoning loop with the full capability set.
func (o *Orchestrator) HandleUtterance(ctx context.Context, tenantID, conversationID, text string) (*Response, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	unlock := o.tenantLocks.Lock(tenantID)
	defer unlock()

	conversationID, err := o.conversations.EnsureConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	if err := o.conversations.Append(ctx, conversationID, llm.RoleUser, text); err != nil {
		return nil, err
	}

	citations, err := o.index.Query(ctx, tenantID, text, o.config.TopK, nil, nil)
	if err != nil {
		o.logger.Warn("Retrieval failed for tenant %s, continuing without context: %v", tenantID, err)
		citations = nil
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: directSystemPrompt}}
	if retrieved := retrievedContext(citations); retrieved != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: retrieved})
	}
	window, err := o.conversations.RecentWindow(ctx, conversationID, o.config.HistoryWindow)
	if err != nil {
		return nil, err
	}
	window = trimToTokenBudget(window, o.config.HistoryTokenBudget)
	for _, m := range window {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	engine := o.newEngine(o.registry)
	ctx = capability.WithConversationID(ctx, conversationID)
	outcome, err := engine.Run(ctx, tenantID, messages)
	if err != nil {
		if timeout, ok := err.(*TimeoutError); ok {
			answer := fmt.Sprintf("I could not finish within the allowed time (%s). Any recorded task keeps its last saved state.", timeout.Elapsed.Round(time.Second))
			_ = o.conversations.Append(ctx, conversationID, llm.RoleAssistant, answer)
			return &Response{ConversationID: conversationID, Answer: answer, Invocations: outcome.Invocations, Citations: citations}, err
		}
		return nil, err
	}

	if err := o.conversations.Append(ctx, conversationID, llm.RoleAssistant, outcome.Answer); err != nil {
		return nil, err
	}
	return &Response{
		ConversationID: conversationID,
		Answer:         outcome.Answer,
		Invocations:    outcome.Invocations,
		Citations:      citations,
	}, nil
}

// trimToTokenBudget drops the oldest turns of a history window until the
// estimated token cost of the remainder fits budget. The newest turn always
// survives so the engine sees at least the utterance being answered.
func trimToTokenBudget(window []storage.StoredMessage, budget int) []storage.StoredMessage {
	total := 0
	for _, m := range window {
		total += llm.EstimateTokens(m.Content)
	}
	for len(window) > 1 && total > budget {
		total -= llm.EstimateTokens(window[0].Content)
		window = window[1:]
	}
	return window
}

// Resume drives a waiting task forward after its awaited event arrived. The
// caller (the poller) already holds the tenant lock and has matched the
// event to exactly this task.
//
// Contract: the task moves waiting -> in_progress here. On success it ends
// completed (or waiting again if the loop recorded a new expectation). On an
// unrecoverable error it goes back to waiting with an incremented retry
// count, until the retry budget is spent, at which point it fails.
func (o *Orchestrator) Resume(ctx context.Context, waitingTask *domain.Task, event domain.InboundEvent) (*Outcome, error) {
	resumed, err := o.tasks.Transition(ctx, waitingTask.ID, domain.TaskInProgress, nil)
	if err != nil {
		return nil, fmt.Errorf("resume task %s: %w", waitingTask.ID, err)
	}
	o.logger.Info("Resuming task %s for tenant %s on event %s", resumed.ID, resumed.TenantID, event.EventID)

	goal := taskContext(resumed) + "\nThe awaited reply:\n" + eventContext(event)
	citations, err := o.index.Query(ctx, resumed.TenantID, resumed.Description, o.config.TopK, nil, nil)
	if err != nil {
		citations = nil
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: resumptionSystemPrompt}}
	if retrieved := retrievedContext(citations); retrieved != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: retrieved})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: goal})

	engine := o.newEngine(o.registry)
	if convID := resumed.ContextString(domain.ContextConversationID); convID != "" {
		ctx = capability.WithConversationID(ctx, convID)
	}
	outcome, runErr := engine.Run(ctx, resumed.TenantID, messages)
	if runErr != nil {
		return outcome, o.handleResumptionFailure(ctx, resumed, runErr)
	}

	// The loop may already have completed the task or parked a new wait.
	current, err := o.tasks.Get(ctx, resumed.ID)
	if err != nil {
		return outcome, err
	}
	if current.Status == domain.TaskInProgress {
		patch := map[string]any{}
		if outcome.Answer != "" {
			patch["outcome"] = outcome.Answer
		}
		if _, err := o.tasks.Transition(ctx, resumed.ID, domain.TaskCompleted, patch); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// handleResumptionFailure applies the bounded retry policy: back to waiting
// with retry_count+1, or failed once the budget is spent. The failure path
// goes through in_progress because terminal states are only reachable from
// there.
func (o *Orchestrator) handleResumptionFailure(ctx context.Context, resumed *domain.Task, runErr error) error {
	retries := resumed.ContextInt(domain.ContextRetryCount) + 1
	if retries >= o.config.MaxResumptionTries {
		reason := fmt.Sprintf("resumption failed after %d attempt(s): %v", retries, runErr)
		o.logger.Error("Task %s failed permanently: %s", resumed.ID, reason)
		if _, err := o.tasks.Transition(ctx, resumed.ID, domain.TaskFailed, map[string]any{
			domain.ContextFailureReason: reason,
			domain.ContextRetryCount:    retries,
		}); err != nil {
			return fmt.Errorf("fail task %s: %w", resumed.ID, err)
		}
		return runErr
	}

	o.logger.Warn("Task %s resumption attempt %d/%d failed, re-parking: %v", resumed.ID, retries, o.config.MaxResumptionTries, runErr)
	if _, err := o.tasks.Transition(ctx, resumed.ID, domain.TaskWaiting, map[string]any{
		domain.ContextRetryCount: retries,
	}); err != nil {
		return fmt.Errorf("re-park task %s: %w", resumed.ID, err)
	}
	return runErr
}

// ProactiveOutcome is the structured result of a proactive evaluation:
// either no action, or a list of invocations each tagged with the
// instruction that justified it.
type ProactiveOutcome struct {
	NoAction bool               `json:"no_action"`
	Summary  string             `json:"summary,omitempty"`
	Actions  []InvocationRecord `json:"actions,omitempty"`
}

// EvaluateProactive judges an unmatched event against the tenant's active
// instructions. The caller holds the tenant lock.
func (o *Orchestrator) EvaluateProactive(ctx context.Context, tenantID string, event domain.InboundEvent) (*ProactiveOutcome, error) {
	instructions, err := o.instructions.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(instructions) == 0 {
		return &ProactiveOutcome{NoAction: true}, nil
	}

	citations, err := o.index.Query(ctx, tenantID, event.SubjectOrSummary+" "+event.SenderIdentity, o.config.TopK, nil, nil)
	if err != nil {
		citations = nil
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: proactiveSystemPrompt}}
	if retrieved := retrievedContext(citations); retrieved != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: retrieved})
	}
	messages = append(messages,
		llm.Message{Role: llm.RoleSystem, Content: instructionList(instructions)},
		llm.Message{Role: llm.RoleUser, Content: eventContext(event)},
	)

	// Task bookkeeping capabilities stay available; the tagging contract
	// applies to them like any other call.
	engine := o.newEngine(o.registry, WithProactiveTagging())
	outcome, err := engine.Run(ctx, tenantID, messages)
	if err != nil {
		return nil, err
	}

	executed := executedInvocations(outcome.Invocations)
	if len(executed) == 0 {
		return &ProactiveOutcome{NoAction: true, Summary: outcome.Answer}, nil
	}
	return &ProactiveOutcome{Summary: outcome.Answer, Actions: executed}, nil
}

func executedInvocations(records []InvocationRecord) []InvocationRecord {
	var out []InvocationRecord
	for _, r := range records {
		if r.Error == "" {
			out = append(out, r)
		}
	}
	return out
}

// LockTenant exposes the shared per-tenant mutex so the poller serializes
// with direct turns.
func (o *Orchestrator) LockTenant(tenantID string) (unlock func()) {
	return o.tenantLocks.Lock(tenantID)
}

func (o *Orchestrator) newEngine(caps capability.Provider, extra ...EngineOption) *Engine {
	opts := []EngineOption{
		WithMaxIterations(o.config.MaxIterations),
		WithMaxWallClock(o.config.MaxWallClock),
		WithMetrics(o.metrics),
	}
	opts = append(opts, extra...)
	return NewEngine(o.client, caps, o.logger, opts...)
}
