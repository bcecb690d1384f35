// Package orchestrator runs the bounded reasoning loop and the three entry
// points around it: direct user turns, resumption of waiting tasks and
// proactive evaluation of standing instructions.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ada/internal/capability"
	"ada/internal/llm"
	"ada/internal/logging"
)

// Loop defaults. Callers can tighten them per engine.
const (
	DefaultMaxIterations = 10
	DefaultMaxWallClock  = 2 * time.Minute
)

// TimeoutError ends a turn that hit the iteration or wall-clock cap without
// a final answer. Any open task stays in its last durable state.
type TimeoutError struct {
	Iterations int
	Elapsed    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("orchestration timed out after %d iteration(s) in %s", e.Iterations, e.Elapsed.Round(time.Millisecond))
}

// InvocationRecord is the audit trail of one capability call. Records are
// written to the log before execution and completed after, so a crash
// mid-call leaves a reconcilable trace.
type InvocationRecord struct {
	Capability    string         `json:"capability"`
	Arguments     map[string]any `json:"arguments"`
	InstructionID string         `json:"instruction_id,omitempty"`
	Content       string         `json:"content,omitempty"`
	Error         string         `json:"error,omitempty"`
	Data          any            `json:"data,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

// Outcome is the result of one engine run.
type Outcome struct {
	Answer      string             `json:"answer"`
	Invocations []InvocationRecord `json:"invocations"`
	StopReason  string             `json:"stop_reason"`
	Iterations  int                `json:"iterations"`
	Usage       llm.TokenUsage     `json:"usage"`
}

// Engine drives completion rounds against the capability registry until the
// model emits a final answer or a cap is hit. Each iteration executes at
// most one capability.
type Engine struct {
	client        llm.Client
	caps          capability.Provider
	logger        logging.Logger
	metrics       *Metrics
	maxIterations int
	maxWallClock  time.Duration

	// proactive requires every capability call to carry an instruction_id
	// argument naming the instruction that justified it.
	proactive bool
}

// EngineOption customizes an engine.
type EngineOption func(*Engine)

// WithMaxIterations caps the number of reasoning iterations.
func WithMaxIterations(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithMaxWallClock caps the total run duration.
func WithMaxWallClock(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.maxWallClock = d
		}
	}
}

// WithProactiveTagging makes the engine enforce the instruction_id contract.
func WithProactiveTagging() EngineOption {
	return func(e *Engine) { e.proactive = true }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a reasoning engine over the given capability view.
func NewEngine(client llm.Client, caps capability.Provider, logger logging.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		client:        client,
		caps:          caps,
		logger:        logging.OrNop(logger),
		maxIterations: DefaultMaxIterations,
		maxWallClock:  DefaultMaxWallClock,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the loop for one tenant turn. messages carries the assembled
// working context, system prompt first.
func (e *Engine) Run(ctx context.Context, tenantID string, messages []llm.Message) (*Outcome, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.maxWallClock)
	defer cancel()

	outcome := &Outcome{}
	tools := e.caps.Definitions()

	for outcome.Iterations < e.maxIterations {
		if err := ctx.Err(); err != nil {
			return e.timedOut(tenantID, outcome, start)
		}
		outcome.Iterations++
		e.logger.Debug("Iteration %d/%d for tenant %s", outcome.Iterations, e.maxIterations, tenantID)

		resp, err := e.client.Complete(ctx, llm.CompletionRequest{
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				return e.timedOut(tenantID, outcome, start)
			}
			return nil, fmt.Errorf("completion: %w", err)
		}
		outcome.Usage.PromptTokens += resp.Usage.PromptTokens
		outcome.Usage.CompletionTokens += resp.Usage.CompletionTokens
		outcome.Usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 {
			outcome.Answer = resp.Content
			outcome.StopReason = "final_answer"
			if e.metrics != nil {
				e.metrics.ObserveRun(tenantID, outcome.StopReason, time.Since(start), outcome.Iterations)
			}
			return outcome, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// One capability per iteration. Extra calls in the same round are
		// answered but not executed.
		for i, tc := range resp.ToolCalls {
			var toolMsg llm.Message
			if i == 0 {
				record := e.invoke(ctx, tenantID, tc)
				outcome.Invocations = append(outcome.Invocations, *record)
				toolMsg = toolMessage(tc, record.resultContent())
			} else {
				toolMsg = toolMessage(tc, "not executed: invoke one capability per turn")
			}
			messages = append(messages, toolMsg)
		}
	}

	return e.timedOut(tenantID, outcome, start)
}

func (e *Engine) timedOut(tenantID string, outcome *Outcome, start time.Time) (*Outcome, error) {
	elapsed := time.Since(start)
	outcome.StopReason = "timeout"
	if e.metrics != nil {
		e.metrics.ObserveRun(tenantID, outcome.StopReason, elapsed, outcome.Iterations)
	}
	e.logger.Warn("Reasoning loop capped at %d iteration(s) after %s", outcome.Iterations, elapsed.Round(time.Millisecond))
	return outcome, &TimeoutError{Iterations: outcome.Iterations, Elapsed: elapsed}
}

// invoke runs one capability call with before/after audit logging. It never
// returns an error; failures are captured in the record and fed back to the
// model as text so the loop can recover or explain.
func (e *Engine) invoke(ctx context.Context, tenantID string, tc llm.ToolCall) *InvocationRecord {
	record := &InvocationRecord{Capability: tc.Name}

	args := map[string]any{}
	if tc.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			record.Error = fmt.Sprintf("malformed arguments: %v", err)
			e.logger.Warn("Capability %s rejected: %s", tc.Name, record.Error)
			return record
		}
	}

	if e.proactive {
		instructionID, _ := args["instruction_id"].(string)
		if instructionID == "" {
			record.Error = "missing instruction_id: every proactive capability call must name the instruction that justified it"
			e.logger.Warn("Capability %s rejected: %s", tc.Name, record.Error)
			return record
		}
		record.InstructionID = instructionID
		delete(args, "instruction_id")
	}
	record.Arguments = args

	argsJSON, _ := json.Marshal(args)
	e.logger.Info("Invoking capability %s for tenant %s: %s", tc.Name, tenantID, string(argsJSON))
	if e.metrics != nil {
		e.metrics.ObserveInvocationStart(tc.Name)
	}

	start := time.Now()
	exec, err := e.caps.Get(tc.Name)
	if err != nil {
		record.Error = err.Error()
		record.Duration = time.Since(start)
		e.logger.Warn("Capability %s not available: %v", tc.Name, err)
		return record
	}

	result, err := exec.Execute(ctx, tenantID, capability.Call{ID: tc.ID, Name: tc.Name, Arguments: args})
	record.Duration = time.Since(start)
	if err != nil {
		record.Error = err.Error()
		e.logger.Warn("Capability %s failed after %s: %v", tc.Name, record.Duration.Round(time.Millisecond), err)
		if e.metrics != nil {
			e.metrics.ObserveInvocationDone(tc.Name, false, record.Duration)
		}
		return record
	}

	record.Content = result.Content
	record.Data = result.Data
	e.logger.Info("Capability %s completed in %s", tc.Name, record.Duration.Round(time.Millisecond))
	if e.metrics != nil {
		e.metrics.ObserveInvocationDone(tc.Name, true, record.Duration)
	}
	return record
}

// resultContent is the text fed back to the model for this invocation.
func (r *InvocationRecord) resultContent() string {
	if r.Error != "" {
		return "error: " + r.Error
	}
	if r.Content == "" {
		return "ok"
	}
	return r.Content
}

func toolMessage(tc llm.ToolCall, content string) llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: tc.ID,
		Name:       tc.Name,
	}
}
