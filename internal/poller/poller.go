// Package poller drives the event pipeline: on a fixed interval it fetches
// new external events per tenant and channel, matches them against waiting
// tasks and hands them to the orchestrator in resumption or proactive mode.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"ada/internal/async"
	"ada/internal/domain"
	"ada/internal/errors"
	"ada/internal/logging"
	"ada/internal/orchestrator"
	"ada/internal/resumption"
	"ada/internal/storage"
	"ada/internal/task"
)

// EventSource fetches a tenant's events newer than cursor and returns the
// next cursor. The returned cursor must equal the input when nothing new
// arrived.
type EventSource interface {
	FetchSince(ctx context.Context, tenantID, cursor string) ([]domain.InboundEvent, string, error)
}

// Resumer is the slice of the orchestrator the poller drives. Implemented
// by orchestrator.Orchestrator.
type Resumer interface {
	LockTenant(tenantID string) (unlock func())
	Resume(ctx context.Context, waitingTask *domain.Task, event domain.InboundEvent) (*orchestrator.Outcome, error)
	EvaluateProactive(ctx context.Context, tenantID string, event domain.InboundEvent) (*orchestrator.ProactiveOutcome, error)
}

// Config tunes the poller.
type Config struct {
	Interval          time.Duration // default 30s
	TenantConcurrency int           // default 4
	TenantTimeout     time.Duration // per tenant per cycle, default 60s
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.TenantConcurrency <= 0 {
		c.TenantConcurrency = 4
	}
	if c.TenantTimeout <= 0 {
		c.TenantTimeout = time.Minute
	}
}

// Poller runs the polling cycle. One cron timer drives cycles; within a
// cycle tenants run concurrently up to a bound, and each tenant's work is
// serialized through the orchestrator's tenant lock.
type Poller struct {
	orch      Resumer
	tasks     *task.Store
	cursors   *storage.CursorStore
	ambiguity *storage.AmbiguityStore
	tenants   *storage.TenantDirectory
	sources   map[string]EventSource // channel -> source
	logger    logging.Logger
	metrics   *Metrics
	config    Config
	cron      *cron.Cron
}

// New creates a poller over the given event sources, keyed by channel.
func New(
	orch Resumer,
	tasks *task.Store,
	cursors *storage.CursorStore,
	ambiguity *storage.AmbiguityStore,
	tenants *storage.TenantDirectory,
	sources map[string]EventSource,
	logger logging.Logger,
	config Config,
) *Poller {
	config.applyDefaults()
	return &Poller{
		orch:      orch,
		tasks:     tasks,
		cursors:   cursors,
		ambiguity: ambiguity,
		tenants:   tenants,
		sources:   sources,
		logger:    logging.OrNop(logger),
		metrics:   DefaultMetrics(),
		config:    config,
	}
}

// Start schedules the polling cycle. Overlapping cycles are skipped, not
// queued.
func (p *Poller) Start(ctx context.Context) error {
	if p.cron != nil {
		return fmt.Errorf("poller already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	spec := fmt.Sprintf("@every %s", p.config.Interval)
	_, err := c.AddFunc(spec, func() {
		defer async.Recover(p.logger, "poll cycle")
		if err := p.RunCycle(ctx); err != nil {
			p.logger.Error("Poll cycle failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule poll cycle: %w", err)
	}
	p.cron = c
	c.Start()
	p.logger.Info("Poller started, interval %s", p.config.Interval)
	return nil
}

// Stop halts scheduling and waits for a running cycle to finish.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	p.logger.Info("Poller stopped")
}

// RunCycle processes all registered tenants once. A failing tenant is
// logged and skipped; it never blocks the rest of the cycle.
func (p *Poller) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() { p.metrics.ObserveCycle(time.Since(start)) }()

	tenantIDs, err := p.tenants.List(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(p.config.TenantConcurrency)
	for _, tenantID := range tenantIDs {
		tenantID := tenantID
		group.Go(func() error {
			tenantCtx, cancel := context.WithTimeout(ctx, p.config.TenantTimeout)
			defer cancel()
			if err := p.pollTenant(tenantCtx, tenantID); err != nil {
				// Fault isolation: a slow or broken tenant is retried next
				// cycle; it must not fail the group.
				p.logger.Error("Polling tenant %s failed: %v", tenantID, err)
				p.metrics.ObserveTenantFailure()
			}
			return nil
		})
	}
	return group.Wait()
}

// pollTenant drains every channel for one tenant under the tenant lock.
func (p *Poller) pollTenant(ctx context.Context, tenantID string) error {
	unlock := p.orch.LockTenant(tenantID)
	defer unlock()

	var firstErr error
	for channel, source := range p.sources {
		if err := p.pollChannel(ctx, tenantID, channel, source); err != nil {
			p.logger.Error("Channel %s for tenant %s: %v", channel, tenantID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// pollChannel fetches and processes events past the stored cursor. The
// cursor advances only after each event is fully handled, so a crash means
// re-processing, never loss.
func (p *Poller) pollChannel(ctx context.Context, tenantID, channel string, source EventSource) error {
	cursor, err := p.cursors.Get(ctx, tenantID, channel)
	if err != nil {
		return err
	}

	events, next, err := source.FetchSince(ctx, tenantID, cursor)
	if err != nil {
		return fmt.Errorf("fetch %s events: %w", channel, err)
	}
	if len(events) == 0 {
		return nil
	}
	p.logger.Info("Tenant %s: %d new %s event(s)", tenantID, len(events), channel)

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processEvent(ctx, tenantID, event); err != nil {
			// The event stays before the watermark and is retried next
			// cycle.
			p.metrics.ObserveCursorHeld(channel)
			return fmt.Errorf("event %s: %w", event.EventID, err)
		}
	}
	return p.cursors.Advance(ctx, tenantID, channel, next)
}

// processEvent routes one event: resumption when exactly one waiting task
// matches, proactive evaluation otherwise. An ambiguous event is parked for
// an operator and counts as processed so the channel keeps moving.
func (p *Poller) processEvent(ctx context.Context, tenantID string, event domain.InboundEvent) error {
	waiting, err := p.tasks.ListWaiting(ctx, tenantID)
	if err != nil {
		return err
	}

	matched, err := resumption.Match(waiting, event)
	if err != nil {
		var ambErr *resumption.AmbiguityError
		if errors.As(err, &ambErr) {
			p.logger.Warn("Tenant %s: event %s is ambiguous across tasks %v, parking for operator",
				tenantID, event.EventID, ambErr.CandidateIDs)
			_, parkErr := p.ambiguity.Park(ctx, tenantID, event, ambErr.CandidateIDs)
			if parkErr == nil {
				p.metrics.ObserveEvent(event.Channel, "parked")
			}
			return parkErr
		}
		return err
	}

	if matched != nil {
		if _, err := p.orch.Resume(ctx, matched, event); err != nil {
			// The resumption retry policy has already been applied to the
			// task; the event itself is done.
			p.logger.Warn("Tenant %s: resuming task %s on event %s failed: %v",
				tenantID, matched.ID, event.EventID, err)
			p.metrics.ObserveEvent(event.Channel, "resume_failed")
			return nil
		}
		p.metrics.ObserveEvent(event.Channel, "resumed")
		return nil
	}
	if _, err := p.orch.EvaluateProactive(ctx, tenantID, event); err != nil {
		return fmt.Errorf("proactive evaluation: %w", err)
	}
	p.metrics.ObserveEvent(event.Channel, "proactive")
	return nil
}
