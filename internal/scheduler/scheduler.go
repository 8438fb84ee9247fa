// Package scheduler runs the periodic cycle that dispatches due notifications
// and re-enqueues journey steps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/labcompare/push-scheduler/internal/audience"
	"github.com/labcompare/push-scheduler/internal/claim"
	"github.com/labcompare/push-scheduler/internal/delivery"
	"github.com/labcompare/push-scheduler/internal/events"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/recurrence"
	"github.com/labcompare/push-scheduler/internal/storage"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Defaults applied to zero Config fields.
const (
	DefaultInterval = 60 * time.Second
	DefaultClaimTTL = 10 * time.Minute
)

// Config tunes the loop.
type Config struct {
	Interval   time.Duration
	Workers    int
	BatchLimit int
	ClaimTTL   time.Duration
	Location   *time.Location
}

// Store is the slice of storage the loop needs.
type Store interface {
	storage.NotificationStore
	storage.JourneyStore
}

// Resolver turns a target into recipients.
type Resolver interface {
	Resolve(ctx context.Context, target model.Target) audience.Audience
}

// Broadcaster sends one message to an audience.
type Broadcaster interface {
	Broadcast(ctx context.Context, ref delivery.Ref, aud audience.Audience, msg model.Message) delivery.Summary
}

// Report summarises one cycle.
type Report struct {
	Recovered int `json:"recovered"`
	Due       int `json:"due"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
	outcomeError
)

// Scheduler owns the cron trigger and the per-record pipeline.
type Scheduler struct {
	store       Store
	resolver    Resolver
	broadcaster Broadcaster
	claims      claim.Claimer
	events      events.Publisher
	cfg         Config
	log         *zap.Logger
	now         func() time.Time

	mu        sync.Mutex
	cron      *cron.Cron
	cancelRun context.CancelFunc
}

// New builds a Scheduler. claims and publisher may be nil.
func New(store Store, resolver Resolver, broadcaster Broadcaster, claims claim.Claimer, publisher events.Publisher, cfg Config, log *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if claims == nil {
		claims = claim.NewMemory()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		store:       store,
		resolver:    resolver,
		broadcaster: broadcaster,
		claims:      claims,
		events:      publisher,
		cfg:         cfg,
		log:         log.Named("scheduler"),
		now:         time.Now,
	}
}

// Start registers the cycle on an @every trigger. Overlapping cycles are
// skipped and panics are recovered by the cron chain. Cycles run detached
// from ctx: cancelling it does not abort a cycle in flight, Stop does once
// its own deadline passes.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	logger := cronLogger{s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	spec := "@every " + s.cfg.Interval.String()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(runCtx); err != nil {
			s.log.Error("cycle aborted", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("register %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.cancelRun = cancel
	s.log.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("workers", s.cfg.Workers),
		zap.String("tz", s.cfg.Location.String()))
	return nil
}

// Stop halts the trigger and waits for a running cycle. When ctx ends first
// the cycle is cancelled; records it already claimed are still completed.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.cron, s.cancelRun
	s.cron, s.cancelRun = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop deadline reached, cancelling cycle")
	}
	cancel()
	s.log.Info("scheduler stopped")
}

// RunOnce executes a single cycle. The returned error is only set when the
// due query itself failed; per-record problems are counted in the report.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	start := s.now()
	var report Report

	report.Recovered = s.recoverStale(ctx, start)

	due, err := s.store.ListDue(ctx, start, s.cfg.BatchLimit)
	if err != nil {
		return report, fmt.Errorf("list due: %w", err)
	}
	report.Due = len(due)
	if len(due) == 0 {
		return report, nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan *model.ScheduledNotification)
	)
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				out := s.processSafe(ctx, n)
				mu.Lock()
				switch out {
				case outcomeSent:
					report.Sent++
				case outcomeFailed:
					report.Failed++
				case outcomeError:
					report.Errors++
				default:
					report.Skipped++
				}
				mu.Unlock()
			}
		}()
	}
	for _, n := range due {
		if ctx.Err() != nil {
			break
		}
		jobs <- n
	}
	close(jobs)
	wg.Wait()

	s.log.Info("cycle finished",
		zap.Int("due", report.Due),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", report.Errors),
		zap.Int("recovered", report.Recovered),
		zap.Duration("took", s.now().Sub(start)))
	return report, nil
}

// processSafe keeps a panic in one record from taking down the worker.
func (s *Scheduler) processSafe(ctx context.Context, n *model.ScheduledNotification) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("record panicked",
				zap.String("id", n.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			out = outcomeError
		}
	}()
	return s.process(ctx, n)
}

// ProcessOne runs the pipeline for a single record id right away.
func (s *Scheduler) ProcessOne(ctx context.Context, id string) error {
	n, err := s.store.GetScheduled(ctx, id)
	if err != nil {
		return err
	}
	if s.processSafe(ctx, n) == outcomeError {
		return fmt.Errorf("processing %s failed", id)
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, n *model.ScheduledNotification) outcome {
	log := s.log.With(zap.String("id", n.ID))

	ok, err := s.claims.Acquire(ctx, claimKey(n.ID), s.cfg.ClaimTTL)
	if err != nil {
		// The store CAS still guarantees a single claimant.
		log.Warn("claim lock unavailable", zap.Error(err))
	} else if !ok {
		log.Debug("claimed elsewhere")
		return outcomeSkipped
	}

	claimed, err := s.store.ClaimScheduled(ctx, n.ID, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotPending) || errors.Is(err, storage.ErrNotFound) {
			log.Debug("not claimable", zap.Error(err))
			return outcomeSkipped
		}
		log.Error("claim failed", zap.Error(err))
		// Still pending: let the next cycle retry it.
		if err := s.claims.Release(context.WithoutCancel(ctx), claimKey(n.ID)); err != nil {
			log.Warn("release claim lock", zap.Error(err))
		}
		return outcomeError
	}

	completion, err := s.deliver(ctx, claimed)
	if err != nil {
		log.Error("delivery aborted", zap.Error(err))
		completion = model.Completion{Status: model.StatusFailed, FailureReason: err.Error()}
	}
	completion.CompletedAt = s.now()

	// The record is claimed; its terminal write must land even if ctx was
	// cancelled during delivery.
	if err := s.complete(context.WithoutCancel(ctx), claimed, completion); err != nil {
		log.Error("complete failed", zap.Error(err))
		return outcomeError
	}
	if completion.Status == model.StatusSent {
		return outcomeSent
	}
	return outcomeFailed
}

// deliver resolves and broadcasts. A panic is returned as an error so the
// record can still be completed.
func (s *Scheduler) deliver(ctx context.Context, n *model.ScheduledNotification) (c model.Completion, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	target, err := model.TargetFor(n.Target, n.UserID, n.UserIDs)
	if err != nil {
		return model.Completion{}, err
	}
	aud := s.resolver.Resolve(ctx, target)
	if aud.Empty() {
		return model.Completion{Status: model.StatusFailed, FailureReason: model.ReasonNoRecipients}, nil
	}
	summary := s.broadcaster.Broadcast(ctx, delivery.Ref{NotificationID: n.ID, JourneyID: n.JourneyID}, aud, n.Message)
	return summary.Completion(), nil
}

// complete commits the terminal status and, for active journeys, the next
// occurrence, then publishes the outcome. When the successor cannot be
// computed nothing is written, so stale recovery retries the record later.
func (s *Scheduler) complete(ctx context.Context, n *model.ScheduledNotification, c model.Completion) error {
	successor, err := s.successor(ctx, n)
	if err != nil {
		return fmt.Errorf("successor: %w", err)
	}
	stored, err := s.store.CompleteScheduled(ctx, n.ID, c, successor)
	if err != nil {
		return err
	}
	if !stored {
		successor = nil
	}
	if successor != nil {
		s.log.Debug("journey step re-enqueued",
			zap.String("id", n.ID),
			zap.String("next", successor.ID),
			zap.Time("at", successor.ScheduledAt))
	}
	if err := s.events.PublishCompleted(ctx, events.CompletedFrom(n, c, successor)); err != nil {
		s.log.Warn("publish completion failed", zap.String("id", n.ID), zap.Error(err))
	}
	return nil
}

// successor returns the next occurrence of a journey record, or nil when the
// record is not a journey step or the journey is no longer active.
func (s *Scheduler) successor(ctx context.Context, n *model.ScheduledNotification) (*model.ScheduledNotification, error) {
	if !n.IsJourney() {
		return nil, nil
	}
	j, err := s.store.GetJourney(ctx, n.JourneyID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("journey missing, chain ends", zap.String("id", n.ID), zap.String("journeyId", n.JourneyID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load journey %s: %w", n.JourneyID, err)
	}
	if !j.Active {
		return nil, nil
	}
	var step model.JourneyStep
	switch {
	case n.StepIndex >= 0 && n.StepIndex < len(j.Steps):
		step = j.Steps[n.StepIndex]
	case n.Step != nil:
		// The step was removed from the journey; keep recurring from the copy.
		step = *n.Step
	default:
		s.log.Error("journey step missing, chain ends", zap.String("id", n.ID), zap.String("journeyId", j.ID), zap.Int("step", n.StepIndex))
		return nil, nil
	}
	return j.Occurrence(n.StepIndex, step, s.nextAt(step, n.ScheduledAt), n.Occurrence+1), nil
}

// nextAt computes the next occurrence in the configured zone. An occurrence
// that would already be overdue is recomputed from now so a backlog does not
// replay every missed slot.
func (s *Scheduler) nextAt(step model.JourneyStep, last time.Time) time.Time {
	next := recurrence.Next(step, last.In(s.cfg.Location))
	if now := s.now().In(s.cfg.Location); !next.After(now) {
		next = recurrence.Next(step, now)
	}
	return next
}

// recoverStale fails records whose claim outlived the claim ttl.
func (s *Scheduler) recoverStale(ctx context.Context, now time.Time) int {
	stale, err := s.store.ListStale(ctx, now.Add(-s.cfg.ClaimTTL))
	if err != nil {
		s.log.Error("list stale failed", zap.Error(err))
		return 0
	}
	recovered := 0
	for _, n := range stale {
		c := model.Completion{
			Status:         model.StatusFailed,
			FailureReason:  model.ReasonInterrupted,
			RecipientCount: n.RecipientCount,
			SuccessCount:   n.SuccessCount,
			FailureCount:   n.FailureCount,
			CompletedAt:    now,
		}
		if err := s.complete(ctx, n, c); err != nil {
			s.log.Warn("recover stale failed", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		s.log.Warn("recovered stale claim", zap.String("id", n.ID), zap.Timep("claimedAt", n.ClaimedAt))
		recovered++
	}
	return recovered
}

func claimKey(id string) string {
	return "claim:scheduled:" + id
}

// cronLogger routes cron's own messages into zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
