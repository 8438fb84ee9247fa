package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labcompare/push-scheduler/internal/audience"
	"github.com/labcompare/push-scheduler/internal/claim"
	"github.com/labcompare/push-scheduler/internal/delivery"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/storage"
	"go.uber.org/zap"
)

// IdempotencyTTL is how long an Idempotency-Key blocks a replay.
const IdempotencyTTL = 24 * time.Hour

// Resolver turns a target into recipients.
type Resolver interface {
	Resolve(ctx context.Context, target model.Target) audience.Audience
}

// Broadcaster sends one message to an audience.
type Broadcaster interface {
	Broadcast(ctx context.Context, ref delivery.Ref, aud audience.Audience, msg model.Message) delivery.Summary
}

// NotificationService schedules, cancels and immediately sends notifications.
type NotificationService struct {
	store       storage.NotificationStore
	resolver    Resolver
	broadcaster Broadcaster
	claims      claim.Claimer
	log         *zap.Logger
	now         func() time.Time
}

// ScheduleRequest is a notification with its send time.
type ScheduleRequest struct {
	model.NotificationRequest
	ScheduledAt time.Time `json:"scheduledAt"`
}

// NewNotificationService builds NotificationService.
func NewNotificationService(store storage.NotificationStore, resolver Resolver, broadcaster Broadcaster, claims claim.Claimer, log *zap.Logger) *NotificationService {
	if claims == nil {
		claims = claim.NewMemory()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationService{
		store:       store,
		resolver:    resolver,
		broadcaster: broadcaster,
		claims:      claims,
		log:         log.Named("notifications"),
		now:         time.Now,
	}
}

// Schedule stores a pending notification. A scheduledAt in the past fires
// on the next cycle.
func (s *NotificationService) Schedule(ctx context.Context, req ScheduleRequest) (*model.ScheduledNotification, error) {
	if err := validateRequest(&req.NotificationRequest); err != nil {
		return nil, invalid(err)
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.ScheduledAt, validation.Required),
	); err != nil {
		return nil, invalid(err)
	}
	n := &model.ScheduledNotification{
		NotificationRequest: req.NotificationRequest,
		ScheduledAt:         req.ScheduledAt.UTC(),
		Status:              model.StatusPending,
	}
	if err := s.store.InsertScheduled(ctx, n); err != nil {
		return nil, err
	}
	s.log.Info("notification scheduled", zap.String("id", n.ID), zap.Time("at", n.ScheduledAt), zap.String("target", n.Target))
	return n, nil
}

// Cancel moves a pending notification to cancelled.
func (s *NotificationService) Cancel(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	return s.store.CancelScheduled(ctx, id)
}

// Get returns one record.
func (s *NotificationService) Get(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	return s.store.GetScheduled(ctx, id)
}

// List returns records matching filter.
func (s *NotificationService) List(ctx context.Context, filter model.ScheduledFilter) ([]*model.ScheduledNotification, error) {
	if filter.Status != "" {
		switch filter.Status {
		case model.StatusPending, model.StatusProcessing, model.StatusSent, model.StatusFailed, model.StatusCancelled:
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
		}
	}
	return s.store.ListScheduled(ctx, filter)
}

// SendNow delivers right away and records the outcome like a scheduled send.
// A non-empty key makes the call idempotent for IdempotencyTTL.
func (s *NotificationService) SendNow(ctx context.Context, key string, req model.NotificationRequest) (*model.ScheduledNotification, error) {
	if err := validateRequest(&req); err != nil {
		return nil, invalid(err)
	}
	target, _ := model.TargetFor(req.Target, req.UserID, req.UserIDs)

	held := false
	if key != "" {
		ok, err := s.claims.Acquire(ctx, "idem:"+key, IdempotencyTTL)
		switch {
		case err != nil:
			s.log.Warn("idempotency check unavailable", zap.String("key", key), zap.Error(err))
		case !ok:
			return nil, fmt.Errorf("%w: idempotency key %q", ErrDuplicate, key)
		default:
			held = true
		}
	}
	// Frees the key when nothing reached a device, so a retry is not refused.
	release := func() {
		if !held {
			return
		}
		if err := s.claims.Release(context.WithoutCancel(ctx), "idem:"+key); err != nil {
			s.log.Warn("release idempotency key", zap.String("key", key), zap.Error(err))
		}
	}

	now := s.now().UTC()
	n := &model.ScheduledNotification{
		NotificationRequest: req,
		ScheduledAt:         now,
		Status:              model.StatusProcessing,
		ClaimedAt:           &now,
	}
	if err := s.store.InsertScheduled(ctx, n); err != nil {
		release()
		return nil, err
	}

	aud := s.resolver.Resolve(ctx, target)
	var completion model.Completion
	if aud.Empty() {
		completion = delivery.Summary{}.Completion()
	} else {
		summary := s.broadcaster.Broadcast(ctx, delivery.Ref{NotificationID: n.ID}, aud, req.Message)
		completion = summary.Completion()
	}
	completion.CompletedAt = s.now()
	if _, err := s.store.CompleteScheduled(context.WithoutCancel(ctx), n.ID, completion, nil); err != nil {
		if completion.SuccessCount == 0 {
			release()
		}
		return nil, err
	}
	stored, err := s.store.GetScheduled(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	if completion.FailureReason == model.ReasonNoRecipients {
		return stored, ErrNoRecipients
	}
	return stored, nil
}

// IsConflict reports errors caused by the record's current state.
func IsConflict(err error) bool {
	return errors.Is(err, storage.ErrNotPending) || errors.Is(err, ErrDuplicate) || errors.Is(err, storage.ErrJourneyInactive)
}
