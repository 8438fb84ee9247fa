package service

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/recurrence"
	"github.com/labcompare/push-scheduler/internal/storage"
	"go.uber.org/zap"
)

// JourneyStore is the storage slice journeys need.
type JourneyStore interface {
	storage.JourneyStore
	storage.NotificationStore
}

// JourneyService manages journeys and seeds their first occurrences.
type JourneyService struct {
	store JourneyStore
	loc   *time.Location
	log   *zap.Logger
	now   func() time.Time
}

// JourneyRequest describes a new journey. Active defaults to true.
type JourneyRequest struct {
	Name   string              `json:"name"`
	Active *bool               `json:"active,omitempty"`
	Steps  []model.JourneyStep `json:"steps"`
}

// NewJourneyService builds JourneyService. loc is the zone recurrence slots
// are evaluated in.
func NewJourneyService(store JourneyStore, loc *time.Location, log *zap.Logger) *JourneyService {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &JourneyService{store: store, loc: loc, log: log.Named("journeys"), now: time.Now}
}

// Create stores the journey and, when active, schedules every step at its
// startAt (or now).
func (s *JourneyService) Create(ctx context.Context, req JourneyRequest) (*model.Journey, error) {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&req.Steps, validation.Required),
	); err != nil {
		return nil, invalid(err)
	}
	for i := range req.Steps {
		if err := validateStep(&req.Steps[i]); err != nil {
			return nil, invalid(fmt.Errorf("steps[%d]: %w", i, err))
		}
	}

	j := &model.Journey{Name: req.Name, Active: req.Active == nil || *req.Active, Steps: req.Steps}
	if err := s.store.UpsertJourney(ctx, j); err != nil {
		return nil, err
	}
	if j.Active {
		now := s.now()
		for i, step := range j.Steps {
			at := now
			if step.StartAt != nil {
				at = *step.StartAt
			}
			if err := s.store.InsertScheduled(ctx, j.Occurrence(i, step, at.UTC(), 0)); err != nil {
				return nil, fmt.Errorf("seed step %d: %w", i, err)
			}
		}
	}
	s.log.Info("journey created", zap.String("id", j.ID), zap.String("name", j.Name), zap.Int("steps", len(j.Steps)), zap.Bool("active", j.Active))
	return j, nil
}

// Get returns one journey.
func (s *JourneyService) Get(ctx context.Context, id string) (*model.Journey, error) {
	return s.store.GetJourney(ctx, id)
}

// List returns every journey.
func (s *JourneyService) List(ctx context.Context) ([]*model.Journey, error) {
	return s.store.ListJourneys(ctx)
}

// Deactivate stops the journey and cancels its pending occurrences.
func (s *JourneyService) Deactivate(ctx context.Context, id string) (int, error) {
	n, err := s.store.DeactivateJourney(ctx, id)
	if err != nil {
		return 0, err
	}
	s.log.Info("journey deactivated", zap.String("id", id), zap.Int("cancelled", n))
	return n, nil
}

// Activate turns the journey back on and schedules the next occurrence of
// every step that has nothing pending or in flight. It returns how many
// were seeded.
func (s *JourneyService) Activate(ctx context.Context, id string) (*model.Journey, int, error) {
	j, err := s.store.GetJourney(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if !j.Active {
		j.Active = true
		if err := s.store.UpsertJourney(ctx, j); err != nil {
			return nil, 0, err
		}
	}
	// A processing record commits its own successor once it completes.
	covered := make(map[int]bool, len(j.Steps))
	for _, st := range []model.Status{model.StatusPending, model.StatusProcessing} {
		list, err := s.store.ListScheduled(ctx, model.ScheduledFilter{JourneyID: j.ID, Status: st})
		if err != nil {
			return nil, 0, err
		}
		for _, n := range list {
			covered[n.StepIndex] = true
		}
	}

	now := s.now().In(s.loc)
	seeded := 0
	for i, step := range j.Steps {
		if covered[i] {
			continue
		}
		at := recurrence.Next(step, now)
		if step.StartAt != nil && step.StartAt.After(now) {
			at = *step.StartAt
		}
		if err := s.store.InsertScheduled(ctx, j.Occurrence(i, step, at.UTC(), 0)); err != nil {
			return nil, seeded, fmt.Errorf("seed step %d: %w", i, err)
		}
		seeded++
	}
	s.log.Info("journey activated", zap.String("id", j.ID), zap.Int("seeded", seeded))
	return j, seeded, nil
}
