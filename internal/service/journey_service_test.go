package service

import (
	"context"
	"testing"
	"time"

	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// 2026-03-02 is a Monday.
var journeyNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newJourneyService(t *testing.T) *JourneyService {
	t.Helper()
	svc := NewJourneyService(newStore(t), time.UTC, zaptest.NewLogger(t))
	svc.now = func() time.Time { return journeyNow }
	return svc
}

func pendingSteps(t *testing.T, svc *JourneyService, id string) map[int]*model.ScheduledNotification {
	t.Helper()
	list, err := svc.store.ListScheduled(context.Background(), model.ScheduledFilter{JourneyID: id, Status: model.StatusPending})
	require.NoError(t, err)
	out := map[int]*model.ScheduledNotification{}
	for _, n := range list {
		out[n.StepIndex] = n
	}
	return out
}

func TestJourneyCreate_SeedsEveryStep(t *testing.T) {
	svc := newJourneyService(t)
	start := journeyNow.Add(48 * time.Hour)

	j, err := svc.Create(context.Background(), JourneyRequest{
		Name: "onboarding",
		Steps: []model.JourneyStep{
			{Segment: "non-members", Title: "Welcome", Delay: 1, DelayUnit: "day"},
			{Segment: "members", Body: "Weekly deals", DaysOfWeek: []string{"mon"}, TimesOfDay: []string{"08:00"}, StartAt: &start},
		},
	})
	require.NoError(t, err)
	assert.True(t, j.Active)

	steps := pendingSteps(t, svc, j.ID)
	require.Len(t, steps, 2)
	assert.True(t, steps[0].ScheduledAt.Equal(journeyNow))
	assert.True(t, steps[1].ScheduledAt.Equal(start))
	assert.Equal(t, "members", steps[1].Target)
	assert.Equal(t, "onboarding", steps[1].JourneyName)
	assert.Equal(t, model.TypeJourney, steps[1].Type)
}

func TestJourneyCreate_Validation(t *testing.T) {
	svc := newJourneyService(t)
	ctx := context.Background()

	cases := map[string]JourneyRequest{
		"no name":       {Steps: []model.JourneyStep{{Title: "x"}}},
		"no steps":      {Name: "empty"},
		"days only":     {Name: "j", Steps: []model.JourneyStep{{Title: "x", DaysOfWeek: []string{"mon"}}}},
		"bad clock":     {Name: "j", Steps: []model.JourneyStep{{Title: "x", DaysOfWeek: []string{"mon"}, TimesOfDay: []string{"25:00"}}}},
		"bad weekday":   {Name: "j", Steps: []model.JourneyStep{{Title: "x", DaysOfWeek: []string{"someday"}, TimesOfDay: []string{"08:00"}}}},
		"negative":      {Name: "j", Steps: []model.JourneyStep{{Title: "x", Delay: -1}}},
		"empty content": {Name: "j", Steps: []model.JourneyStep{{Segment: "All"}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestJourneyCreate_InactiveDoesNotSeed(t *testing.T) {
	svc := newJourneyService(t)
	inactive := false

	j, err := svc.Create(context.Background(), JourneyRequest{Name: "draft", Active: &inactive, Steps: []model.JourneyStep{{Title: "x"}}})
	require.NoError(t, err)

	assert.False(t, j.Active)
	assert.Empty(t, pendingSteps(t, svc, j.ID))
}

func TestJourney_DeactivateThenActivate(t *testing.T) {
	svc := newJourneyService(t)
	ctx := context.Background()
	j, err := svc.Create(ctx, JourneyRequest{
		Name: "reminders",
		Steps: []model.JourneyStep{
			{Title: "hourly", Delay: 2, DelayUnit: "hr"},
			{Title: "weekly", DaysOfWeek: []string{"wed"}, TimesOfDay: []string{"08:00"}},
		},
	})
	require.NoError(t, err)

	cancelled, err := svc.Deactivate(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)
	assert.Empty(t, pendingSteps(t, svc, j.ID))

	got, seeded, err := svc.Activate(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, 2, seeded)

	steps := pendingSteps(t, svc, j.ID)
	require.Len(t, steps, 2)
	assert.True(t, steps[0].ScheduledAt.Equal(journeyNow.Add(2*time.Hour)))
	assert.True(t, steps[1].ScheduledAt.Equal(time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)))

	_, seeded, err = svc.Activate(ctx, j.ID)
	require.NoError(t, err)
	assert.Zero(t, seeded)
}

func TestJourney_ActivateSkipsStepInFlight(t *testing.T) {
	svc := newJourneyService(t)
	ctx := context.Background()
	j, err := svc.Create(ctx, JourneyRequest{
		Name:  "reminders",
		Steps: []model.JourneyStep{{Title: "hourly", Delay: 2, DelayUnit: "hr"}},
	})
	require.NoError(t, err)
	first := pendingSteps(t, svc, j.ID)[0]
	require.NotNil(t, first)

	claimed, err := svc.store.ClaimScheduled(ctx, first.ID, journeyNow)
	require.NoError(t, err)

	cancelled, err := svc.Deactivate(ctx, j.ID)
	require.NoError(t, err)
	assert.Zero(t, cancelled)

	got, seeded, err := svc.Activate(ctx, j.ID)
	require.NoError(t, err)
	assert.Zero(t, seeded)
	assert.Empty(t, pendingSteps(t, svc, j.ID))

	// The claimed record finishes and brings its own successor.
	next := got.Occurrence(0, got.Steps[0], claimed.ScheduledAt.Add(2*time.Hour), claimed.Occurrence+1)
	stored, err := svc.store.CompleteScheduled(ctx, claimed.ID, model.Completion{Status: model.StatusSent, CompletedAt: journeyNow}, next)
	require.NoError(t, err)
	assert.True(t, stored)

	list, err := svc.store.ListScheduled(ctx, model.ScheduledFilter{JourneyID: j.ID, Status: model.StatusPending})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
