package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryLogService(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	for i := 0; i < 12; i++ {
		at := day1
		status := model.DeliverySuccess
		journey := ""
		if i%3 == 0 {
			at = day2
			status = model.DeliveryFailed
			journey = "j1"
		}
		require.NoError(t, store.AppendDeliveryLog(ctx, &model.DeliveryLog{
			UserID:    fmt.Sprintf("u%d", i),
			JourneyID: journey,
			Status:    status,
			CreatedAt: at,
		}))
	}
	svc := NewDeliveryLogService(store)

	page, err := svc.Query(ctx, model.DeliveryLogFilter{PageSize: 5, Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	assert.Equal(t, 3, page.Pages)
	assert.Len(t, page.Data, 2)

	failed, err := svc.Query(ctx, model.DeliveryLogFilter{Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, 4, failed.Total)
	assert.True(t, failed.Data[0].CreatedAt.Equal(day2))

	byStatus, err := svc.CountByStatus(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"status": model.DeliveryFailed, "count": 4},
		{"status": model.DeliverySuccess, "count": 8},
	}, byStatus)

	byDate, err := svc.CountByDate(ctx, "day", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"date": "2026-03-01", "count": 8},
		{"date": "2026-03-02", "count": 4},
	}, byDate)

	begin := day2
	byJourney, err := svc.CountByJourney(ctx, &begin, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"journey": "j1", "count": 4}}, byJourney)

	sent, success, recent, err := svc.Today(ctx, day2.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, sent)
	assert.Zero(t, success)
	assert.Len(t, recent, 4)
}

func TestSummaryService(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertJourney(ctx, &model.Journey{Name: "a", Active: true}))
	require.NoError(t, store.UpsertJourney(ctx, &model.Journey{Name: "b"}))
	require.NoError(t, store.InsertScheduled(ctx, &model.ScheduledNotification{ScheduledAt: time.Now()}))
	require.NoError(t, store.AppendDeliveryLog(ctx, &model.DeliveryLog{UserID: "u1", Status: model.DeliverySuccess}))

	summary, err := NewSummaryService(store, NewDeliveryLogService(store)).Summary(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Scheduled[model.StatusPending])
	assert.Equal(t, 0, summary.Scheduled[model.StatusSent])
	assert.Equal(t, 1, summary.ActiveJourneys)
	assert.Equal(t, 2, summary.TotalJourneys)
	assert.Equal(t, 1, summary.TodaySent)
	assert.Equal(t, 1, summary.TodaySuccess)
}
