package service

import (
	"context"
	"time"

	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/storage"
)

// Summary is the admin overview.
type Summary struct {
	Scheduled      map[model.Status]int `json:"scheduled"`
	ActiveJourneys int                  `json:"activeJourneys"`
	TotalJourneys  int                  `json:"totalJourneys"`
	TodaySent      int                  `json:"todaySent"`
	TodaySuccess   int                  `json:"todaySuccess"`
	RecentLogs     []*model.DeliveryLog `json:"recentLogs"`
}

// SummaryService aggregates store-wide counters.
type SummaryService struct {
	store storage.Store
	logs  *DeliveryLogService
	now   func() time.Time
}

// NewSummaryService builds SummaryService.
func NewSummaryService(store storage.Store, logs *DeliveryLogService) *SummaryService {
	return &SummaryService{store: store, logs: logs, now: time.Now}
}

// Summary counts records per status, journeys, and today's deliveries.
func (s *SummaryService) Summary(ctx context.Context) (*Summary, error) {
	records, err := s.store.ListScheduled(ctx, model.ScheduledFilter{})
	if err != nil {
		return nil, err
	}
	out := &Summary{Scheduled: map[model.Status]int{
		model.StatusPending:    0,
		model.StatusProcessing: 0,
		model.StatusSent:       0,
		model.StatusFailed:     0,
		model.StatusCancelled:  0,
	}}
	for _, n := range records {
		out.Scheduled[n.Status]++
	}

	journeys, err := s.store.ListJourneys(ctx)
	if err != nil {
		return nil, err
	}
	out.TotalJourneys = len(journeys)
	for _, j := range journeys {
		if j.Active {
			out.ActiveJourneys++
		}
	}

	out.TodaySent, out.TodaySuccess, out.RecentLogs, err = s.logs.Today(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return out, nil
}
