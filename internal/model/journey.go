package model

import (
	"strings"
	"time"
)

// Delay units accepted by JourneyStep.DelayUnit.
const (
	DelayUnitMinute = "min"
	DelayUnitHour   = "hr"
	DelayUnitDay    = "day"
)

// Journey is a named, long-running multi-step campaign.
type Journey struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Active    bool          `json:"active"`
	Steps     []JourneyStep `json:"steps"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// JourneyStep is one recurring message within a journey.
type JourneyStep struct {
	Segment    string     `json:"segment"`
	UserIDs    []string   `json:"userIds,omitempty"`
	Delay      int        `json:"delay,omitempty"`
	DelayUnit  string     `json:"delayUnit,omitempty"`
	DaysOfWeek []string   `json:"daysOfWeek,omitempty"`
	TimesOfDay []string   `json:"timesOfDay,omitempty"`
	StartAt    *time.Time `json:"startAt,omitempty"`

	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon,omitempty"`
	Image   string   `json:"image,omitempty"`
	URL     string   `json:"url,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

// Message returns the step content.
func (s JourneyStep) Message() Message {
	return Message{
		Title:   s.Title,
		Body:    s.Body,
		Icon:    s.Icon,
		Image:   s.Image,
		URL:     s.URL,
		Actions: s.Actions,
	}
}

// NormalizedDelayUnit folds the accepted spellings onto min/hr/day.
func (s JourneyStep) NormalizedDelayUnit() string {
	switch strings.ToLower(strings.TrimSpace(s.DelayUnit)) {
	case "hr", "hrs", "hour", "hours", "h":
		return DelayUnitHour
	case "day", "days", "d":
		return DelayUnitDay
	}
	return DelayUnitMinute
}

// Occurrence builds the pending record for step firing at at. The step
// content is copied so later edits to the journey do not change what an
// already scheduled occurrence sends.
func (j *Journey) Occurrence(stepIndex int, step JourneyStep, at time.Time, occurrence int) *ScheduledNotification {
	return &ScheduledNotification{
		NotificationRequest: NotificationRequest{
			Message: step.Message(),
			Target:  step.Segment,
			UserIDs: append([]string(nil), step.UserIDs...),
		},
		ScheduledAt: at,
		Status:      StatusPending,
		Type:        TypeJourney,
		JourneyID:   j.ID,
		JourneyName: j.Name,
		StepIndex:   stepIndex,
		Occurrence:  occurrence,
		Step:        &step,
	}
}
