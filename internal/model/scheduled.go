package model

import "time"

// Status is the lifecycle state of a scheduled notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// TypeJourney tags scheduled notifications that belong to a journey.
const TypeJourney = "journey"

// Failure reasons written to ScheduledNotification.FailureReason.
const (
	ReasonNoRecipients    = "no recipients for target"
	ReasonAllFailed       = "delivery failed for all recipients"
	ReasonInterrupted     = "processing interrupted"
	ReasonJourneyInactive = "journey deactivated"
)

// ScheduledNotification is a persisted unit of pending outbound work.
type ScheduledNotification struct {
	ID string `json:"id"`
	NotificationRequest

	ScheduledAt time.Time `json:"scheduledAt"`
	Status      Status    `json:"status"`

	Type        string       `json:"type,omitempty"`
	JourneyID   string       `json:"journeyId,omitempty"`
	JourneyName string       `json:"journeyName,omitempty"`
	StepIndex   int          `json:"stepIndex"`
	Occurrence  int          `json:"occurrence"`
	Step        *JourneyStep `json:"step,omitempty"`

	RecipientCount int        `json:"recipientCount"`
	SuccessCount   int        `json:"successCount"`
	FailureCount   int        `json:"failureCount"`
	FailureReason  string     `json:"failureReason,omitempty"`
	ClaimedAt      *time.Time `json:"claimedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsJourney reports whether the record is a journey step occurrence.
func (n *ScheduledNotification) IsJourney() bool {
	return n.Type == TypeJourney && n.JourneyID != ""
}

// Completion is the terminal write applied to a claimed notification.
type Completion struct {
	Status         Status
	RecipientCount int
	SuccessCount   int
	FailureCount   int
	FailureReason  string
	CompletedAt    time.Time
}

// ScheduledFilter narrows ListScheduled results. Zero values match all.
type ScheduledFilter struct {
	Status    Status
	JourneyID string
	Limit     int
}
