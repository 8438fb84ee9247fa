// Package events publishes notification outcomes to interested consumers.
package events

import (
	"context"
	"time"

	"github.com/labcompare/push-scheduler/internal/model"
)

// TypeNotificationCompleted is emitted once a record reaches a terminal status.
const TypeNotificationCompleted = "notification.completed"

// Completed describes a finished scheduled notification.
type Completed struct {
	Type           string       `json:"type"`
	NotificationID string       `json:"notificationId"`
	JourneyID      string       `json:"journeyId,omitempty"`
	Status         model.Status `json:"status"`
	RecipientCount int          `json:"recipientCount"`
	SuccessCount   int          `json:"successCount"`
	FailureCount   int          `json:"failureCount"`
	FailureReason  string       `json:"failureReason,omitempty"`
	SuccessorID    string       `json:"successorId,omitempty"`
	CompletedAt    time.Time    `json:"completedAt"`
}

// CompletedFrom builds the event for a record and its completion.
func CompletedFrom(n *model.ScheduledNotification, c model.Completion, successor *model.ScheduledNotification) Completed {
	ev := Completed{
		Type:           TypeNotificationCompleted,
		NotificationID: n.ID,
		JourneyID:      n.JourneyID,
		Status:         c.Status,
		RecipientCount: c.RecipientCount,
		SuccessCount:   c.SuccessCount,
		FailureCount:   c.FailureCount,
		FailureReason:  c.FailureReason,
		CompletedAt:    c.CompletedAt,
	}
	if successor != nil {
		ev.SuccessorID = successor.ID
	}
	return ev
}

// Publisher delivers outcome events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishCompleted(ctx context.Context, ev Completed) error
}

// Nop drops every event.
type Nop struct{}

// PublishCompleted implements Publisher.
func (Nop) PublishCompleted(context.Context, Completed) error { return nil }
