package storage

import (
	"context"
	"time"

	"github.com/labcompare/push-scheduler/internal/model"
)

// MaxBatchIDs caps how many ids a single GetUsersByIDs query accepts.
const MaxBatchIDs = 10

// UserStore reads and seeds user profiles.
type UserStore interface {
	UpsertUser(ctx context.Context, user *model.UserProfile) error
	GetUser(ctx context.Context, id string) (*model.UserProfile, error)
	// ListUsers returns every profile; a non-empty role filters by role.
	ListUsers(ctx context.Context, role string) ([]*model.UserProfile, error)
	// GetUsersByIDs returns the profiles that exist among ids. At most
	// MaxBatchIDs ids are accepted per call.
	GetUsersByIDs(ctx context.Context, ids []string) ([]*model.UserProfile, error)
}

// NotificationStore persists scheduled notifications and their transitions.
type NotificationStore interface {
	InsertScheduled(ctx context.Context, n *model.ScheduledNotification) error
	GetScheduled(ctx context.Context, id string) (*model.ScheduledNotification, error)
	ListScheduled(ctx context.Context, filter model.ScheduledFilter) ([]*model.ScheduledNotification, error)
	// ListDue returns pending records with ScheduledAt <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledNotification, error)
	// ListStale returns processing records claimed before the cutoff.
	ListStale(ctx context.Context, claimedBefore time.Time) ([]*model.ScheduledNotification, error)
	// ClaimScheduled atomically moves a pending record to processing.
	ClaimScheduled(ctx context.Context, id string, now time.Time) (*model.ScheduledNotification, error)
	// CompleteScheduled writes the terminal status of a claimed record and,
	// in the same transaction, inserts successor when it is non-nil and its
	// journey is still active. It reports whether the successor was stored.
	CompleteScheduled(ctx context.Context, id string, c model.Completion, successor *model.ScheduledNotification) (bool, error)
	// CancelScheduled moves a pending record to cancelled.
	CancelScheduled(ctx context.Context, id string) (*model.ScheduledNotification, error)
}

// JourneyStore persists journey definitions.
type JourneyStore interface {
	UpsertJourney(ctx context.Context, j *model.Journey) error
	GetJourney(ctx context.Context, id string) (*model.Journey, error)
	ListJourneys(ctx context.Context) ([]*model.Journey, error)
	// DeactivateJourney flips Active off and cancels every pending record of
	// the journey in one transaction. It returns the number cancelled.
	DeactivateJourney(ctx context.Context, id string) (int, error)
}

// DeliveryLogStore appends and lists per-recipient delivery logs.
type DeliveryLogStore interface {
	AppendDeliveryLog(ctx context.Context, log *model.DeliveryLog) error
	ListDeliveryLogs(ctx context.Context) ([]*model.DeliveryLog, error)
}

// Store abstracts the document store the scheduler runs against.
type Store interface {
	UserStore
	NotificationStore
	JourneyStore
	DeliveryLogStore
	Close() error
}
