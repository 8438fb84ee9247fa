package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/storage"
	bolt "go.etcd.io/bbolt"
)

var _ storage.Store = (*Store)(nil)

var (
	bucketUsers       = []byte("users")
	bucketScheduled   = []byte("scheduled_notifications")
	bucketJourneys    = []byte("journeys")
	bucketDeliveryLog = []byte("delivery_logs")
)

// Store is a BoltDB-backed Store implementation. Every collection is a bucket
// of JSON documents keyed by id.
type Store struct {
	db *bolt.DB
}

// New initialises the Bolt store.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketScheduled, bucketJourneys, bucketDeliveryLog} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes underlying Bolt DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertUser stores or updates a user profile.
func (s *Store) UpsertUser(ctx context.Context, user *model.UserProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user id is required")
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketUsers), user.ID, user)
	})
}

// GetUser fetches one profile by id.
func (s *Store) GetUser(ctx context.Context, id string) (*model.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var user model.UserProfile
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketUsers), id, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns all profiles, optionally filtered by role.
func (s *Store) ListUsers(ctx context.Context, role string) ([]*model.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var users []*model.UserProfile
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
			var user model.UserProfile
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			if role != "" && !strings.EqualFold(user.Role, role) {
				return nil
			}
			users = append(users, &user)
			return nil
		})
	})
	return users, err
}

// GetUsersByIDs returns the existing profiles among ids.
func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) ([]*model.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) > storage.MaxBatchIDs {
		return nil, fmt.Errorf("%w: %d ids (max %d)", storage.ErrBatchTooLarge, len(ids), storage.MaxBatchIDs)
	}
	var users []*model.UserProfile
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketUsers)
		for _, id := range ids {
			var user model.UserProfile
			if err := getJSON(bkt, id, &user); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			users = append(users, &user)
		}
		return nil
	})
	return users, err
}

// InsertScheduled stores a new scheduled notification. Journey records are
// rejected when their journey is inactive.
func (s *Store) InsertScheduled(ctx context.Context, n *model.ScheduledNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if n.IsJourney() {
			active, err := journeyActive(tx, n.JourneyID)
			if err != nil {
				return err
			}
			if !active {
				return storage.ErrJourneyInactive
			}
		}
		return insertScheduled(tx, n, time.Now().UTC())
	})
}

// GetScheduled fetches one scheduled notification.
func (s *Store) GetScheduled(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var n model.ScheduledNotification
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketScheduled), id, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListScheduled returns records matching filter, newest schedule first.
func (s *Store) ListScheduled(ctx context.Context, filter model.ScheduledFilter) ([]*model.ScheduledNotification, error) {
	list, err := s.scanScheduled(ctx, func(n *model.ScheduledNotification) bool {
		if filter.Status != "" && n.Status != filter.Status {
			return false
		}
		return filter.JourneyID == "" || n.JourneyID == filter.JourneyID
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ScheduledAt.After(list[j].ScheduledAt)
	})
	if filter.Limit > 0 && len(list) > filter.Limit {
		list = list[:filter.Limit]
	}
	return list, nil
}

// ListDue returns pending records that are due, oldest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledNotification, error) {
	list, err := s.scanScheduled(ctx, func(n *model.ScheduledNotification) bool {
		return n.Status == model.StatusPending && !n.ScheduledAt.After(now)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ScheduledAt.Before(list[j].ScheduledAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ListStale returns processing records claimed before the cutoff.
func (s *Store) ListStale(ctx context.Context, claimedBefore time.Time) ([]*model.ScheduledNotification, error) {
	return s.scanScheduled(ctx, func(n *model.ScheduledNotification) bool {
		return n.Status == model.StatusProcessing && n.ClaimedAt != nil && n.ClaimedAt.Before(claimedBefore)
	})
}

// ClaimScheduled moves a pending record to processing.
func (s *Store) ClaimScheduled(ctx context.Context, id string, now time.Time) (*model.ScheduledNotification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var claimed model.ScheduledNotification
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketScheduled)
		if err := getJSON(bkt, id, &claimed); err != nil {
			return err
		}
		if claimed.Status != model.StatusPending {
			return fmt.Errorf("%w: %s is %s", storage.ErrNotPending, id, claimed.Status)
		}
		at := now.UTC()
		claimed.Status = model.StatusProcessing
		claimed.ClaimedAt = &at
		claimed.UpdatedAt = at
		return putJSON(bkt, id, &claimed)
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// CompleteScheduled applies the terminal write and the optional successor.
func (s *Store) CompleteScheduled(ctx context.Context, id string, c model.Completion, successor *model.ScheduledNotification) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !c.Status.Terminal() {
		return false, fmt.Errorf("completion status %q is not terminal", c.Status)
	}
	stored := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketScheduled)
		var n model.ScheduledNotification
		if err := getJSON(bkt, id, &n); err != nil {
			return err
		}
		if n.Status != model.StatusProcessing {
			return fmt.Errorf("%w: %s is %s", storage.ErrNotClaimed, id, n.Status)
		}
		now := time.Now().UTC()
		if successor != nil {
			active, err := journeyActive(tx, successor.JourneyID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			if active {
				if err := insertScheduled(tx, successor, now); err != nil {
					return err
				}
				stored = true
			}
		}
		completedAt := c.CompletedAt.UTC()
		if c.CompletedAt.IsZero() {
			completedAt = now
		}
		n.Status = c.Status
		n.RecipientCount = c.RecipientCount
		n.SuccessCount = c.SuccessCount
		n.FailureCount = c.FailureCount
		n.FailureReason = c.FailureReason
		n.CompletedAt = &completedAt
		n.UpdatedAt = now
		return putJSON(bkt, id, &n)
	})
	if err != nil {
		return false, err
	}
	return stored, nil
}

// CancelScheduled moves a pending record to cancelled.
func (s *Store) CancelScheduled(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var n model.ScheduledNotification
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketScheduled)
		if err := getJSON(bkt, id, &n); err != nil {
			return err
		}
		if n.Status != model.StatusPending {
			return fmt.Errorf("%w: %s is %s", storage.ErrNotPending, id, n.Status)
		}
		n.Status = model.StatusCancelled
		n.UpdatedAt = time.Now().UTC()
		return putJSON(bkt, id, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// UpsertJourney stores or updates a journey definition.
func (s *Store) UpsertJourney(ctx context.Context, j *model.Journey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketJourneys), j.ID, j)
	})
}

// GetJourney fetches one journey.
func (s *Store) GetJourney(ctx context.Context, id string) (*model.Journey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var j model.Journey
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketJourneys), id, &j)
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJourneys returns all journeys ordered by name.
func (s *Store) ListJourneys(ctx context.Context) ([]*model.Journey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var journeys []*model.Journey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJourneys).ForEach(func(_, v []byte) error {
			var j model.Journey
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			journeys = append(journeys, &j)
			return nil
		})
	})
	sort.Slice(journeys, func(i, k int) bool {
		return journeys[i].Name < journeys[k].Name
	})
	return journeys, err
}

// DeactivateJourney flips the journey off and cancels its pending records.
func (s *Store) DeactivateJourney(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cancelled := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		journeys := tx.Bucket(bucketJourneys)
		var j model.Journey
		if err := getJSON(journeys, id, &j); err != nil {
			return err
		}
		now := time.Now().UTC()
		j.Active = false
		j.UpdatedAt = now
		if err := putJSON(journeys, id, &j); err != nil {
			return err
		}

		// bbolt forbids writes during ForEach, so collect first.
		bkt := tx.Bucket(bucketScheduled)
		var pending []*model.ScheduledNotification
		if err := bkt.ForEach(func(_, v []byte) error {
			var n model.ScheduledNotification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.JourneyID == id && n.Status == model.StatusPending {
				pending = append(pending, &n)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, n := range pending {
			n.Status = model.StatusCancelled
			n.FailureReason = model.ReasonJourneyInactive
			n.UpdatedAt = now
			if err := putJSON(bkt, n.ID, n); err != nil {
				return err
			}
		}
		cancelled = len(pending)
		return nil
	})
	return cancelled, err
}

// AppendDeliveryLog stores a per-recipient delivery log entry.
func (s *Store) AppendDeliveryLog(ctx context.Context, log *model.DeliveryLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDeliveryLog)
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		log.ID = id
		payload, err := json.Marshal(log)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		return bkt.Put(key, payload)
	})
}

// ListDeliveryLogs returns all delivery logs in insertion order.
func (s *Store) ListDeliveryLogs(ctx context.Context) ([]*model.DeliveryLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var logs []*model.DeliveryLog
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveryLog).ForEach(func(_, v []byte) error {
			var log model.DeliveryLog
			if err := json.Unmarshal(v, &log); err != nil {
				return err
			}
			logs = append(logs, &log)
			return nil
		})
	})
	return logs, err
}

func (s *Store) scanScheduled(ctx context.Context, filter func(*model.ScheduledNotification) bool) ([]*model.ScheduledNotification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var list []*model.ScheduledNotification
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketScheduled).ForEach(func(_, v []byte) error {
			var n model.ScheduledNotification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if filter(&n) {
				list = append(list, &n)
			}
			return nil
		})
	})
	return list, err
}

func insertScheduled(tx *bolt.Tx, n *model.ScheduledNotification, now time.Time) error {
	bkt := tx.Bucket(bucketScheduled)
	if n.ID == "" {
		n.ID = uuid.NewString()
	} else if bkt.Get([]byte(n.ID)) != nil {
		return fmt.Errorf("scheduled notification %s already exists", n.ID)
	}
	if n.Status == "" {
		n.Status = model.StatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	return putJSON(bkt, n.ID, n)
}

func journeyActive(tx *bolt.Tx, id string) (bool, error) {
	var j model.Journey
	if err := getJSON(tx.Bucket(bucketJourneys), id, &j); err != nil {
		return false, err
	}
	return j.Active, nil
}

func getJSON(bkt *bolt.Bucket, key string, v any) error {
	raw := bkt.Get([]byte(key))
	if raw == nil {
		return storage.ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func putJSON(bkt *bolt.Bucket, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bkt.Put([]byte(key), payload)
}
