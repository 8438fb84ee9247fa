package delivery

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/labcompare/push-scheduler/internal/audience"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/storage/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type multicastFunc func(ctx context.Context, endpoints []string, msg model.Message) (model.DeliveryResult, error)

func (f multicastFunc) SendMulticast(ctx context.Context, endpoints []string, msg model.Message) (model.DeliveryResult, error) {
	return f(ctx, endpoints, msg)
}

// failing reports failure for any endpoint listed in bad.
func failing(bad ...string) multicastFunc {
	set := map[string]bool{}
	for _, b := range bad {
		set[b] = true
	}
	return func(_ context.Context, endpoints []string, _ model.Message) (model.DeliveryResult, error) {
		var res model.DeliveryResult
		for _, e := range endpoints {
			if set[e] {
				res.FailureCount++
				res.Responses = append(res.Responses, model.EndpointOutcome{Endpoint: e, Error: "unregistered"})
				continue
			}
			res.SuccessCount++
			res.Responses = append(res.Responses, model.EndpointOutcome{Endpoint: e, Success: true})
		}
		return res, nil
	}
}

func TestSend_EmptySkipsAPI(t *testing.T) {
	called := false
	engine := NewEngine(multicastFunc(func(context.Context, []string, model.Message) (model.DeliveryResult, error) {
		called = true
		return model.DeliveryResult{}, nil
	}), 0, time.Second, zaptest.NewLogger(t))

	res := engine.Send(context.Background(), nil, model.Message{Title: "x"})

	assert.False(t, called)
	assert.Equal(t, model.DeliveryResult{}, res)
}

func TestSend_PartialFailure(t *testing.T) {
	engine := NewEngine(failing("b"), 0, time.Second, zaptest.NewLogger(t))

	res := engine.Send(context.Background(), []string{"a", "b", "c"}, model.Message{Title: "x"})

	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
}

func TestSend_TransportErrorFailsEverything(t *testing.T) {
	engine := NewEngine(multicastFunc(func(context.Context, []string, model.Message) (model.DeliveryResult, error) {
		return model.DeliveryResult{}, errors.New("connection refused")
	}), 0, time.Second, zaptest.NewLogger(t))

	res := engine.Send(context.Background(), []string{"a", "b"}, model.Message{})

	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 2, res.FailureCount)
	require.Len(t, res.Responses, 2)
	assert.Equal(t, "connection refused", res.Responses[1].Error)
}

func TestSend_Timeout(t *testing.T) {
	engine := NewEngine(multicastFunc(func(ctx context.Context, _ []string, _ model.Message) (model.DeliveryResult, error) {
		<-ctx.Done()
		return model.DeliveryResult{}, ctx.Err()
	}), 0, 20*time.Millisecond, zaptest.NewLogger(t))

	start := time.Now()
	res := engine.Send(context.Background(), []string{"a"}, model.Message{})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, res.FailureCount)
}

func TestBroadcast_LogsPerRecipient(t *testing.T) {
	store, err := bolt.New(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var mu sync.Mutex
	var calls [][]string
	recorder := multicastFunc(func(ctx context.Context, endpoints []string, msg model.Message) (model.DeliveryResult, error) {
		mu.Lock()
		calls = append(calls, endpoints)
		mu.Unlock()
		return failing("u2-b")(ctx, endpoints, msg)
	})
	b := NewBroadcaster(NewEngine(recorder, 0, time.Second, zaptest.NewLogger(t)), store, 4, zaptest.NewLogger(t))

	aud := audience.Audience{Recipients: []audience.Recipient{
		{UserID: "u1", Endpoints: []string{"u1-a"}},
		{UserID: "u2", Endpoints: []string{"u2-a", "u2-b"}},
		{UserID: "u3", Endpoints: []string{"u3-a"}},
	}}
	summary := b.Broadcast(context.Background(), Ref{NotificationID: "n1", JourneyID: "j1"}, aud, model.Message{Title: "Reminder"})

	assert.Equal(t, Summary{Recipients: 3, Success: 3, Failure: 1}, summary)
	assert.Len(t, calls, 3)

	logs, err := store.ListDeliveryLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 3)
	byUser := map[string]*model.DeliveryLog{}
	for _, l := range logs {
		byUser[l.UserID] = l
		assert.Equal(t, "n1", l.NotificationID)
		assert.Equal(t, "j1", l.JourneyID)
		assert.Equal(t, "Reminder", l.Title)
	}
	assert.Equal(t, model.DeliverySuccess, byUser["u2"].Status)
	assert.Equal(t, 1, byUser["u2"].FailureCount)
	assert.Equal(t, "unregistered", byUser["u2"].Error)
}

func TestBroadcast_AllFailedRecipient(t *testing.T) {
	b := NewBroadcaster(NewEngine(failing("x"), 0, time.Second, zaptest.NewLogger(t)), nil, 1, zaptest.NewLogger(t))

	summary := b.Broadcast(context.Background(), Ref{}, audience.Audience{Recipients: []audience.Recipient{
		{UserID: "u1", Endpoints: []string{"x"}},
	}}, model.Message{})

	assert.Equal(t, Summary{Recipients: 1, Failure: 1}, summary)
}

func TestBroadcast_EmptyAudience(t *testing.T) {
	b := NewBroadcaster(NewEngine(failing(), 0, time.Second, zaptest.NewLogger(t)), nil, 1, zaptest.NewLogger(t))

	assert.Equal(t, Summary{}, b.Broadcast(context.Background(), Ref{}, audience.Audience{}, model.Message{}))
}

func TestSummaryCompletion(t *testing.T) {
	assert.Equal(t, model.ReasonNoRecipients, Summary{}.Completion().FailureReason)

	c := Summary{Recipients: 2, Failure: 3}.Completion()
	assert.Equal(t, model.StatusFailed, c.Status)
	assert.Equal(t, model.ReasonAllFailed, c.FailureReason)

	c = Summary{Recipients: 1, Success: 1, Failure: 4}.Completion()
	assert.Equal(t, model.StatusSent, c.Status)
	assert.Empty(t, c.FailureReason)
	assert.Equal(t, 4, c.FailureCount)
}
