package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/labcompare/push-scheduler/internal/audience"
	"github.com/labcompare/push-scheduler/internal/claim"
	"github.com/labcompare/push-scheduler/internal/delivery"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/storage"
	"github.com/labcompare/push-scheduler/internal/storage/bolt"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type okPush struct {
	calls int
}

func (p *okPush) SendMulticast(_ context.Context, endpoints []string, _ model.Message) (model.DeliveryResult, error) {
	p.calls++
	res := model.DeliveryResult{SuccessCount: len(endpoints)}
	for _, e := range endpoints {
		res.Responses = append(res.Responses, model.EndpointOutcome{Endpoint: e, Success: true})
	}
	return res, nil
}

func newStore(t *testing.T) *bolt.Store {
	t.Helper()
	store, err := bolt.New(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newNotificationService(t *testing.T, store storage.Store) (*NotificationService, *okPush) {
	t.Helper()
	log := zaptest.NewLogger(t)
	push := &okPush{}
	engine := delivery.NewEngine(push, 0, time.Second, log)
	svc := NewNotificationService(store,
		audience.NewResolver(store, log),
		delivery.NewBroadcaster(engine, store, 1, log),
		claim.NewMemory(), log)
	return svc, push
}

func seedUser(t *testing.T, store storage.UserStore, id, role string, tokens ...string) {
	t.Helper()
	require.NoError(t, store.UpsertUser(context.Background(), &model.UserProfile{ID: id, Role: role, PushTokens: tokens}))
}
