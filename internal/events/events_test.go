package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/labcompare/push-scheduler/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func TestCompletedFrom(t *testing.T) {
	done := time.Date(2026, 3, 2, 9, 1, 0, 0, time.UTC)
	n := &model.ScheduledNotification{ID: "n1", JourneyID: "j1"}
	c := model.Completion{Status: model.StatusSent, RecipientCount: 3, SuccessCount: 2, FailureCount: 1, CompletedAt: done}

	ev := CompletedFrom(n, c, &model.ScheduledNotification{ID: "n2"})

	assert.Equal(t, Completed{
		Type:           TypeNotificationCompleted,
		NotificationID: "n1",
		JourneyID:      "j1",
		Status:         model.StatusSent,
		RecipientCount: 3,
		SuccessCount:   2,
		FailureCount:   1,
		SuccessorID:    "n2",
		CompletedAt:    done,
	}, ev)
}

func TestRabbit_PublishCompleted(t *testing.T) {
	ch := new(mockChannel)
	r := &Rabbit{ch: ch, cfg: RabbitConfig{Exchange: "notifications", RoutingKey: TypeNotificationCompleted}}
	ev := Completed{Type: TypeNotificationCompleted, NotificationID: "n1", Status: model.StatusFailed, FailureReason: model.ReasonNoRecipients}

	ch.On("PublishWithContext", mock.Anything, "notifications", TypeNotificationCompleted, false, false,
		mock.MatchedBy(func(msg amqp.Publishing) bool {
			var got Completed
			if err := json.Unmarshal(msg.Body, &got); err != nil {
				return false
			}
			return msg.ContentType == "application/json" &&
				msg.DeliveryMode == amqp.Persistent &&
				msg.MessageId == "n1" &&
				got.FailureReason == model.ReasonNoRecipients
		})).Return(nil).Once()

	require.NoError(t, r.PublishCompleted(context.Background(), ev))
	ch.AssertExpectations(t)
}

func TestRabbit_PublishError(t *testing.T) {
	ch := new(mockChannel)
	r := &Rabbit{ch: ch, cfg: RabbitConfig{Exchange: "notifications", RoutingKey: "k"}}
	ch.On("PublishWithContext", mock.Anything, "notifications", "k", false, false, mock.Anything).
		Return(errors.New("channel closed"))

	err := r.PublishCompleted(context.Background(), Completed{})
	assert.ErrorContains(t, err, "channel closed")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishCompleted(context.Background(), Completed{}))
}
