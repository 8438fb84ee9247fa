package pushclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labcompare/push-scheduler/internal/circuitbreaker"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSendMulticast(t *testing.T) {
	var got MulticastRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/push/v1/messages:multicast", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(MulticastResponse{
			SuccessCount: 2,
			FailureCount: 1,
			Responses: []SendResponse{
				{Success: true},
				{Success: false, Error: "unregistered"},
				{Success: true},
			},
		})
	}))
	defer srv.Close()

	client, err := New(srv.URL+"/push/", "secret", time.Second, nil)
	require.NoError(t, err)

	msg := model.Message{Title: "Hi", Body: "Lab results are in", Icon: "i.png", URL: "/results"}
	res, err := client.SendMulticast(context.Background(), []string{"a", "b", "c"}, msg)
	require.NoError(t, err)

	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Equal(t, model.EndpointOutcome{Endpoint: "b", Error: "unregistered"}, res.Responses[1])

	assert.Equal(t, []string{"a", "b", "c"}, got.Tokens)
	assert.Equal(t, "Hi", got.Notification.Title)
	assert.Equal(t, "i.png", got.Notification.Icon)
	assert.Equal(t, "/results", got.Data["url"])
	assert.Equal(t, "[]", got.Data["actions"])
}

func TestSendMulticast_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"successCount":1,"responses":[{"success":true}]}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, "", time.Second, nil)
	require.NoError(t, err)

	_, err = client.SendMulticast(context.Background(), []string{"a", "b"}, model.Message{Title: "x"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSendMulticast_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cb := circuitbreaker.New("push", circuitbreaker.Settings{MinRequests: 2, FailureRatio: 0.5, Timeout: time.Hour}, zaptest.NewLogger(t))
	client, err := New(srv.URL, "", time.Second, cb)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = client.SendMulticast(context.Background(), []string{"a"}, model.Message{})
		assert.Error(t, err)
	}
	_, err = client.SendMulticast(context.Background(), []string{"a"}, model.Message{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, "", time.Second, nil)
	require.NoError(t, err)
	assert.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, srv.URL, client.BaseURL())
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", "", time.Second, nil)
	assert.Error(t, err)
	_, err = New("push.example.com", "", time.Second, nil)
	assert.Error(t, err)
}
