package delivery

import (
	"context"
	"strings"
	"sync"

	"github.com/labcompare/push-scheduler/internal/audience"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/storage"
	"go.uber.org/zap"
)

// Ref ties delivery logs back to the notification being sent.
type Ref struct {
	NotificationID string
	JourneyID      string
}

// Summary aggregates a broadcast.
type Summary struct {
	Recipients int `json:"recipients"`
	Success    int `json:"success"`
	Failure    int `json:"failure"`
}

// Completion maps the counts onto a terminal status. Any successful endpoint
// makes the send count as delivered.
func (s Summary) Completion() model.Completion {
	c := model.Completion{
		Status:         model.StatusSent,
		RecipientCount: s.Recipients,
		SuccessCount:   s.Success,
		FailureCount:   s.Failure,
	}
	switch {
	case s.Recipients == 0:
		c.Status = model.StatusFailed
		c.FailureReason = model.ReasonNoRecipients
	case s.Success == 0:
		c.Status = model.StatusFailed
		c.FailureReason = model.ReasonAllFailed
	}
	return c
}

// Broadcaster sends once per recipient user and records a delivery log for
// each of them.
type Broadcaster struct {
	engine      *Engine
	logs        storage.DeliveryLogStore
	concurrency int
	log         *zap.Logger
}

// NewBroadcaster builds a Broadcaster. concurrency caps in-flight sends; values
// below one mean sequential.
func NewBroadcaster(engine *Engine, logs storage.DeliveryLogStore, concurrency int, log *zap.Logger) *Broadcaster {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{engine: engine, logs: logs, concurrency: concurrency, log: log.Named("broadcast")}
}

// Broadcast delivers msg to every recipient in aud.
func (b *Broadcaster) Broadcast(ctx context.Context, ref Ref, aud audience.Audience, msg model.Message) Summary {
	var (
		summary = Summary{Recipients: len(aud.Recipients)}
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, b.concurrency)
	)
	for _, recipient := range aud.Recipients {
		recipient := recipient
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res := b.engine.Send(ctx, recipient.Endpoints, msg)
			b.appendLog(ctx, ref, recipient, msg, res)
			mu.Lock()
			summary.Success += res.SuccessCount
			summary.Failure += res.FailureCount
			mu.Unlock()
		}()
	}
	wg.Wait()
	return summary
}

func (b *Broadcaster) appendLog(ctx context.Context, ref Ref, recipient audience.Recipient, msg model.Message, res model.DeliveryResult) {
	if b.logs == nil {
		return
	}
	entry := &model.DeliveryLog{
		NotificationID: ref.NotificationID,
		JourneyID:      ref.JourneyID,
		UserID:         recipient.UserID,
		Title:          msg.Title,
		Status:         model.DeliveryFailed,
		SuccessCount:   res.SuccessCount,
		FailureCount:   res.FailureCount,
		Error:          firstErrors(res),
	}
	if res.SuccessCount > 0 {
		entry.Status = model.DeliverySuccess
	}
	if err := b.logs.AppendDeliveryLog(ctx, entry); err != nil {
		b.log.Warn("append delivery log failed", zap.String("userId", recipient.UserID), zap.Error(err))
	}
}

// firstErrors joins the distinct endpoint errors, keeping the log entry short.
func firstErrors(res model.DeliveryResult) string {
	const limit = 3
	seen := map[string]bool{}
	var out []string
	for _, r := range res.Responses {
		if r.Success || r.Error == "" || seen[r.Error] {
			continue
		}
		seen[r.Error] = true
		out = append(out, r.Error)
		if len(out) == limit {
			break
		}
	}
	return strings.Join(out, "; ")
}
