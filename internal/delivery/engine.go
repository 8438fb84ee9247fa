// Package delivery fans messages out to push endpoints.
package delivery

import (
	"context"
	"time"

	"github.com/labcompare/push-scheduler/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds one multicast call when none is configured.
const DefaultTimeout = 5 * time.Second

// Multicaster dispatches one message to a batch of endpoints.
type Multicaster interface {
	SendMulticast(ctx context.Context, endpoints []string, msg model.Message) (model.DeliveryResult, error)
}

// Engine wraps a Multicaster with a timeout, throttling and failure accounting.
type Engine struct {
	push    Multicaster
	limiter *rate.Limiter
	timeout time.Duration
	log     *zap.Logger
}

// NewEngine builds an Engine. ratePerSec <= 0 disables throttling.
func NewEngine(push Multicaster, ratePerSec float64, timeout time.Duration, log *zap.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return &Engine{push: push, limiter: limiter, timeout: timeout, log: log.Named("delivery")}
}

// Send makes a single multicast call. Any transport problem marks every
// endpoint as failed; errors never escape.
func (e *Engine) Send(ctx context.Context, endpoints []string, msg model.Message) model.DeliveryResult {
	if len(endpoints) == 0 {
		return model.DeliveryResult{}
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return e.allFailed(endpoints, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.push.SendMulticast(callCtx, endpoints, msg)
	if err != nil {
		return e.allFailed(endpoints, err)
	}
	if res.FailureCount > 0 {
		e.log.Debug("partial multicast failure",
			zap.Int("success", res.SuccessCount),
			zap.Int("failure", res.FailureCount))
	}
	return res
}

func (e *Engine) allFailed(endpoints []string, err error) model.DeliveryResult {
	e.log.Warn("multicast failed", zap.Int("endpoints", len(endpoints)), zap.Error(err))
	out := model.DeliveryResult{
		FailureCount: len(endpoints),
		Responses:    make([]model.EndpointOutcome, len(endpoints)),
	}
	for i, endpoint := range endpoints {
		out.Responses[i] = model.EndpointOutcome{Endpoint: endpoint, Error: err.Error()}
	}
	return out
}
