// Package pushclient talks to the multicast push-delivery API.
package pushclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/sony/gobreaker"
)

// ErrMalformedResponse is returned when the API answers with a body that does
// not line up with the request.
var ErrMalformedResponse = errors.New("malformed multicast response")

const multicastPath = "/v1/messages:multicast"

// Client is a thin wrapper over the push API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New creates a push API client. breaker may be nil.
func New(rawURL, token string, timeout time.Duration, breaker *gobreaker.CircuitBreaker) (*Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("base url must include scheme")
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return &Client{
		baseURL: parsed,
		token:   token,
		http: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
	}, nil
}

// Ping checks the push API health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/ping"), nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed: %s", resp.Status)
	}
	return nil
}

// SendMulticast delivers msg to every token in a single call and returns the
// per-token outcomes in request order.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, msg model.Message) (model.DeliveryResult, error) {
	if c.breaker == nil {
		return c.multicast(ctx, tokens, msg)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.multicast(ctx, tokens, msg)
	})
	if err != nil {
		return model.DeliveryResult{}, err
	}
	return out.(model.DeliveryResult), nil
}

func (c *Client) multicast(ctx context.Context, tokens []string, msg model.Message) (model.DeliveryResult, error) {
	body, err := json.Marshal(newMulticastRequest(tokens, msg))
	if err != nil {
		return model.DeliveryResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(multicastPath), bytes.NewReader(body))
	if err != nil {
		return model.DeliveryResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return model.DeliveryResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.DeliveryResult{}, fmt.Errorf("multicast http status %s", resp.Status)
	}
	var payload MulticastResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return model.DeliveryResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return payload.result(tokens)
}

func (c *Client) resolve(p string) string {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, p)
	return u.String()
}

func (c *Client) decorate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// BaseURL returns the configured API URL without trailing slash.
func (c *Client) BaseURL() string {
	return strings.TrimRight(c.baseURL.String(), "/")
}

// MulticastRequest is the wire body of a multicast call.
type MulticastRequest struct {
	Tokens       []string          `json:"tokens"`
	Notification Notification      `json:"notification"`
	Data         map[string]string `json:"data"`
}

// Notification is the visible part of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	Image string `json:"image,omitempty"`
}

// MulticastResponse is the API verdict for a multicast call.
type MulticastResponse struct {
	SuccessCount int            `json:"successCount"`
	FailureCount int            `json:"failureCount"`
	Responses    []SendResponse `json:"responses"`
}

// SendResponse is the outcome for one token, positionally matched.
type SendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func newMulticastRequest(tokens []string, msg model.Message) MulticastRequest {
	return MulticastRequest{
		Tokens: tokens,
		Notification: Notification{
			Title: msg.Title,
			Body:  msg.Body,
			Icon:  msg.Icon,
			Image: msg.Image,
		},
		Data: map[string]string{
			"url":     msg.URL,
			"actions": msg.ActionsJSON(),
		},
	}
}

// result maps positional responses back onto tokens. Counts are recomputed
// from the outcome list rather than trusted from the body.
func (r MulticastResponse) result(tokens []string) (model.DeliveryResult, error) {
	if len(r.Responses) != len(tokens) {
		return model.DeliveryResult{}, fmt.Errorf("%w: %d responses for %d tokens", ErrMalformedResponse, len(r.Responses), len(tokens))
	}
	out := model.DeliveryResult{Responses: make([]model.EndpointOutcome, len(tokens))}
	for i, resp := range r.Responses {
		out.Responses[i] = model.EndpointOutcome{Endpoint: tokens[i], Success: resp.Success, Error: resp.Error}
		if resp.Success {
			out.SuccessCount++
		} else {
			out.FailureCount++
		}
	}
	return out, nil
}
