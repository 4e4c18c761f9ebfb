// Package notify delivers rendered reports to a human-facing channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sink accepts one message.
type Sink interface {
	Send(ctx context.Context, title, body string) error
}

// Message is the JSON body posted to the webhook.
type Message struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Webhook posts messages as JSON to a fixed URL, paced by a rate limiter.
type Webhook struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewWebhook builds a Webhook. perSecond <= 0 disables pacing.
func NewWebhook(url string, timeout time.Duration, perSecond float64) *Webhook {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Send posts one message. Any status other than 2xx is an error.
func (w *Webhook) Send(ctx context.Context, title, body string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: rate limiter: %w", err)
	}

	payload, err := json.Marshal(Message{Title: title, Content: body})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("notify webhook error %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// LogSink writes messages to the log. It stands in when no webhook is configured.
type LogSink struct {
	l *zap.SugaredLogger
}

// NewLogSink builds a LogSink.
func NewLogSink(l *zap.SugaredLogger) *LogSink {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &LogSink{l: l}
}

// Send logs the message at info level.
func (s *LogSink) Send(_ context.Context, title, body string) error {
	s.l.Infof("notify: %s\n%s", title, body)
	return nil
}

// Deliver sends every chunk under the same title, in order. It stops at the
// first failure and reports how many chunks went out.
func Deliver(ctx context.Context, sink Sink, title string, chunks []string) (int, error) {
	for i, chunk := range chunks {
		if err := sink.Send(ctx, title, chunk); err != nil {
			return i, fmt.Errorf("deliver chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return len(chunks), nil
}
