package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"
)

const retryMaxWait = 5 * time.Second

// WebhookConfig configures a JSON webhook sink.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	RetryCount int
	Headers    map[string]string
}

// Webhook posts {"text": ...} to a chat or paging webhook. Delivery runs in
// the background; Close waits for deliveries in flight.
type Webhook struct {
	url      string
	client   *resty.Client
	deadline time.Duration
	inflight sync.WaitGroup
}

type webhookPayload struct {
	Text string `json:"text"`
	At   string `json:"at"`
}

// NewWebhook builds a webhook sink. An empty URL is rejected.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("notify: webhook url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.RetryCount
	if retries < 0 {
		retries = 0
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(retryMaxWait).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() == 429 || resp.StatusCode() >= 500
		})
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	return &Webhook{
		url:      url,
		client:   client,
		deadline: time.Duration(retries+1)*timeout + time.Duration(retries)*retryMaxWait,
	}, nil
}

// SendAlert returns immediately. The post outlives ctx cancellation but is
// bounded by the timeout of every attempt plus retry waits.
func (w *Webhook) SendAlert(ctx context.Context, text string) {
	at := time.Now().UTC()
	detached := context.WithoutCancel(ctx)
	w.inflight.Add(1)
	threading.GoSafe(func() {
		defer w.inflight.Done()
		postCtx, cancel := context.WithTimeout(detached, w.deadline)
		defer cancel()
		w.post(postCtx, text, at)
	})
}

// Close waits for pending deliveries.
func (w *Webhook) Close() error {
	w.inflight.Wait()
	return nil
}

func (w *Webhook) post(ctx context.Context, text string, at time.Time) {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{Text: text, At: at.Format(time.RFC3339)}).
		Post(w.url)
	if err != nil {
		logx.WithContext(ctx).Errorf("notify: webhook post: %v", err)
		return
	}
	if resp.IsError() {
		logx.WithContext(ctx).Errorf("notify: webhook status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
}
