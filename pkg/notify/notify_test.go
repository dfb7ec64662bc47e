package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsText(t *testing.T) {
	var got webhookPayload
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewWebhook(WebhookConfig{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}})
	require.NoError(t, err)
	sink.SendAlert(context.Background(), "force close failed for ETH")
	require.NoError(t, sink.Close())

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "force close failed for ETH", got.Text)
	assert.NotEmpty(t, got.At)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewWebhook(WebhookConfig{URL: srv.URL, RetryCount: 2, Timeout: time.Second})
	require.NoError(t, err)
	sink.SendAlert(context.Background(), "x")
	require.NoError(t, sink.Close())
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebhookFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink, err := NewWebhook(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)
	assert.NotPanics(t, func() { sink.SendAlert(context.Background(), "x") })
	assert.NoError(t, sink.Close())
}

func TestWebhookDoesNotBlockCaller(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink, err := NewWebhook(WebhookConfig{URL: srv.URL, RetryCount: 2, Timeout: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	sink.SendAlert(ctx, "exchange unreachable")
	cancel()
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, sink.Close())
	assert.Equal(t, int32(3), hits.Load(), "retries continue after the caller's context ends")
}

func TestMultiCloseWaitsForWebhook(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		hits.Add(1)
	}))
	defer srv.Close()

	hook, err := NewWebhook(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)
	m := Multi{Log{}, hook}
	m.SendAlert(context.Background(), "x")
	require.NoError(t, m.Close())
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewWebhookRequiresURL(t *testing.T) {
	_, err := NewWebhook(WebhookConfig{URL: "  "})
	assert.Error(t, err)
}

func TestMultiFansOut(t *testing.T) {
	a, b := NewRecorder(4), NewRecorder(4)
	Multi{a, nil, Noop{}, Log{}, b}.SendAlert(context.Background(), "hello")
	assert.Equal(t, []string{"hello"}, a.Drain())
	assert.Equal(t, []string{"hello"}, b.Drain())
	assert.Empty(t, a.Drain())
}
