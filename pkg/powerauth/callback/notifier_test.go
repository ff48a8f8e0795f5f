package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

type staticURLs struct {
	urls []*model.CallbackURL
}

func (s *staticURLs) ListCallbackURLs(ctx context.Context, applicationID uint) ([]*model.CallbackURL, error) {
	return s.urls, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNotifierDelivers(t *testing.T) {
	var received atomic.Int32
	var lastBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		lastBody.Store(string(buf))
		received.Add(1)
	}))
	defer server.Close()

	notifier := NewHTTPNotifier(&staticURLs{urls: []*model.CallbackURL{
		{ID: "cb-1", ApplicationID: 1, Name: "test", CallbackURL: server.URL},
	}}, Config{})
	notifier.Start(context.Background())
	defer notifier.Close()

	notifier.Notify(1, "act-1")

	waitFor(t, func() bool { return received.Load() == 1 })
	assert.Contains(t, lastBody.Load().(string), "act-1")
}

func TestNotifierRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer server.Close()

	notifier := NewHTTPNotifier(&staticURLs{urls: []*model.CallbackURL{
		{ID: "cb-1", ApplicationID: 1, Name: "flaky", CallbackURL: server.URL},
	}}, Config{MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond})
	notifier.Start(context.Background())
	defer notifier.Close()

	notifier.Notify(1, "act-2")

	waitFor(t, func() bool { return calls.Load() == 3 })
}

func TestNotifierFansOut(t *testing.T) {
	var received atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	})
	first := httptest.NewServer(handler)
	defer first.Close()
	second := httptest.NewServer(handler)
	defer second.Close()

	notifier := NewHTTPNotifier(&staticURLs{urls: []*model.CallbackURL{
		{ID: "cb-1", ApplicationID: 1, Name: "a", CallbackURL: first.URL},
		{ID: "cb-2", ApplicationID: 1, Name: "b", CallbackURL: second.URL},
	}}, Config{})
	notifier.Start(context.Background())
	defer notifier.Close()

	notifier.Notify(1, "act-3")

	waitFor(t, func() bool { return received.Load() == 2 })
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	require.NotZero(t, cfg.QueueSize)
	require.NotZero(t, cfg.MaxAttempts)
	require.NotZero(t, cfg.RetryBackoff)
	require.NotZero(t, cfg.RequestTimeout)
}
