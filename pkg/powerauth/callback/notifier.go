// Package callback delivers activation status change notifications to the
// callback URLs registered for an application. Delivery is asynchronous and
// at-least-once: failures are retried with backoff and never surface to the
// request that triggered the transition.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/trustd/internal/logger"
	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// Sink receives activation status change events. The service layer calls
// Notify after the history entry for the transition is durable.
type Sink interface {
	Notify(applicationID uint, activationID string)
}

// NopSink discards all notifications. Used when no callback delivery is
// configured and in tests.
type NopSink struct{}

// Notify implements Sink.
func (NopSink) Notify(uint, string) {}

// URLSource lists the callback targets of an application. Implemented by the
// store.
type URLSource interface {
	ListCallbackURLs(ctx context.Context, applicationID uint) ([]*model.CallbackURL, error)
}

// Config tunes the HTTP notifier.
type Config struct {
	// QueueSize bounds the number of undelivered events.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
	// MaxAttempts is the per-callback delivery retry budget.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// RetryBackoff is the base delay between attempts, doubled per retry.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	// RequestTimeout bounds a single delivery attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

type event struct {
	applicationID uint
	activationID  string
}

// HTTPNotifier posts JSON notifications to every registered callback URL of
// the application from a background worker.
type HTTPNotifier struct {
	urls   URLSource
	client *http.Client
	config Config

	queue  chan event
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// NewHTTPNotifier creates a notifier reading callback URLs from the given
// source.
func NewHTTPNotifier(urls URLSource, config Config) *HTTPNotifier {
	config.ApplyDefaults()
	return &HTTPNotifier{
		urls:   urls,
		client: &http.Client{Timeout: config.RequestTimeout},
		config: config,
		queue:  make(chan event, config.QueueSize),
	}
}

// Start launches the delivery worker. The worker stops when ctx is cancelled
// or Close is called.
func (n *HTTPNotifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-n.queue:
				if !ok {
					return
				}
				n.deliver(ctx, ev)
			}
		}
	}()
}

// Close stops accepting events, drains the queue and waits for the worker.
func (n *HTTPNotifier) Close() {
	n.once.Do(func() { close(n.queue) })
	n.wg.Wait()
	if n.cancel != nil {
		n.cancel()
	}
}

// Notify implements Sink. When the queue is full the event is dropped with a
// log entry rather than blocking the request path.
func (n *HTTPNotifier) Notify(applicationID uint, activationID string) {
	select {
	case n.queue <- event{applicationID: applicationID, activationID: activationID}:
	default:
		logger.Error("callback queue full, dropping notification",
			"applicationId", applicationID, "activationId", activationID)
	}
}

type notification struct {
	ActivationID string `json:"activationId"`
}

func (n *HTTPNotifier) deliver(ctx context.Context, ev event) {
	callbacks, err := n.urls.ListCallbackURLs(ctx, ev.applicationID)
	if err != nil {
		logger.Error("failed to list callback URLs",
			"applicationId", ev.applicationID, "error", err)
		return
	}

	body, err := json.Marshal(notification{ActivationID: ev.activationID})
	if err != nil {
		return
	}

	for _, cb := range callbacks {
		n.post(ctx, cb, body)
	}
}

func (n *HTTPNotifier) post(ctx context.Context, cb *model.CallbackURL, body []byte) {
	backoff := n.config.RetryBackoff
	for attempt := 1; attempt <= n.config.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cb.CallbackURL, bytes.NewReader(body))
		if err != nil {
			logger.Error("invalid callback URL", "url", cb.CallbackURL, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				return
			}
			err = &statusError{code: resp.StatusCode}
		}

		logger.Warn("callback delivery failed",
			"url", cb.CallbackURL, "attempt", attempt, "error", err)

		if attempt == n.config.MaxAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}
