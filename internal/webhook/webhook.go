package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/config"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/events"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
)

// ErrQueueFull is returned by Publish when deliveries back up
var ErrQueueFull = errors.New("webhook delivery queue is full")

// Header names sent with every delivery
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderSignature = "X-Webhook-Signature"
)

type delivery struct {
	id       string
	endpoint config.WebhookEndpoint
	event    string
	payload  []byte
	attempt  int
}

// Dispatcher posts domain events to configured HTTP endpoints. Failed
// deliveries are retried with exponential backoff until MaxAttempts.
type Dispatcher struct {
	client      *http.Client
	endpoints   []config.WebhookEndpoint
	maxAttempts int
	retryBase   time.Duration
	queue       chan *delivery
	logger      *logging.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// New creates a dispatcher for cfg. Deliveries start once Run is called.
func New(cfg config.WebhooksConfig, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Dispatcher{
		client:      &http.Client{Timeout: timeout},
		endpoints:   cfg.Endpoints,
		maxAttempts: maxAttempts,
		retryBase:   cfg.RetryBase,
		queue:       make(chan *delivery, size),
		logger:      logger,
	}
}

// Matches reports whether an endpoint subscribes to eventType
func Matches(ep config.WebhookEndpoint, eventType string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, pattern := range ep.Events {
		switch {
		case pattern == "*" || pattern == eventType:
			return true
		case strings.HasSuffix(pattern, ".*") && strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*")):
			return true
		}
	}
	return false
}

// Publish queues event for every subscribed endpoint. It never waits on
// the network.
func (d *Dispatcher) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var dropped int
	for _, ep := range d.endpoints {
		if !Matches(ep, event.Type) {
			continue
		}
		dl := &delivery{
			id:       uuid.New().String(),
			endpoint: ep,
			event:    event.Type,
			payload:  payload,
		}
		if !d.enqueue(dl) {
			dropped++
		}
	}
	if dropped > 0 {
		return ErrQueueFull
	}
	return nil
}

func (d *Dispatcher) enqueue(dl *delivery) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		metrics.RecordWebhookDelivery("dropped")
		return false
	}
	d.pending.Add(1)
	select {
	case d.queue <- dl:
		return true
	default:
		d.pending.Done()
		metrics.RecordWebhookDelivery("dropped")
		return false
	}
}

// Run delivers queued events until ctx is done
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			d.discardQueued()
			return
		case dl := <-d.queue:
			d.attempt(ctx, dl)
		}
	}
}

func (d *Dispatcher) discardQueued() {
	for {
		select {
		case <-d.queue:
			metrics.RecordWebhookDelivery("dropped")
			d.pending.Done()
		default:
			return
		}
	}
}

// Drain waits until every queued delivery has either been delivered or
// given up on. It is meant for tests and orderly shutdown.
func (d *Dispatcher) Drain() {
	d.pending.Wait()
}

func (d *Dispatcher) attempt(ctx context.Context, dl *delivery) {
	dl.attempt++
	log := d.logger.WithFields(map[string]interface{}{
		"delivery_id": dl.id,
		"event_type":  dl.event,
		"url":         dl.endpoint.URL,
		"attempt":     dl.attempt,
	})

	err := d.deliver(ctx, dl)
	if err == nil {
		metrics.RecordWebhookDelivery("delivered")
		log.Debug("Webhook delivered")
		d.pending.Done()
		return
	}

	if dl.attempt >= d.maxAttempts || ctx.Err() != nil {
		metrics.RecordWebhookDelivery("failed")
		log.WithError(err).Warn("Webhook delivery abandoned")
		d.pending.Done()
		return
	}

	delay := d.backoff(dl.attempt)
	metrics.RecordWebhookDelivery("retrying")
	log.WithError(err).WithField("retry_in", delay.String()).Info("Webhook delivery failed, retrying")
	time.AfterFunc(delay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			metrics.RecordWebhookDelivery("dropped")
			d.pending.Done()
			return
		}
		select {
		case d.queue <- dl:
		default:
			metrics.RecordWebhookDelivery("dropped")
			d.pending.Done()
		}
	})
}

// backoff doubles from retryBase per attempt, capped at one hour
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.retryBase
	for i := 1; i < attempt && delay < time.Hour; i++ {
		delay *= 2
	}
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

func (d *Dispatcher) deliver(ctx context.Context, dl *delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dl.endpoint.URL, bytes.NewReader(dl.payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "VideoContent-Webhook/1.0")
	req.Header.Set(HeaderEvent, dl.event)
	req.Header.Set(HeaderDelivery, dl.id)
	if dl.endpoint.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(dl.payload, dl.endpoint.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint responded %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
