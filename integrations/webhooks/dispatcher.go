package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rados-io/saturn-presale/core/events"
)

const (
	HeaderEvent      = "X-Presale-Event"
	HeaderSignature  = "X-Presale-Signature"
	HeaderDeliveryID = "X-Presale-Delivery"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 256
	defaultDrainWait   = 10 * time.Second
)

// Payload is the webhook body for a ledger event.
type Payload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
	DeliveryID string            `json:"deliveryId"`
}

// Dispatcher forwards ledger events to an HTTP endpoint with retry and
// exponential backoff. Bodies are signed with HMAC-SHA256.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	queueSize   int
	drainWait   time.Duration
	nowFn       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	stop   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

type delivery struct {
	id        string
	eventType string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithLogger sets the logger used for dropped and failed deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithQueueSize bounds the number of pending deliveries.
func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// WithDrainTimeout bounds how long Close keeps delivering queued events.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.drainWait = timeout
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		queueSize:   defaultQueueSize,
		drainWait:   defaultDrainWait,
		nowFn:       time.Now,
		ctx:         ctx,
		cancel:      cancel,
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.queue = make(chan delivery, dispatcher.queueSize)
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops accepting events and delivers what is already queued. Once the
// drain timeout elapses pending retries are abandoned and the remaining
// deliveries are dropped with a warning.
func (d *Dispatcher) Close() {
	if d == nil || !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.stop)
	timer := time.AfterFunc(d.drainWait, d.cancel)
	d.wg.Wait()
	timer.Stop()
	d.cancel()
}

// Emit implements events.Emitter. The ledger must never block on delivery, so
// events are dropped with a warning when the queue is full.
func (d *Dispatcher) Emit(evt events.Event) {
	if d == nil {
		return
	}
	payload := events.PayloadOf(evt)
	if payload == nil {
		return
	}
	if err := d.Enqueue(payload.Type, payload.Attributes); err != nil {
		d.logger.Warn("webhook: event dropped",
			slog.String("event", payload.Type),
			slog.String("error", err.Error()))
	}
}

var (
	// ErrQueueFull is returned when the pending delivery queue is saturated.
	ErrQueueFull = errors.New("webhook: queue full")
	ErrClosed    = errors.New("webhook: dispatcher closed")
)

// Enqueue schedules a delivery without blocking.
func (d *Dispatcher) Enqueue(eventType string, attributes map[string]string) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	if d.closed.Load() {
		return ErrClosed
	}
	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	body := Payload{
		Type:       eventType,
		Attributes: attrs,
		EmittedAt:  d.nowFn().UTC(),
		DeliveryID: uuid.NewString(),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	select {
	case d.queue <- delivery{id: body.DeliveryID, eventType: eventType, body: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain delivers queued jobs until the queue is empty or the drain deadline
// cancels the dispatcher context.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.queue:
			if d.ctx.Err() != nil {
				d.logger.Warn("webhook: deliveries dropped at shutdown",
					slog.Int("dropped", 1+len(d.queue)))
				return
			}
			d.process(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := d.ctx, context.CancelFunc(func() {})
		if d.client.Timeout > 0 {
			ctx, cancel = context.WithTimeout(d.ctx, d.client.Timeout)
		}
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("webhook: delivery abandoned",
				slog.String("event", job.eventType),
				slog.String("delivery", job.id),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()))
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			d.logger.Warn("webhook: delivery abandoned at shutdown",
				slog.String("event", job.eventType),
				slog.String("delivery", job.id),
				slog.Int("attempts", attempt))
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, job.eventType)
	req.Header.Set(HeaderDeliveryID, job.id)
	req.Header.Set(HeaderSignature, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}
