package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ibrahimkeyboad/cardpay/internal/core/notifications"
)

// Event is the envelope delivered to the webhook receiver.
type Event struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type job struct {
	event    Event
	attempts int
}

type sendFunc func(ctx context.Context, url string, payload interface{}, secret string) error

// WebhookWorker delivers events in the background with retries. Publish never
// blocks: when the queue is full the event is dropped and logged.
type WebhookWorker struct {
	url         string
	secret      string
	jobs        chan job
	maxAttempts int
	backoff     func(attempts int) time.Duration
	send        sendFunc
	logger      *slog.Logger
	wg          sync.WaitGroup
}

func NewWebhookWorker(url, secret string, queueSize int, logger *slog.Logger) *WebhookWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if secret == "" {
		logger.Warn("⚠️ WEBHOOK_SECRET is missing, webhooks are signed with an empty key")
	}
	return &WebhookWorker{
		url:         url,
		secret:      secret,
		jobs:        make(chan job, queueSize),
		maxAttempts: 5,
		backoff: func(attempts int) time.Duration {
			return time.Duration(attempts*10+10) * time.Second
		},
		send:   notifications.SendWebhook,
		logger: logger,
	}
}

// Publish queues an event for delivery and reports whether it was accepted.
func (w *WebhookWorker) Publish(event string, data any) bool {
	j := job{event: Event{Event: event, Data: data, Timestamp: time.Now().UTC()}}
	select {
	case w.jobs <- j:
		return true
	default:
		w.logger.Warn("Webhook queue full, dropping event", "event", event)
		return false
	}
}

// Start runs the delivery loop until ctx is cancelled.
func (w *WebhookWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.logger.Info("👷 Webhook Worker started", "url", w.url)
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-w.jobs:
				w.process(ctx, j)
			}
		}
	}()
}

// Wait blocks until the worker and its pending retries have stopped.
func (w *WebhookWorker) Wait() {
	w.wg.Wait()
}

func (w *WebhookWorker) process(ctx context.Context, j job) {
	j.attempts++
	err := w.send(ctx, w.url, j.event, w.secret)
	if err == nil {
		w.logger.Info("✅ Webhook sent", "event", j.event.Event, "attempts", j.attempts)
		return
	}

	if j.attempts >= w.maxAttempts {
		w.logger.Error("Webhook failed, max attempts reached", "event", j.event.Event, "error", err)
		return
	}

	delay := w.backoff(j.attempts)
	w.logger.Warn("Webhook failed, scheduling retry", "event", j.event.Event, "error", err, "retry_in", delay)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			select {
			case w.jobs <- j:
			case <-ctx.Done():
			}
		}
	}()
}
