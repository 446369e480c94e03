package notifications

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Recorder receives delivery outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordNotification(channel string, duration time.Duration, err error)
	RecordNotificationDropped()
}

type Config struct {
	WorkerCount        int
	QueueSize          int
	MaxRetries         int
	RetryBaseBackoffMS int
	// RatePerSecond paces outbound calls across all workers. Zero disables pacing.
	RatePerSecond float64
}

type task struct {
	notifier     Notifier
	notification Notification
}

// Dispatcher fans notifications out to every notifier on a bounded worker pool.
type Dispatcher struct {
	config    Config
	notifiers []Notifier
	recorder  Recorder
	pacer     *rate.Limiter
	queue     chan task
	waitGroup sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(config Config, recorder Recorder, notifiers ...Notifier) *Dispatcher {
	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 128
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}

	return &Dispatcher{
		config:    config,
		notifiers: notifiers,
		recorder:  recorder,
		pacer:     rate.NewLimiter(limit, 1),
		queue:     make(chan task, config.QueueSize),
	}
}

func (dispatcher *Dispatcher) Notifiers() []string {
	names := make([]string, 0, len(dispatcher.notifiers))
	for _, notifier := range dispatcher.notifiers {
		names = append(names, notifier.Name())
	}
	return names
}

func (dispatcher *Dispatcher) Start(ctx context.Context) {
	for range dispatcher.config.WorkerCount {
		dispatcher.waitGroup.Add(1)
		go func() {
			defer dispatcher.waitGroup.Done()
			for item := range dispatcher.queue {
				dispatcher.sendWithRetry(ctx, item)
			}
		}()
	}
}

// Stop stops accepting work and waits for queued deliveries to finish.
func (dispatcher *Dispatcher) Stop() {
	dispatcher.mu.Lock()
	if dispatcher.closed {
		dispatcher.mu.Unlock()
		return
	}
	dispatcher.closed = true
	close(dispatcher.queue)
	dispatcher.mu.Unlock()

	dispatcher.waitGroup.Wait()
}

// Enqueue never blocks. It reports false when any delivery was dropped because
// the dispatcher is stopped or the queue is full.
func (dispatcher *Dispatcher) Enqueue(notification Notification) bool {
	dispatcher.mu.RLock()
	defer dispatcher.mu.RUnlock()

	queuedAll := true
	for _, notifier := range dispatcher.notifiers {
		if dispatcher.closed {
			dispatcher.drop(notifier, notification)
			queuedAll = false
			continue
		}
		select {
		case dispatcher.queue <- task{notifier: notifier, notification: notification}:
		default:
			dispatcher.drop(notifier, notification)
			queuedAll = false
		}
	}
	return queuedAll
}

func (dispatcher *Dispatcher) drop(notifier Notifier, notification Notification) {
	log.Printf("notification dropped channel=%s event=%s lead_id=%d", notifier.Name(), notification.Event, notification.LeadID)
	if dispatcher.recorder != nil {
		dispatcher.recorder.RecordNotificationDropped()
	}
}

func (dispatcher *Dispatcher) sendWithRetry(ctx context.Context, item task) {
	channel := item.notifier.Name()

	for attempt := 0; attempt <= dispatcher.config.MaxRetries; attempt++ {
		if err := dispatcher.pacer.Wait(ctx); err != nil {
			log.Printf("notification abandoned channel=%s lead_id=%d err=%v", channel, item.notification.LeadID, err)
			return
		}

		startTime := time.Now()
		err := item.notifier.Notify(ctx, item.notification)
		if dispatcher.recorder != nil {
			dispatcher.recorder.RecordNotification(channel, time.Since(startTime), err)
		}
		if err == nil {
			return
		}

		if attempt < dispatcher.config.MaxRetries {
			if sleepErr := sleepContext(ctx, backoffDuration(dispatcher.config.RetryBaseBackoffMS, attempt)); sleepErr != nil {
				log.Printf("notification abandoned channel=%s lead_id=%d err=%v", channel, item.notification.LeadID, sleepErr)
				return
			}
			continue
		}
		log.Printf("notification failed channel=%s lead_id=%d attempts=%d err=%v", channel, item.notification.LeadID, attempt+1, err)
	}
}

func backoffDuration(baseMS, attempt int) time.Duration {
	if baseMS < 1 {
		baseMS = 1
	}
	delay := baseMS << attempt
	return time.Duration(delay) * time.Millisecond
}
