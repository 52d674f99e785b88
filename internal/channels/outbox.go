package channels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/cmdrelay/pkg/models"
)

// SendFunc performs one synchronous delivery.
type SendFunc func(ctx context.Context, channelID, content string) (*models.Message, error)

// OutboxConfig configures an Outbox.
type OutboxConfig struct {
	// Size bounds the queue. Defaults to 100.
	Size int

	// Limiter, when set, paces deliveries.
	Limiter *RateLimiter

	Metrics *Metrics
	Logger  *slog.Logger

	// OnDepth is called with the queue length after every change.
	OnDepth func(depth int)
}

type outboundJob struct {
	channelID string
	content   string
	done      SendCallback
	queued    time.Time
}

// Outbox delivers queued messages one at a time on a single goroutine, in
// the order they were accepted.
type Outbox struct {
	send    SendFunc
	config  OutboxConfig
	logger  *slog.Logger
	queue   chan outboundJob
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewOutbox creates an outbox and starts its worker.
func NewOutbox(send SendFunc, config OutboxConfig) *Outbox {
	if config.Size <= 0 {
		config.Size = 100
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		send:    send,
		config:  config,
		logger:  config.Logger,
		queue:   make(chan outboundJob, config.Size),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go o.run()
	return o
}

// Enqueue accepts a message for delivery. It blocks while the queue is
// full until ctx is done.
func (o *Outbox) Enqueue(ctx context.Context, channelID, content string, done SendCallback) error {
	if channelID == "" {
		return ErrInvalidInput("channel id is required", nil)
	}
	if content == "" {
		return ErrInvalidInput("content is empty", nil)
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrUnavailable("outbox is closed", nil)
	}

	job := outboundJob{channelID: channelID, content: content, done: done, queued: time.Now()}
	select {
	case o.queue <- job:
		o.reportDepth()
		return nil
	default:
	}

	o.logger.Warn("outbound queue full, waiting", "channel_id", channelID, "size", o.config.Size)
	select {
	case o.queue <- job:
		o.reportDepth()
		return nil
	case <-ctx.Done():
		if o.config.Metrics != nil {
			o.config.Metrics.RecordMessageDropped()
			o.config.Metrics.RecordError(ErrCodeQueueFull)
		}
		return ErrQueueFull("outbound queue full", ctx.Err()).WithContext("channel_id", channelID)
	}
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	return len(o.queue)
}

// Close stops accepting messages and waits for the queue to drain. If ctx
// ends first, pending deliveries are failed and ctx.Err() is returned.
func (o *Outbox) Close(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	select {
	case <-o.stopped:
		return nil
	case <-ctx.Done():
		o.cancel()
		<-o.stopped
		return ctx.Err()
	}
}

func (o *Outbox) run() {
	defer close(o.stopped)
	defer o.cancel()

	for job := range o.queue {
		o.reportDepth()
		o.deliver(job)
	}
}

func (o *Outbox) deliver(job outboundJob) {
	if err := o.ctx.Err(); err != nil {
		o.finish(job, nil, ErrUnavailable("outbox stopped before delivery", err))
		return
	}

	if o.config.Limiter != nil {
		if err := o.config.Limiter.Wait(o.ctx); err != nil {
			o.finish(job, nil, ErrTimeout("rate limit wait cancelled", err))
			return
		}
	}

	start := time.Now()
	sent, err := o.send(o.ctx, job.channelID, job.content)
	if err == nil && o.config.Metrics != nil {
		o.config.Metrics.RecordMessageSent(time.Since(start))
	}
	o.finish(job, sent, err)
}

func (o *Outbox) finish(job outboundJob, sent *models.Message, err error) {
	if err != nil {
		if o.config.Metrics != nil {
			o.config.Metrics.RecordMessageFailed()
			o.config.Metrics.RecordError(GetErrorCode(err))
		}
		o.logger.Error("failed to deliver message",
			"channel_id", job.channelID,
			"queued_ms", time.Since(job.queued).Milliseconds(),
			"error", err)
	}
	if job.done != nil {
		job.done(sent, err)
	}
}

func (o *Outbox) reportDepth() {
	if o.config.OnDepth != nil {
		o.config.OnDepth(len(o.queue))
	}
}
