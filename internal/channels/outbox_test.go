package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/cmdrelay/pkg/models"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	err   error
	block chan struct{}
}

func (s *fakeSender) Send(ctx context.Context, channelID, content string) (*models.Message, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	s.sent = append(s.sent, content)
	s.mu.Unlock()
	return &models.Message{ChannelID: channelID, Content: content, Direction: models.DirectionOutbound}, nil
}

func (s *fakeSender) contents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func TestOutbox_DeliversInOrder(t *testing.T) {
	sender := &fakeSender{}
	metrics := NewMetrics(models.ChannelTest)
	o := NewOutbox(sender.Send, OutboxConfig{Metrics: metrics})

	for _, c := range []string{"one", "two", "three"} {
		if err := o.Enqueue(context.Background(), "c-1", c, nil); err != nil {
			t.Fatalf("Enqueue(%s): %v", c, err)
		}
	}
	if err := o.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := sender.contents()
	if len(got) != 3 || got[0] != "one" || got[1] != "two" || got[2] != "three" {
		t.Errorf("sent = %v", got)
	}
	if metrics.Snapshot().MessagesSent != 3 {
		t.Errorf("MessagesSent = %d", metrics.Snapshot().MessagesSent)
	}
}

func TestOutbox_Callback(t *testing.T) {
	sender := &fakeSender{}
	o := NewOutbox(sender.Send, OutboxConfig{})
	defer o.Close(context.Background())

	done := make(chan *models.Message, 1)
	err := o.Enqueue(context.Background(), "c-1", "hi", func(sent *models.Message, err error) {
		if err != nil {
			t.Errorf("callback error: %v", err)
		}
		done <- sent
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case sent := <-done:
		if sent.Content != "hi" || sent.ChannelID != "c-1" {
			t.Errorf("sent = %+v", sent)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not called")
	}
}

func TestOutbox_SendErrorReachesCallback(t *testing.T) {
	boom := ErrRateLimit("slow down", nil)
	sender := &fakeSender{err: boom}
	metrics := NewMetrics(models.ChannelTest)
	o := NewOutbox(sender.Send, OutboxConfig{Metrics: metrics})

	errs := make(chan error, 1)
	_ = o.Enqueue(context.Background(), "c", "x", func(sent *models.Message, err error) { errs <- err })
	_ = o.Close(context.Background())

	if err := <-errs; !errors.Is(err, boom) {
		t.Errorf("callback error = %v, want %v", err, boom)
	}
	snap := metrics.Snapshot()
	if snap.MessagesFailed != 1 || snap.ErrorsByCode[ErrCodeRateLimit] != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestOutbox_RejectsInvalid(t *testing.T) {
	o := NewOutbox((&fakeSender{}).Send, OutboxConfig{})
	defer o.Close(context.Background())

	if err := o.Enqueue(context.Background(), "", "x", nil); GetErrorCode(err) != ErrCodeInvalidInput {
		t.Errorf("missing channel: %v", err)
	}
	if err := o.Enqueue(context.Background(), "c", "", nil); GetErrorCode(err) != ErrCodeInvalidInput {
		t.Errorf("empty content: %v", err)
	}
}

func TestOutbox_EnqueueAfterClose(t *testing.T) {
	o := NewOutbox((&fakeSender{}).Send, OutboxConfig{})
	_ = o.Close(context.Background())

	if err := o.Enqueue(context.Background(), "c", "x", nil); GetErrorCode(err) != ErrCodeUnavailable {
		t.Errorf("Enqueue after Close = %v", err)
	}
	if err := o.Close(context.Background()); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestOutbox_FullQueueHonorsContext(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	metrics := NewMetrics(models.ChannelTest)
	o := NewOutbox(sender.Send, OutboxConfig{Size: 1, Metrics: metrics})

	// The worker holds the first job, the second fills the queue.
	_ = o.Enqueue(context.Background(), "c", "1", nil)
	time.Sleep(10 * time.Millisecond)
	_ = o.Enqueue(context.Background(), "c", "2", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := o.Enqueue(ctx, "c", "3", nil)
	if GetErrorCode(err) != ErrCodeQueueFull {
		t.Errorf("Enqueue on full queue = %v, want queue full", err)
	}
	if metrics.Snapshot().MessagesDropped != 1 {
		t.Errorf("MessagesDropped = %d, want 1", metrics.Snapshot().MessagesDropped)
	}

	close(sender.block)
	_ = o.Close(context.Background())
	if got := sender.contents(); len(got) != 2 {
		t.Errorf("sent = %v, want 2 messages", got)
	}
}

func TestOutbox_CloseTimeoutFailsPending(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	o := NewOutbox(sender.Send, OutboxConfig{})

	var mu sync.Mutex
	var errs []error
	record := func(sent *models.Message, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	_ = o.Enqueue(context.Background(), "c", "1", record)
	_ = o.Enqueue(context.Background(), "c", "2", record)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := o.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() = %v, want deadline exceeded", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 2 {
		t.Fatalf("callbacks = %d, want 2", len(errs))
	}
	for _, err := range errs {
		if err == nil {
			t.Error("pending deliveries should fail after a forced close")
		}
	}
}

func TestOutbox_RateLimited(t *testing.T) {
	sender := &fakeSender{}
	depths := make(chan int, 16)
	o := NewOutbox(sender.Send, OutboxConfig{
		Limiter: NewRateLimiter(1000, 1),
		OnDepth: func(d int) {
			select {
			case depths <- d:
			default:
			}
		},
	})

	for i := 0; i < 3; i++ {
		_ = o.Enqueue(context.Background(), "c", "x", nil)
	}
	_ = o.Close(context.Background())

	if len(sender.contents()) != 3 {
		t.Errorf("sent = %d, want 3", len(sender.contents()))
	}
	if len(depths) == 0 {
		t.Error("OnDepth should be called")
	}
}
