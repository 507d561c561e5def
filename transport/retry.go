package transport

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yoavra/yoman/config"
)

type queuedMessage struct {
	recipient string
	text      string
}

// RetryEgress wraps a raw transport with a per-recipient rate limit and a
// bounded retry queue. A send that fails while the transport is down is
// queued and replayed with exponential backoff; when the queue is full the
// oldest entry is dropped.
type RetryEgress struct {
	raw Egress

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	pending  []queuedMessage

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewRetryEgress(raw Egress) *RetryEgress {
	return &RetryEgress{
		raw:      raw,
		limiters: make(map[string]*rate.Limiter),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the replay loop. Stop waits for it to exit.
func (e *RetryEgress) Start() {
	go e.flushLoop()
}

func (e *RetryEgress) Stop() {
	close(e.stop)
	<-e.done
}

func (e *RetryEgress) limiter(recipient string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[recipient]
	if !ok {
		perMin := rate.Limit(float64(config.EgressRatePerMinute) / 60.0)
		l = rate.NewLimiter(perMin, config.EgressRatePerMinute)
		e.limiters[recipient] = l
	}
	return l
}

func (e *RetryEgress) SendText(ctx context.Context, recipient, text string) (string, error) {
	if err := e.limiter(recipient).Wait(ctx); err != nil {
		return "", err
	}
	id, err := e.raw.SendText(ctx, recipient, text)
	if err == nil {
		return id, nil
	}
	logrus.WithError(err).WithField("recipient", recipient).Warn("[EGRESS] send failed, queueing for retry")
	e.enqueue(queuedMessage{recipient: recipient, text: text})
	return "", nil
}

// React is best effort: a lost reaction is not worth a retry queue slot.
func (e *RetryEgress) React(ctx context.Context, recipient, messageID, emoji string) error {
	return e.raw.React(ctx, recipient, messageID, emoji)
}

func (e *RetryEgress) enqueue(m queuedMessage) {
	e.mu.Lock()
	if len(e.pending) >= config.EgressPendingMax {
		e.pending = e.pending[1:]
	}
	e.pending = append(e.pending, m)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *RetryEgress) dequeue() (queuedMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return queuedMessage{}, false
	}
	m := e.pending[0]
	e.pending = e.pending[1:]
	return m, true
}

func (e *RetryEgress) requeueFront(m queuedMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) >= config.EgressPendingMax {
		return
	}
	e.pending = append([]queuedMessage{m}, e.pending...)
}

// PendingCount reports how many messages await replay.
func (e *RetryEgress) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *RetryEgress) flushLoop() {
	defer close(e.done)
	backoff := config.EgressRetryBase

	for {
		m, ok := e.dequeue()
		if !ok {
			select {
			case <-e.wake:
				continue
			case <-e.stop:
				return
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := e.raw.SendText(ctx, m.recipient, m.text)
		cancel()
		if err == nil {
			// The attempt counter resets on the first successful dispatch.
			backoff = config.EgressRetryBase
			continue
		}

		e.requeueFront(m)
		select {
		case <-time.After(backoff):
		case <-e.stop:
			return
		}
		backoff *= 2
		if backoff > config.EgressRetryCap {
			backoff = config.EgressRetryCap
		}
	}
}
