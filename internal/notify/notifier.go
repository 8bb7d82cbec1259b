// Package notify delivers scheduler advisories (saturation notices,
// custom-worker suggestions) to an operator-facing sink without ever
// blocking the scheduling path.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// SinkFunc consumes one advisory message. Implementations may block;
// the notifier goroutine absorbs the latency.
type SinkFunc func(ctx context.Context, message string) error

// AsyncNotifier decouples advisory producers from the sink with a
// buffered channel. Notify never blocks: when the buffer is full the
// message is dropped and counted, matching the bus's delivery policy.
type AsyncNotifier struct {
	messageCh chan string
	sink      SinkFunc
	log       *zap.Logger
	done      chan struct{}
}

// NewAsyncNotifier creates a notifier with the given buffer size.
// bufferSize should comfortably exceed the advisory rate; advisories
// are rare, so a small buffer is enough.
func NewAsyncNotifier(bufferSize int, sink SinkFunc, log *zap.Logger) *AsyncNotifier {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AsyncNotifier{
		messageCh: make(chan string, bufferSize),
		sink:      sink,
		log:       log,
		done:      make(chan struct{}),
	}
}

// Start launches the delivery goroutine. It processes messages until
// the context is cancelled.
func (n *AsyncNotifier) Start(ctx context.Context) {
	go n.deliver(ctx)
}

// deliver drains the message channel until context cancellation.
func (n *AsyncNotifier) deliver(ctx context.Context) {
	defer close(n.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.messageCh:
			if n.sink == nil {
				continue
			}
			if err := n.sink(ctx, msg); err != nil {
				n.log.Warn("advisory delivery failed", zap.Error(err))
			}
		}
	}
}

// Notify implements scheduler.Notifier. Never blocks; drops when the
// buffer is full.
func (n *AsyncNotifier) Notify(message string) {
	select {
	case n.messageCh <- message:
	default:
		n.log.Warn("advisory dropped, buffer full", zap.String("message", message))
	}
}

// Stop blocks until the delivery goroutine has exited. Call after
// cancelling the context passed to Start.
func (n *AsyncNotifier) Stop() {
	<-n.done
}
