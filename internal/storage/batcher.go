package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
	flushTimeout  = 5 * time.Second
)

// flushFunc persists one batch. It owns error reporting for the batch.
type flushFunc func(ctx context.Context, events []*ModerationEvent)

// batcher buffers events in memory and hands them to a flushFunc from a single
// background goroutine, by size or by ticker, whichever comes first.
type batcher struct {
	sink    string
	buffer  chan *ModerationEvent
	done    chan struct{}
	flushed chan struct{} // closed by loop when it returns
	flush   flushFunc
	logger  *zap.Logger
}

func newBatcher(sink string, flush flushFunc, logger *zap.Logger) *batcher {
	b := &batcher{
		sink:    sink,
		buffer:  make(chan *ModerationEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		flush:   flush,
		logger:  logger,
	}
	go b.loop()
	return b
}

// enqueue drops the event if the buffer is full.
func (b *batcher) enqueue(event *ModerationEvent) {
	select {
	case b.buffer <- event:
	default:
		b.logger.Warn("audit buffer full, dropping event",
			zap.String("sink", b.sink),
			zap.String("request_id", event.RequestID),
		)
	}
}

// close signals the loop to drain remaining events and waits for it to
// finish. Safe to call once.
func (b *batcher) close() {
	close(b.done)
	<-b.flushed
}

func (b *batcher) loop() {
	defer close(b.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*ModerationEvent, 0, flushBatch)

	for {
		select {
		case event := <-b.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				b.send(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.send(batch)
				batch = batch[:0]
			}
		case <-b.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-b.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				b.send(batch)
			}
			return
		}
	}
}

func (b *batcher) send(events []*ModerationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	b.flush(ctx, events)
}
