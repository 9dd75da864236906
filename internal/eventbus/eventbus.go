// Package eventbus provides a thread-safe, non-blocking publish-subscribe
// bus for batch lifecycle events. Handlers never block the publisher: a
// slow or stuck subscriber silently drops events past its buffer rather
// than stalling the queue manager that published them.
package eventbus

import (
	"sync"

	"github.com/relaydocs/ingestor/internal/events"
)

// Topic groups events for subscribers that only care about one class of
// lifecycle activity. Most components subscribe to TopicLifecycle; the
// narrower topics exist so a single slow consumer of, say, progress spam
// can't starve out terminal-event consumers sharing a channel.
type Topic string

const (
	// TopicLifecycle carries every event this process publishes.
	TopicLifecycle Topic = "lifecycle"
	// TopicProgress carries only BATCH_PROCESSING_PROGRESS frames.
	TopicProgress Topic = "progress"
	// TopicTerminal carries only batch-terminal frames (completed/failed/timeout).
	TopicTerminal Topic = "terminal"
)

func topicsFor(e events.Event) []Topic {
	switch e.Type {
	case events.TypeBatchProcessingProgress:
		return []Topic{TopicLifecycle, TopicProgress}
	case events.TypeBatchProcessingCompleted, events.TypeBatchProcessingFailed, events.TypeBatchTimeout:
		return []Topic{TopicLifecycle, TopicTerminal}
	default:
		return []Topic{TopicLifecycle}
	}
}

// Bus is a thread-safe, non-blocking publish-subscribe event bus keyed by
// Topic. Delivery to any one subscriber is best-effort ordered relative to
// the publisher; failure or slowness of one subscriber never affects
// another or blocks Publish.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]chan events.Event
	bufferSize  int
	done        chan struct{}
	closeOnce   sync.Once
}

// New creates a Bus whose subscriber channels each buffer up to bufferSize
// events before newly published events are dropped for that subscriber.
func New(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 32
	}
	return &Bus{
		subscribers: make(map[Topic][]chan events.Event),
		bufferSize:  bufferSize,
		done:        make(chan struct{}),
	}
}

// Subscribe registers a new subscriber for topic and returns a channel that
// receives events published to it. The channel is closed when Close is
// called; callers must keep draining it until then.
func (b *Bus) Subscribe(topic Topic) <-chan events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan events.Event, b.bufferSize)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// Publish delivers e to every subscriber of the topics e belongs to. This
// never blocks: a subscriber whose buffer is full simply misses the event.
func (b *Bus) Publish(e events.Event) {
	for _, topic := range topicsFor(e) {
		b.publishTopic(topic, e)
	}
}

func (b *Bus) publishTopic(topic Topic, e events.Event) {
	b.mu.RLock()
	subs := b.subscribers[topic]
	subsCopy := make([]chan events.Event, len(subs))
	copy(subsCopy, subs)
	b.mu.RUnlock()

	for _, ch := range subsCopy {
		select {
		case ch <- e:
		default:
			// subscriber buffer full; drop for this subscriber only.
		}
	}
}

// Close shuts the bus down, closing every subscriber channel. The bus must
// not be used after Close returns. Safe to call more than once.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		close(b.done)
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				close(ch)
			}
		}
		b.subscribers = make(map[Topic][]chan events.Event)
	})
}
