package watch

import (
	"sync"

	events "github.com/docker/go-events"
)

// Queue is the structure used to publish events and watch for them.
type Queue struct {
	mu          sync.Mutex
	broadcast   *events.Broadcaster
	cancelFuncs map[events.Sink]func()
}

// NewQueue creates a new publish/subscribe queue which supports watchers.
func NewQueue() *Queue {
	return &Queue{
		broadcast:   events.NewBroadcaster(),
		cancelFuncs: make(map[events.Sink]func()),
	}
}

// Watch returns a channel which will receive all items published to the
// queue from this point, until cancel is called.
func (q *Queue) Watch() (eventq chan events.Event, cancel func()) {
	return q.CallbackWatch(nil)
}

// CallbackWatch returns a channel which will receive all events published to
// the queue from this point that pass the check in the provided callback
// function. The returned cancel function will stop the flow of events.
func (q *Queue) CallbackWatch(matcher events.Matcher) (eventq chan events.Event, cancel func()) {
	ch := events.NewChannel(0)
	sink := events.Sink(events.NewQueue(ch))

	if matcher != nil {
		sink = events.NewFilter(sink, matcher)
	}

	q.broadcast.Add(sink)

	var once sync.Once
	cancelFunc := func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.cancelFuncs, sink)
			q.mu.Unlock()

			q.broadcast.Remove(sink)
			ch.Close()
			sink.Close()
		})
	}

	q.mu.Lock()
	q.cancelFuncs[sink] = cancelFunc
	q.mu.Unlock()

	return ch.C, cancelFunc
}

// Publish adds an item to the queue.
func (q *Queue) Publish(item events.Event) {
	q.broadcast.Write(item)
}

// Close closes the queue and cancels every outstanding watch.
func (q *Queue) Close() error {
	q.mu.Lock()
	cancels := make([]func(), 0, len(q.cancelFuncs))
	for _, cancel := range q.cancelFuncs {
		cancels = append(cancels, cancel)
	}
	q.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return q.broadcast.Close()
}
