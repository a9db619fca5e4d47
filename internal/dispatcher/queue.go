package dispatcher

import (
	"sync"
	"time"
)

// queueItem is a task key waiting its turn, with backoff tracking for
// transient store failures.
type queueItem struct {
	key       string
	attempts  int
	nextRetry time.Time
}

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
)

// WorkQueue is a rate-limited queue of task keys with exponential backoff.
// The dirty/processing sets guarantee that a watch event arriving while
// its task is being processed is not lost: the key is re-queued when the
// current pass finishes.
type WorkQueue struct {
	mu         sync.Mutex
	items      []queueItem
	dirty      map[string]bool
	processing map[string]bool
	notify     chan struct{}
	closed     bool
}

// NewWorkQueue creates an empty work queue.
func NewWorkQueue() *WorkQueue {
	return &WorkQueue{
		dirty:      make(map[string]bool),
		processing: make(map[string]bool),
		notify:     make(chan struct{}, 1),
	}
}

// Add enqueues a task key. If the key is currently being processed it is
// marked dirty and re-queued when Done is called.
func (q *WorkQueue) Add(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.dirty[key] = true

	if q.processing[key] {
		return
	}
	for _, item := range q.items {
		if item.key == key {
			return
		}
	}

	q.items = append(q.items, queueItem{key: key})

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Get returns the next ready key. It blocks until one is available or the
// queue is closed, in which case it returns ("", false).
func (q *WorkQueue) Get() (string, bool) {
	for {
		q.mu.Lock()

		if q.closed && len(q.items) == 0 {
			q.mu.Unlock()
			return "", false
		}

		now := time.Now()
		for i, item := range q.items {
			if !now.Before(item.nextRetry) {
				key := item.key
				q.items = append(q.items[:i], q.items[i+1:]...)
				q.processing[key] = true
				q.mu.Unlock()
				return key, true
			}
		}

		// Items exist but none are ready: sleep until the earliest retry.
		var sleepDuration time.Duration
		if len(q.items) > 0 {
			earliest := q.items[0].nextRetry
			for _, item := range q.items[1:] {
				if item.nextRetry.Before(earliest) {
					earliest = item.nextRetry
				}
			}
			sleepDuration = time.Until(earliest)
			if sleepDuration < 0 {
				sleepDuration = 0
			}
		}

		q.mu.Unlock()

		if sleepDuration > 0 {
			timer := time.NewTimer(sleepDuration)
			select {
			case <-q.notify:
				timer.Stop()
			case <-timer.C:
			}
		} else {
			<-q.notify
		}
	}
}

// Done marks a key as processed. A key re-dirtied mid-processing is
// re-queued fresh.
func (q *WorkQueue) Done(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, key)

	if q.dirty[key] {
		delete(q.dirty, key)
		q.dirty[key] = true
		q.items = append(q.items, queueItem{key: key})
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// Requeue re-adds a key with exponential backoff (1s, 2s, 4s, ..., max 60s).
func (q *WorkQueue) Requeue(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	attempts := 0
	for i, item := range q.items {
		if item.key == key {
			attempts = item.attempts
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}

	attempts++
	backoff := initialBackoff * (1 << (attempts - 1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	delete(q.processing, key)
	q.dirty[key] = true
	q.items = append(q.items, queueItem{
		key:       key,
		attempts:  attempts,
		nextRetry: time.Now().Add(backoff),
	})

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued keys.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close shuts down the queue, unblocking pending Get calls.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}
