package engine

import (
	"sync"

	"github.com/rs/zerolog"
)

// Queue runs submitted work in order per key, with one goroutine per key.
// Different keys proceed in parallel.
type Queue struct {
	mu      sync.Mutex
	workers map[string]chan func()
	quit    chan struct{}
	closed  bool
	senders sync.WaitGroup
	wg      sync.WaitGroup
	size    int
	log     zerolog.Logger
}

// NewQueue creates a queue whose per-key backlog holds size items.
func NewQueue(size int, log zerolog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		workers: make(map[string]chan func()),
		quit:    make(chan struct{}),
		size:    size,
		log:     log,
	}
}

// Submit enqueues fn behind earlier work for key. It blocks while the
// backlog is full and fails once the queue is closed.
func (q *Queue) Submit(key string, fn func()) error {
	ch, err := q.acquire(key)
	if err != nil {
		return err
	}
	defer q.senders.Done()
	ch <- fn
	return nil
}

// TrySubmit is Submit without waiting: a full backlog returns ErrQueueFull
// and fn is discarded.
func (q *Queue) TrySubmit(key string, fn func()) error {
	ch, err := q.acquire(key)
	if err != nil {
		return err
	}
	defer q.senders.Done()
	select {
	case ch <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// acquire registers a sender for key, starting its worker on first use.
// Close waits for registered senders before workers start draining.
func (q *Queue) acquire(key string) (chan func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	ch, ok := q.workers[key]
	if !ok {
		ch = make(chan func(), q.size)
		q.workers[key] = ch
		q.wg.Add(1)
		go q.work(key, ch)
	}
	q.senders.Add(1)
	return ch, nil
}

func (q *Queue) work(key string, ch chan func()) {
	defer q.wg.Done()
	for {
		select {
		case fn := <-ch:
			q.run(key, fn)
		case <-q.quit:
			for {
				select {
				case fn := <-ch:
					q.run(key, fn)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("machine", key).Interface("panic", r).Msg("Queued work panicked")
		}
	}()
	fn()
}

// Close stops accepting work, runs what is already queued and waits for
// every worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.senders.Wait()
	close(q.quit)
	q.wg.Wait()
}
