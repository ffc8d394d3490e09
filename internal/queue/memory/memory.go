// Package memory is an in-process queue backend. It is used by tests and by
// QUEUE_BACKEND=memory single-process runs; nothing survives a restart.
package memory

import (
	"context"
	"strconv"
	"sync"

	"autoreply/internal/queue"
)

type DeadLetter struct {
	Message queue.Message
	Err     error
}

type entry struct {
	id      string
	msg     queue.Message
	attempt int
}

type Queue struct {
	// MaxAttempts bounds deliveries per message; 0 means 3.
	MaxAttempts int

	mu     sync.Mutex
	seq    int
	lanes  map[queue.Lane][]entry
	dead   []DeadLetter
	wake   map[queue.Lane]chan struct{}
	sendFn func(queue.Message) error
}

func New() *Queue {
	return &Queue{
		lanes: make(map[queue.Lane][]entry),
		wake:  make(map[queue.Lane]chan struct{}),
	}
}

// FailSends makes Send return the result of fn; nil fn restores normal sends.
func (q *Queue) FailSends(fn func(queue.Message) error) {
	q.mu.Lock()
	q.sendFn = fn
	q.mu.Unlock()
}

func (q *Queue) Send(_ context.Context, m queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendFn != nil {
		if err := q.sendFn(m); err != nil {
			return err
		}
	}
	q.seq++
	q.lanes[m.Lane] = append(q.lanes[m.Lane], entry{id: strconv.Itoa(q.seq), msg: m})
	q.signal(m.Lane)
	return nil
}

// Pending returns the messages waiting on lane, oldest first.
func (q *Queue) Pending(lane queue.Lane) []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Message, 0, len(q.lanes[lane]))
	for _, e := range q.lanes[lane] {
		out = append(out, e.msg)
	}
	return out
}

func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// Drain delivers messages on lane until it is empty, retrying failures
// immediately. It returns the number of deliveries made.
func (q *Queue) Drain(ctx context.Context, lane queue.Lane, handler queue.Handler) int {
	n := 0
	for ctx.Err() == nil {
		e, ok := q.pop(lane)
		if !ok {
			return n
		}
		n++
		q.deliver(ctx, e, handler)
	}
	return n
}

// Run delivers messages with workers goroutines until ctx is done.
func (q *Queue) Run(ctx context.Context, lane queue.Lane, workers int, handler queue.Handler) error {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, ok := q.pop(lane)
				if !ok {
					select {
					case <-ctx.Done():
						return
					case <-q.wakeCh(lane):
					}
					continue
				}
				q.deliver(ctx, e, handler)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *Queue) deliver(ctx context.Context, e entry, handler queue.Handler) {
	e.attempt++
	limit := q.MaxAttempts
	if limit <= 0 {
		limit = 3
	}
	d := queue.Delivery{ID: e.id, Lane: e.msg.Lane, Attempt: e.attempt, Final: e.attempt >= limit}
	err := handler(ctx, d, e.msg.Body)
	if err == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if queue.IsPermanent(err) || d.Final {
		q.dead = append(q.dead, DeadLetter{Message: e.msg, Err: err})
		return
	}
	q.lanes[e.msg.Lane] = append(q.lanes[e.msg.Lane], e)
	q.signal(e.msg.Lane)
}

func (q *Queue) pop(lane queue.Lane) (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.lanes[lane]
	if len(list) == 0 {
		return entry{}, false
	}
	e := list[0]
	q.lanes[lane] = list[1:]
	return e, true
}

func (q *Queue) wakeCh(lane queue.Lane) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.wake[lane]
	if !ok {
		ch = make(chan struct{}, 1)
		q.wake[lane] = ch
	}
	return ch
}

// signal must be called with mu held.
func (q *Queue) signal(lane queue.Lane) {
	ch, ok := q.wake[lane]
	if !ok {
		ch = make(chan struct{}, 1)
		q.wake[lane] = ch
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
