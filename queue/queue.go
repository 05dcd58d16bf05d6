/*
Copyright 2026 Herald Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package queue implements the in-memory job queue engine behind event
// delivery. A queue is named and typed; consumers register under a consumer
// group. Distinct groups each receive every job enqueued while they are
// registered (broadcast), consumers sharing a group compete for jobs
// (work-queue), with round-robin handler selection inside the group.
//
// A group that registers after jobs were enqueued does not replay the
// backlog; it only observes jobs enqueued from registration onward.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heraldhq/herald/model"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBaseRetryDelay is the base of the exponential handler-failure
	// backoff: a job that failed n times is re-enqueued after 2^n * base.
	DefaultBaseRetryDelay = time.Minute

	// DefaultMaxInflight bounds concurrently executing handlers per queue.
	DefaultMaxInflight = 4
)

// Job is the unit handed to consumer handlers. Attempts counts prior
// failed executions of this job for the receiving consumer group.
type Job[T any] struct {
	ID          string
	Payload     T
	Priority    int
	AvailableAt time.Time
	Attempts    int
}

// Handler processes one job. A non-nil error triggers the registration's
// retry policy; a panic is treated as an error.
type Handler[T any] func(ctx context.Context, job *Job[T]) error

// ConsumeOptions configures a consumer registration.
type ConsumeOptions struct {
	// Group is the consumer group label. Required.
	Group string
	// MaxRetries bounds handler-failure retries for this registration.
	MaxRetries int
}

// Stats is a point-in-time snapshot of queue state. A job in Processing is
// never simultaneously counted in Pending.
type Stats struct {
	Pending        int      `json:"pending"`
	Processing     int      `json:"processing"`
	Completed      int      `json:"completed"`
	Failed         int      `json:"failed"`
	ConsumerGroups []string `json:"consumer_groups"`
}

// EnqueueOption customizes a single enqueue.
type EnqueueOption func(*enqueueSettings)

type enqueueSettings struct {
	jobID    string
	priority int
	delay    time.Duration
}

// WithJobID sets a caller-supplied job ID used as an idempotency key: if a
// job with this ID is already queued or in flight, the enqueue is a no-op
// returning the existing ID.
func WithJobID(id string) EnqueueOption {
	return func(s *enqueueSettings) { s.jobID = id }
}

// WithPriority sets the job priority. Higher priorities dequeue first among
// eligible jobs. Defaults to 0.
func WithPriority(priority int) EnqueueOption {
	return func(s *enqueueSettings) { s.priority = priority }
}

// WithDelay gates the job until the delay elapses. Defaults to immediately
// eligible.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(s *enqueueSettings) { s.delay = delay }
}

// Option customizes queue construction.
type Option func(*settings)

type settings struct {
	baseRetryDelay time.Duration
	maxInflight    int
}

// WithBaseRetryDelay overrides the base of the exponential retry backoff.
// Production uses the default of one minute; tests scale it down.
func WithBaseRetryDelay(d time.Duration) Option {
	return func(s *settings) { s.baseRetryDelay = d }
}

// WithMaxInflight bounds how many handlers may execute concurrently across
// the queue.
func WithMaxInflight(n int) Option {
	return func(s *settings) { s.maxInflight = n }
}

// record is the shared, internally-opaque form of an enqueued job. Group
// entries reference it; the payload type never escapes into untyped storage.
type record[T any] struct {
	id       string
	payload  T
	priority int
	seq      uint64
	// refs counts groups still holding the job (pending or in flight).
	// The job ID stays reserved for dedup until refs drops to zero.
	refs int
}

// item is one group's view of a job: its own attempt counter and
// availability gate, since retries are per registration.
type item[T any] struct {
	rec         *record[T]
	attempts    int
	availableAt time.Time
	index       int
}

type registration[T any] struct {
	handler    Handler[T]
	maxRetries int
}

type group[T any] struct {
	name     string
	ready    readyHeap[T]
	delayed  delayHeap[T]
	handlers []*registration[T]
	rr       int
	wake     chan struct{}
	closed   bool
}

// Queue is a named, typed in-memory job queue. All shared state is guarded
// by a single mutex; dispatch runs one loop per consumer group that wakes on
// enqueue, registration changes, handler completion, or the nearest delayed
// job becoming eligible. Delay-gated jobs are never busy-polled.
type Queue[T any] struct {
	name string

	mu        sync.Mutex
	groups    map[string]*group[T]
	known     map[string]*record[T]
	seq       uint64
	inflight  int
	completed int
	failed    int

	baseRetryDelay time.Duration
	maxInflight    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue with the given name.
func New[T any](name string, opts ...Option) *Queue[T] {
	s := settings{
		baseRetryDelay: DefaultBaseRetryDelay,
		maxInflight:    DefaultMaxInflight,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.maxInflight <= 0 {
		s.maxInflight = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue[T]{
		name:           name,
		groups:         make(map[string]*group[T]),
		known:          make(map[string]*record[T]),
		baseRetryDelay: s.baseRetryDelay,
		maxInflight:    s.maxInflight,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string {
	return q.name
}

// Enqueue adds a job and fans it out to every currently-registered consumer
// group. It returns the job ID and never blocks on handler execution.
func (q *Queue[T]) Enqueue(_ context.Context, payload T, opts ...EnqueueOption) (string, error) {
	var s enqueueSettings
	for _, opt := range opts {
		opt(&s)
	}
	if s.delay < 0 {
		return "", fmt.Errorf("queue %s: negative start delay", q.name)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx.Err() != nil {
		return "", fmt.Errorf("queue %s: closed", q.name)
	}

	jobID := s.jobID
	if jobID == "" {
		jobID = model.GenerateUUIDWithSuffix("job")
	} else if _, exists := q.known[jobID]; exists {
		// Idempotency key hit: the job is queued or in flight already.
		return jobID, nil
	}

	q.seq++
	rec := &record[T]{
		id:       jobID,
		payload:  payload,
		priority: s.priority,
		seq:      q.seq,
	}

	availableAt := time.Now().Add(s.delay)
	for _, g := range q.groups {
		it := &item[T]{rec: rec, availableAt: availableAt}
		if s.delay > 0 {
			heap.Push(&g.delayed, it)
		} else {
			heap.Push(&g.ready, it)
		}
		rec.refs++
		signal(g.wake)
	}

	if rec.refs > 0 {
		q.known[jobID] = rec
	}
	return jobID, nil
}

// Consume registers a handler under opts.Group and returns an unsubscribe
// function. Unsubscribing lets any in-flight invocation finish but prevents
// further dispatch to the handler; when a group's last handler unsubscribes,
// the group and its backlog are dropped.
func (q *Queue[T]) Consume(handler Handler[T], opts ConsumeOptions) (func(), error) {
	if opts.Group == "" {
		return nil, fmt.Errorf("queue %s: consumer group is required", q.name)
	}
	if handler == nil {
		return nil, fmt.Errorf("queue %s: handler is required", q.name)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx.Err() != nil {
		return nil, fmt.Errorf("queue %s: closed", q.name)
	}

	g, ok := q.groups[opts.Group]
	if !ok {
		g = &group[T]{
			name: opts.Group,
			wake: make(chan struct{}, 1),
		}
		q.groups[opts.Group] = g
		q.wg.Add(1)
		go q.dispatch(g)
	}

	reg := &registration[T]{handler: handler, maxRetries: opts.MaxRetries}
	g.handlers = append(g.handlers, reg)
	signal(g.wake)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { q.unsubscribe(g, reg) })
	}
	return unsubscribe, nil
}

func (q *Queue[T]) unsubscribe(g *group[T], reg *registration[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range g.handlers {
		if r == reg {
			g.handlers = append(g.handlers[:i], g.handlers[i+1:]...)
			break
		}
	}

	if len(g.handlers) == 0 && !g.closed {
		g.closed = true
		// Drop the backlog; jobs pending only here release their dedup slot.
		for g.ready.Len() > 0 {
			it := heap.Pop(&g.ready).(*item[T])
			q.release(it.rec)
		}
		for g.delayed.Len() > 0 {
			it := heap.Pop(&g.delayed).(*item[T])
			q.release(it.rec)
		}
		delete(q.groups, g.name)
	}
	signal(g.wake)
}

// Stats returns a consistent snapshot of queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{
		Processing: q.inflight,
		Completed:  q.completed,
		Failed:     q.failed,
	}
	for name, g := range q.groups {
		st.Pending += g.ready.Len() + g.delayed.Len()
		st.ConsumerGroups = append(st.ConsumerGroups, name)
	}
	return st
}

// Close stops all dispatch loops. In-flight handlers observe a canceled
// context; pending jobs are discarded.
func (q *Queue[T]) Close() {
	q.cancel()
	q.mu.Lock()
	for _, g := range q.groups {
		signal(g.wake)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// dispatch is the per-group loop. It promotes due delayed jobs, hands
// eligible jobs to handlers round-robin while the in-flight bound allows,
// and otherwise sleeps until woken or until the nearest delayed job is due.
func (q *Queue[T]) dispatch(g *group[T]) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if q.ctx.Err() != nil || g.closed {
			q.mu.Unlock()
			return
		}

		now := time.Now()
		for g.delayed.Len() > 0 && !g.delayed[0].availableAt.After(now) {
			heap.Push(&g.ready, heap.Pop(&g.delayed).(*item[T]))
		}

		if g.ready.Len() > 0 && len(g.handlers) > 0 && q.inflight < q.maxInflight {
			it := heap.Pop(&g.ready).(*item[T])
			reg := g.handlers[g.rr%len(g.handlers)]
			g.rr++
			q.inflight++
			q.mu.Unlock()
			go q.execute(g, reg, it)
			continue
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if g.delayed.Len() > 0 {
			timer = time.NewTimer(time.Until(g.delayed[0].availableAt))
			timerC = timer.C
		}
		q.mu.Unlock()

		select {
		case <-g.wake:
		case <-timerC:
		case <-q.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// execute runs one handler invocation and applies the registration's retry
// policy. Handler errors and panics are contained here; they never stop the
// dispatch loop or affect other consumer groups.
func (q *Queue[T]) execute(g *group[T], reg *registration[T], it *item[T]) {
	job := &Job[T]{
		ID:          it.rec.id,
		Payload:     it.rec.payload,
		Priority:    it.rec.priority,
		AvailableAt: it.availableAt,
		Attempts:    it.attempts,
	}

	err := q.invoke(reg.handler, job)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.inflight--
	// The freed slot can unblock any group's dispatch loop parked on the
	// in-flight bound, not just the completed job's group.
	defer q.wakeAll()

	if err == nil {
		q.completed++
		q.release(it.rec)
		return
	}

	logrus.WithFields(logrus.Fields{
		"queue":    q.name,
		"group":    g.name,
		"job_id":   it.rec.id,
		"attempts": it.attempts + 1,
	}).Warnf("job handler failed: %v", err)

	if g.closed {
		q.failed++
		q.release(it.rec)
		return
	}

	if it.attempts < reg.maxRetries {
		// Exponential backoff: 2^attempts * base, counting prior failures.
		delay := q.baseRetryDelay * (1 << uint(it.attempts))
		it.attempts++
		it.availableAt = time.Now().Add(delay)
		heap.Push(&g.delayed, it)
		return
	}

	// Retries exhausted for this registration's group only.
	q.failed++
	q.release(it.rec)
}

func (q *Queue[T]) invoke(handler Handler[T], job *Job[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(q.ctx, job)
}

// release drops one group reference; the last release frees the job ID for
// reuse as an idempotency key.
func (q *Queue[T]) release(rec *record[T]) {
	rec.refs--
	if rec.refs <= 0 {
		delete(q.known, rec.id)
	}
}

// wakeAll signals every group's dispatch loop. Callers hold q.mu.
func (q *Queue[T]) wakeAll() {
	for _, g := range q.groups {
		signal(g.wake)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
