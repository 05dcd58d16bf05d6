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

// Package hookbus defines the hook/signal bus the delivery coordinator
// attaches to. The platform provides the cross-node bus in production; the
// in-process implementation here serves single-node deployments and tests.
package hookbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heraldhq/herald/model"
	"github.com/heraldhq/herald/queue"
)

// Mode selects the dispatch semantics of a hook subscription.
type Mode string

const (
	// ModeWorkQueue delivers each fired hook to exactly one subscriber
	// within the worker group, across all nodes sharing that group.
	ModeWorkQueue Mode = "work-queue"
	// ModeBroadcast delivers each fired hook to every subscriber.
	ModeBroadcast Mode = "broadcast"
)

// Listener handles one fired hook. A non-nil error marks the attempt failed;
// whether it is retried depends on the bus implementation.
type Listener func(ctx context.Context, event model.FiredEvent) error

// SubscribeOptions configures an OnHook registration.
type SubscribeOptions struct {
	Mode Mode
	// WorkerGroup names the competing-consumer group. Required for
	// ModeWorkQueue, ignored for ModeBroadcast.
	WorkerGroup string
}

// Bus is the hook/signal surface the coordinator depends on.
type Bus interface {
	// OnHook subscribes a listener to a hook and returns an unsubscribe
	// function.
	OnHook(hook string, fn Listener, opts SubscribeOptions) (func(), error)
	// Fire publishes a hook occurrence to its subscribers.
	Fire(ctx context.Context, event model.FiredEvent) error
	// Broadcast publishes a fire-and-forget signal (delivery.succeeded,
	// delivery.failed) to every broadcast subscriber of that signal.
	Broadcast(ctx context.Context, signal string, payload map[string]interface{}) error
}

// InProcessBus implements Bus on the in-memory queue engine: one queue per
// hook, work-queue subscriptions map to a shared consumer group, broadcast
// subscriptions each get a private group.
type InProcessBus struct {
	mu     sync.Mutex
	queues map[string]*queue.Queue[model.FiredEvent]
	opts   []queue.Option
	seq    int
	closed bool
}

// NewInProcessBus creates an in-process bus. Queue options apply to every
// per-hook queue it creates.
func NewInProcessBus(opts ...queue.Option) *InProcessBus {
	return &InProcessBus{
		queues: make(map[string]*queue.Queue[model.FiredEvent]),
		opts:   opts,
	}
}

func (b *InProcessBus) hookQueue(hook string) (*queue.Queue[model.FiredEvent], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("hookbus: closed")
	}
	q, ok := b.queues[hook]
	if !ok {
		q = queue.New[model.FiredEvent]("hook:"+hook, b.opts...)
		b.queues[hook] = q
	}
	return q, nil
}

// OnHook subscribes fn to hook. Work-queue subscribers sharing a worker
// group compete for each occurrence; broadcast subscribers each observe
// every occurrence fired after they subscribed.
func (b *InProcessBus) OnHook(hook string, fn Listener, opts SubscribeOptions) (func(), error) {
	if hook == "" {
		return nil, fmt.Errorf("hookbus: hook is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("hookbus: listener is required")
	}

	var group string
	switch opts.Mode {
	case ModeWorkQueue:
		if opts.WorkerGroup == "" {
			return nil, fmt.Errorf("hookbus: work-queue subscription to %s requires a worker group", hook)
		}
		group = opts.WorkerGroup
	case ModeBroadcast:
		b.mu.Lock()
		b.seq++
		group = fmt.Sprintf("broadcast-%d", b.seq)
		b.mu.Unlock()
	default:
		return nil, fmt.Errorf("hookbus: unknown subscription mode %q", opts.Mode)
	}

	q, err := b.hookQueue(hook)
	if err != nil {
		return nil, err
	}
	return q.Consume(func(ctx context.Context, job *queue.Job[model.FiredEvent]) error {
		return fn(ctx, job.Payload)
	}, queue.ConsumeOptions{Group: group})
}

// Fire publishes one hook occurrence, keyed by event.EventID.
func (b *InProcessBus) Fire(ctx context.Context, event model.FiredEvent) error {
	if event.EventID == "" {
		return fmt.Errorf("hookbus: fired event has no event ID")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	q, err := b.hookQueue(event.EventID)
	if err != nil {
		return err
	}
	_, err = q.Enqueue(ctx, event)
	return err
}

// Broadcast publishes a signal to its broadcast subscribers. Signals share
// the hook namespace, so subscribing is a broadcast-mode OnHook on the
// signal name.
func (b *InProcessBus) Broadcast(ctx context.Context, signal string, payload map[string]interface{}) error {
	return b.Fire(ctx, model.FiredEvent{
		EventID:   signal,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// Close stops every per-hook queue. Pending occurrences are discarded.
func (b *InProcessBus) Close() {
	b.mu.Lock()
	queues := make([]*queue.Queue[model.FiredEvent], 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.closed = true
	b.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
}
