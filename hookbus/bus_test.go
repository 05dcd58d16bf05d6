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

package hookbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/hookbus"
	"github.com/heraldhq/herald/model"
)

func fired(eventID string) model.FiredEvent {
	return model.FiredEvent{
		EventID:   eventID,
		Payload:   map[string]interface{}{"system_id": "sys-1"},
		Timestamp: time.Now(),
	}
}

func waitForCount(t *testing.T, mu *sync.Mutex, count *int, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := *count
		mu.Unlock()
		if got >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	t.Fatalf("expected %d deliveries, got %d", want, *count)
}

func TestWorkQueueSubscribersCompete(t *testing.T) {
	bus := hookbus.NewInProcessBus()
	defer bus.Close()

	var mu sync.Mutex
	counts := map[string]int{}
	total := 0
	listener := func(name string) hookbus.Listener {
		return func(_ context.Context, _ model.FiredEvent) error {
			mu.Lock()
			counts[name]++
			total++
			mu.Unlock()
			return nil
		}
	}

	opts := hookbus.SubscribeOptions{Mode: hookbus.ModeWorkQueue, WorkerGroup: "delivery"}
	_, err := bus.OnHook("core.incident.created", listener("a"), opts)
	require.NoError(t, err)
	_, err = bus.OnHook("core.incident.created", listener("b"), opts)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Fire(context.Background(), fired("core.incident.created")))
	}
	waitForCount(t, &mu, &total, 10)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, counts["a"]+counts["b"], "each occurrence handled exactly once")
	assert.Greater(t, counts["a"], 0)
	assert.Greater(t, counts["b"], 0)
}

func TestBroadcastSubscribersEachReceive(t *testing.T) {
	bus := hookbus.NewInProcessBus()
	defer bus.Close()

	var mu sync.Mutex
	received := 0
	listener := func(_ context.Context, event model.FiredEvent) error {
		mu.Lock()
		received++
		mu.Unlock()
		return nil
	}

	opts := hookbus.SubscribeOptions{Mode: hookbus.ModeBroadcast}
	_, err := bus.OnHook("delivery.succeeded", listener, opts)
	require.NoError(t, err)
	_, err = bus.OnHook("delivery.succeeded", listener, opts)
	require.NoError(t, err)

	require.NoError(t, bus.Broadcast(context.Background(), "delivery.succeeded", map[string]interface{}{"log_id": "dlog-1"}))
	waitForCount(t, &mu, &received, 2)
}

func TestHooksAreIsolated(t *testing.T) {
	bus := hookbus.NewInProcessBus()
	defer bus.Close()

	var mu sync.Mutex
	got := 0
	_, err := bus.OnHook("core.incident.created", func(_ context.Context, _ model.FiredEvent) error {
		mu.Lock()
		got++
		mu.Unlock()
		return nil
	}, hookbus.SubscribeOptions{Mode: hookbus.ModeWorkQueue, WorkerGroup: "delivery"})
	require.NoError(t, err)

	require.NoError(t, bus.Fire(context.Background(), fired("core.maintenance.scheduled")))
	require.NoError(t, bus.Fire(context.Background(), fired("core.incident.created")))
	waitForCount(t, &mu, &got, 1)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, got, "listener only sees its own hook")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := hookbus.NewInProcessBus()
	defer bus.Close()

	var mu sync.Mutex
	got := 0
	stop, err := bus.OnHook("core.incident.created", func(_ context.Context, _ model.FiredEvent) error {
		mu.Lock()
		got++
		mu.Unlock()
		return nil
	}, hookbus.SubscribeOptions{Mode: hookbus.ModeBroadcast})
	require.NoError(t, err)

	require.NoError(t, bus.Fire(context.Background(), fired("core.incident.created")))
	waitForCount(t, &mu, &got, 1)

	stop()
	require.NoError(t, bus.Fire(context.Background(), fired("core.incident.created")))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, got)
}

func TestSubscribeValidation(t *testing.T) {
	bus := hookbus.NewInProcessBus()
	defer bus.Close()

	noop := func(_ context.Context, _ model.FiredEvent) error { return nil }

	_, err := bus.OnHook("", noop, hookbus.SubscribeOptions{Mode: hookbus.ModeBroadcast})
	assert.Error(t, err)

	_, err = bus.OnHook("h", nil, hookbus.SubscribeOptions{Mode: hookbus.ModeBroadcast})
	assert.Error(t, err)

	_, err = bus.OnHook("h", noop, hookbus.SubscribeOptions{Mode: hookbus.ModeWorkQueue})
	assert.Error(t, err, "work-queue mode requires a worker group")

	_, err = bus.OnHook("h", noop, hookbus.SubscribeOptions{Mode: "fanout"})
	assert.Error(t, err)

	err = bus.Fire(context.Background(), model.FiredEvent{})
	assert.Error(t, err)
}
