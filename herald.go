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

// Package herald is the event-delivery core: it routes integration events
// fired on the hook bus to subscribed delivery providers, with bounded
// retries recorded in a durable delivery log.
package herald

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/heraldhq/herald/config"
	"github.com/heraldhq/herald/connections"
	"github.com/heraldhq/herald/database"
	"github.com/heraldhq/herald/events"
	"github.com/heraldhq/herald/hookbus"
	redis_db "github.com/heraldhq/herald/internal/redis-db"
	"github.com/heraldhq/herald/model"
	"github.com/heraldhq/herald/providers"
	"github.com/heraldhq/herald/queue"
)

// Herald represents the main struct for the Herald delivery subsystem.
type Herald struct {
	events      *events.Registry
	providers   *providers.Registry
	datasource  database.IDataSource
	connections *connections.Store

	// jobs is the in-memory delivery queue; redisQueue replaces it for the
	// delivery work-queue when Redis is configured, giving the
	// competing-consumer guarantee across backend instances.
	jobs       *queue.Queue[model.DeliveryJob]
	redisQueue *queue.RedisQueue

	tracer trace.Tracer

	mu            sync.Mutex
	bus           hookbus.Bus
	workerStarted bool
	listenerStops []func()
}

// NewHerald initializes Herald with the provided datasource and registries.
// Registries are populated by plugins before Attach is called. When Redis is
// configured it backs both the connection store and the durable delivery
// queue; without it Herald runs fully in-process.
func NewHerald(db database.IDataSource, eventRegistry *events.Registry, providerRegistry *providers.Registry) (*Herald, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	h := &Herald{
		events:     eventRegistry,
		providers:  providerRegistry,
		datasource: db,
		jobs: queue.New[model.DeliveryJob](configuration.Queue.DeliveryQueue,
			queue.WithBaseRetryDelay(time.Duration(configuration.Queue.BaseRetryDelaySec)*time.Second),
			queue.WithMaxInflight(configuration.Queue.WorkerConcurrency)),
		tracer: otel.Tracer("herald.coordinator"),
	}

	if configuration.Redis.Dns != "" {
		redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns, configuration.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		h.connections = connections.NewStore(redisClient.Client(), providerRegistry)

		redisQueue, err := queue.NewRedisQueue(configuration)
		if err != nil {
			return nil, err
		}
		h.redisQueue = redisQueue
	}

	return h, nil
}

// Events returns the integration event registry.
func (h *Herald) Events() *events.Registry {
	return h.events
}

// Providers returns the delivery provider registry.
func (h *Herald) Providers() *providers.Registry {
	return h.providers
}

// Connections returns the site-wide connection store, or nil when Redis is
// not configured.
func (h *Herald) Connections() *connections.Store {
	return h.connections
}

// QueueStats reports delivery queue counters from whichever backend is
// active.
func (h *Herald) QueueStats() (queue.Stats, error) {
	if h.redisQueue != nil {
		return h.redisQueue.Stats()
	}
	return h.jobs.Stats(), nil
}

// Close detaches bus listeners and stops the in-memory queue. In-flight
// deliveries observe a canceled context.
func (h *Herald) Close() {
	h.mu.Lock()
	stops := h.listenerStops
	h.listenerStops = nil
	h.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	h.jobs.Close()
}
