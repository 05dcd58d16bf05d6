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

package herald

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/heraldhq/herald/database"
	"github.com/heraldhq/herald/hookbus"
	"github.com/heraldhq/herald/internal/apierror"
	"github.com/heraldhq/herald/internal/notification"
	"github.com/heraldhq/herald/model"
	"github.com/heraldhq/herald/providers"
	"github.com/heraldhq/herald/queue"
)

const (
	// MaxDeliveryRetries bounds delivery attempts per log. The queue's own
	// retry policy is unused for deliveries (the coordinator re-enqueues
	// explicitly so the delivery log stays the single source of retry state).
	MaxDeliveryRetries = 3

	// DeliveryWorkerGroup is the competing-consumer group for delivery
	// execution: every backend instance registers under it, so each job is
	// delivered exactly once cluster-wide.
	DeliveryWorkerGroup = "integration-delivery"

	// routerGroup is the competing-consumer group for hook routing.
	routerGroup = "herald-router"

	// DeliverySucceededSignal and DeliveryFailedSignal are broadcast on the
	// bus after a delivery reaches a terminal status, for UI refresh.
	DeliverySucceededSignal = "delivery.succeeded"
	DeliveryFailedSignal    = "delivery.failed"
)

// retryLadder holds the fixed delay before each delivery re-attempt,
// indexed by the number of prior attempts and clamped at the last rung.
var retryLadder = []time.Duration{1 * time.Minute, 5 * time.Minute, 15 * time.Minute}

func retryDelay(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryLadder) {
		idx = len(retryLadder) - 1
	}
	return retryLadder[idx]
}

// Attach subscribes the coordinator to the hook bus: one work-queue listener
// per registered integration event, so each fired event is routed by exactly
// one backend instance, plus the bus handle used for terminal-status
// broadcasts. Call after plugin load, when the event registry is final.
func (h *Herald) Attach(bus hookbus.Bus) error {
	h.mu.Lock()
	h.bus = bus
	h.mu.Unlock()

	for _, evt := range h.events.List() {
		evt := evt
		stop, err := bus.OnHook(evt.EventID, func(ctx context.Context, fired model.FiredEvent) error {
			// Snapshot through the event's payload transform before any
			// subscription sees it.
			return h.RouteEvent(ctx, model.FiredEvent{
				EventID:   evt.EventID,
				Payload:   evt.Transform(fired.Payload),
				Timestamp: fired.Timestamp,
			})
		}, hookbus.SubscribeOptions{Mode: hookbus.ModeWorkQueue, WorkerGroup: routerGroup})
		if err != nil {
			return err
		}

		h.mu.Lock()
		h.listenerStops = append(h.listenerStops, stop)
		h.mu.Unlock()
	}
	return nil
}

// RouteEvent fans one fired event out to its matching subscriptions: for
// each enabled subscription on the event that passes the system filter and
// the provider's supported-events gate, it records a pending delivery log
// and enqueues a delivery job. Routing performs no network I/O.
func (h *Herald) RouteEvent(ctx context.Context, event model.FiredEvent) error {
	ctx, span := h.tracer.Start(ctx, "herald.route_event")
	defer span.End()

	subscriptions, err := h.datasource.GetSubscriptionsBySubscribedEvent(ctx, event.EventID)
	if err != nil {
		return err
	}

	for _, sub := range subscriptions {
		if !sub.MatchesSystem(event.SystemID()) {
			continue
		}
		if reg, ok := h.providers.Get(sub.ProviderID); ok && !reg.Accepts(event.EventID) {
			continue
		}

		dlog, err := h.datasource.CreateDeliveryLog(ctx, &model.DeliveryLog{
			SubscriptionID: sub.SubscriptionID,
			EventType:      event.EventID,
			EventPayload:   event.Payload,
			Status:         model.StatusPending,
		})
		if err != nil {
			// Routing to the remaining subscriptions still proceeds.
			logrus.WithFields(logrus.Fields{
				"event_id":        event.EventID,
				"subscription_id": sub.SubscriptionID,
			}).Errorf("failed to record delivery log: %v", err)
			continue
		}

		job := model.DeliveryJob{
			LogID:          dlog.LogID,
			SubscriptionID: sub.SubscriptionID,
			ProviderID:     sub.ProviderID,
			ProviderConfig: sub.ProviderConfig,
			EventID:        event.EventID,
			Payload:        event.Payload,
			FiredAt:        event.Timestamp,
		}
		if err := h.enqueueDelivery(ctx, dlog.LogID, job, 0); err != nil {
			logrus.WithField("log_id", dlog.LogID).Errorf("failed to enqueue delivery: %v", err)
		}
	}
	return nil
}

// StartWorker registers the delivery consumer on the in-memory queue. With
// Redis configured, delivery jobs go to the durable queue instead and the
// workers command consumes them; StartWorker is then a no-op.
func (h *Herald) StartWorker() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.workerStarted {
		return nil
	}
	h.workerStarted = true

	if h.redisQueue != nil {
		return nil
	}

	stop, err := h.jobs.Consume(func(ctx context.Context, job *queue.Job[model.DeliveryJob]) error {
		return h.deliver(ctx, job.Payload)
	}, queue.ConsumeOptions{Group: DeliveryWorkerGroup})
	if err != nil {
		return err
	}
	h.listenerStops = append(h.listenerStops, stop)
	return nil
}

// ProcessDeliveryTask adapts deliver to an asynq task handler for the
// workers command.
func (h *Herald) ProcessDeliveryTask(ctx context.Context, task *asynq.Task) error {
	var job model.DeliveryJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return err
	}
	return h.deliver(ctx, job)
}

// deliver executes one delivery attempt. It always returns nil to the queue:
// retries and failure are the coordinator's decision, recorded in the
// delivery log and re-enqueued explicitly so they survive restarts.
func (h *Herald) deliver(ctx context.Context, job model.DeliveryJob) error {
	ctx, span := h.tracer.Start(ctx, "herald.deliver")
	defer span.End()

	dlog, err := h.datasource.GetDeliveryLog(ctx, job.LogID)
	if err != nil {
		logrus.WithField("log_id", job.LogID).Errorf("delivery log lookup failed: %v", err)
		return nil
	}
	if dlog.Status == model.StatusSuccess {
		// A concurrent manual retry can race a queued attempt; delivering
		// twice is the accepted cost, delivering after success is not.
		return nil
	}

	now := time.Now()
	attempts := dlog.Attempts + 1
	if err := h.datasource.UpdateDeliveryLogStatus(ctx, dlog.LogID, database.DeliveryLogUpdate{
		Status:        model.StatusRetrying,
		Attempts:      attempts,
		LastAttemptAt: &now,
		ExternalID:    dlog.ExternalID,
		ErrorMessage:  dlog.ErrorMessage,
	}); err != nil {
		logrus.WithField("log_id", dlog.LogID).Errorf("failed to mark delivery attempt: %v", err)
		return nil
	}

	reg, ok := h.providers.Get(job.ProviderID)
	if !ok {
		h.concludeDelivery(ctx, dlog.LogID, job, attempts, "", fmt.Sprintf("provider %s is not registered", job.ProviderID), true)
		return nil
	}

	var connection map[string]interface{}
	if reg.HasConnection() {
		if h.connections == nil {
			h.concludeDelivery(ctx, dlog.LogID, job, attempts, "", fmt.Sprintf("provider %s requires a connection but no connection store is configured", job.ProviderID), true)
			return nil
		}
		conn, err := h.connections.Get(ctx, job.ProviderID)
		if err != nil {
			h.concludeDelivery(ctx, dlog.LogID, job, attempts, "", fmt.Sprintf("provider %s has no stored connection", job.ProviderID), true)
			return nil
		}
		connection = conn.Values
	}

	result, err := reg.Provider().Deliver(ctx, providers.DeliveryContext{
		EventID:    job.EventID,
		Payload:    job.Payload,
		Timestamp:  job.FiredAt,
		Config:     job.ProviderConfig,
		Connection: connection,
	})
	if err != nil {
		h.concludeDelivery(ctx, dlog.LogID, job, attempts, "", err.Error(), false)
		return nil
	}

	h.concludeDelivery(ctx, dlog.LogID, job, attempts, result.ExternalID, "", false)
	return nil
}

// concludeDelivery applies the post-attempt state transition: success,
// another scheduled retry, or terminal failure. Permanent errors (unknown
// provider, missing connection) skip the retry ladder.
func (h *Herald) concludeDelivery(ctx context.Context, logID string, job model.DeliveryJob, attempts int, externalID, errorMessage string, permanent bool) {
	now := time.Now()

	if errorMessage == "" {
		if err := h.datasource.UpdateDeliveryLogStatus(ctx, logID, database.DeliveryLogUpdate{
			Status:        model.StatusSuccess,
			Attempts:      attempts,
			LastAttemptAt: &now,
			ExternalID:    externalID,
		}); err != nil {
			logrus.WithField("log_id", logID).Errorf("failed to record delivery success: %v", err)
		}
		h.broadcast(ctx, DeliverySucceededSignal, map[string]interface{}{
			"log_id":          logID,
			"subscription_id": job.SubscriptionID,
			"event_id":        job.EventID,
			"external_id":     externalID,
		})
		return
	}

	if !permanent && attempts < MaxDeliveryRetries {
		delay := retryDelay(attempts)
		nextRetry := now.Add(delay)
		if err := h.datasource.UpdateDeliveryLogStatus(ctx, logID, database.DeliveryLogUpdate{
			Status:        model.StatusRetrying,
			Attempts:      attempts,
			LastAttemptAt: &now,
			NextRetryAt:   &nextRetry,
			ErrorMessage:  errorMessage,
		}); err != nil {
			logrus.WithField("log_id", logID).Errorf("failed to schedule delivery retry: %v", err)
			return
		}
		// Attempt-scoped idempotency key: the lineage is still in flight
		// under its previous key.
		taskID := fmt.Sprintf("%s:retry:%d", logID, attempts)
		if err := h.enqueueDelivery(ctx, taskID, job, delay); err != nil {
			logrus.WithField("log_id", logID).Errorf("failed to enqueue delivery retry: %v", err)
		}
		return
	}

	if err := h.datasource.UpdateDeliveryLogStatus(ctx, logID, database.DeliveryLogUpdate{
		Status:        model.StatusFailed,
		Attempts:      attempts,
		LastAttemptAt: &now,
		ErrorMessage:  errorMessage,
	}); err != nil {
		logrus.WithField("log_id", logID).Errorf("failed to record delivery failure: %v", err)
	}
	h.broadcast(ctx, DeliveryFailedSignal, map[string]interface{}{
		"log_id":          logID,
		"subscription_id": job.SubscriptionID,
		"event_id":        job.EventID,
		"error":           errorMessage,
	})
	notification.NotifyDeliveryFailure(notification.DeliveryFailure{
		LogID:          logID,
		SubscriptionID: job.SubscriptionID,
		EventID:        job.EventID,
		Attempts:       attempts,
		Error:          errorMessage,
	})
}

// RetryDelivery resets a failed delivery log and re-enqueues its job for a
// fresh round of attempts. Only failed logs qualify.
func (h *Herald) RetryDelivery(ctx context.Context, logID string) (*model.DeliveryLog, error) {
	dlog, err := h.datasource.GetDeliveryLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if dlog.Status != model.StatusFailed {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState, "Only failed deliveries can be retried", dlog.Status)
	}

	sub, err := h.datasource.GetSubscription(ctx, dlog.SubscriptionID)
	if err != nil {
		return nil, err
	}

	if err := h.datasource.ResetDeliveryLogForRetry(ctx, logID); err != nil {
		return nil, err
	}

	job := model.DeliveryJob{
		LogID:          dlog.LogID,
		SubscriptionID: sub.SubscriptionID,
		ProviderID:     sub.ProviderID,
		ProviderConfig: sub.ProviderConfig,
		EventID:        dlog.EventType,
		Payload:        dlog.EventPayload,
		FiredAt:        dlog.CreatedAt,
	}
	if err := h.enqueueDelivery(ctx, fmt.Sprintf("%s:manual", logID), job, 0); err != nil {
		return nil, err
	}

	return h.datasource.GetDeliveryLog(ctx, logID)
}

func (h *Herald) enqueueDelivery(ctx context.Context, taskID string, job model.DeliveryJob, delay time.Duration) error {
	if h.redisQueue != nil {
		_, err := h.redisQueue.EnqueueDelivery(ctx, taskID, job, delay)
		return err
	}
	_, err := h.jobs.Enqueue(ctx, job, queue.WithJobID(taskID), queue.WithDelay(delay))
	return err
}

func (h *Herald) broadcast(ctx context.Context, signal string, payload map[string]interface{}) {
	h.mu.Lock()
	bus := h.bus
	h.mu.Unlock()

	if bus == nil {
		return
	}
	if err := bus.Broadcast(ctx, signal, payload); err != nil {
		logrus.WithField("signal", signal).Errorf("failed to broadcast delivery signal: %v", err)
	}
}
