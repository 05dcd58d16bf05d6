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

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/heraldhq/herald/config"
	redis_db "github.com/heraldhq/herald/internal/redis-db"
	"github.com/heraldhq/herald/model"
)

// RedisQueue is the durable alternative to the in-memory engine for the
// delivery work-queue. Backed by Redis, it gives the competing-consumer
// guarantee across backend instances: each delivery job is processed by
// exactly one worker cluster-wide. Delivery retries stay with the
// coordinator (MaxRetry is pinned to 0), so the delivery log remains the
// single source of retry state.
type RedisQueue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewRedisQueue initializes a Redis-backed delivery queue from the provided
// configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *RedisQueue: A pointer to the newly created RedisQueue instance.
// - error: An error if the Redis URL could not be parsed.
func NewRedisQueue(conf *config.Configuration) (*RedisQueue, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &RedisQueue{
		Client:    client,
		Inspector: inspector,
	}, nil
}

// EnqueueDelivery enqueues a delivery job to the Redis-backed delivery
// queue. The task ID is the caller's idempotency key: enqueueing the same ID
// while a task with it is still queued is a no-op. Routing uses the log ID,
// worker retries use attempt-scoped IDs so a handler can re-enqueue its own
// lineage while still in flight.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - taskID string: The idempotency key for the enqueued task.
// - job model.DeliveryJob: The delivery job to enqueue.
// - delay time.Duration: How long until the job becomes eligible.
//
// Returns:
// - string: The task ID used for the enqueued job.
// - error: An error if the job could not be enqueued.
func (q *RedisQueue) EnqueueDelivery(ctx context.Context, taskID string, job model.DeliveryJob, delay time.Duration) (string, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(taskID),
		asynq.Queue(cfg.Queue.DeliveryQueue),
		asynq.MaxRetry(0),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(cfg.Queue.DeliveryQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// Already queued for this delivery lineage.
			return taskID, nil
		}
		log.Println(err, info)
		return "", err
	}
	log.Printf(" [*] Successfully enqueued delivery: %+v", job.LogID)
	return info.ID, nil
}

// GetDeliveryJobFromQueue retrieves a queued delivery job by its task ID.
//
// Parameters:
// - taskID string: The ID of the delivery task to retrieve.
//
// Returns:
// - *model.DeliveryJob: A pointer to the DeliveryJob if found.
// - error: An error if the job could not be retrieved.
func (q *RedisQueue) GetDeliveryJobFromQueue(taskID string) (*model.DeliveryJob, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	task, err := q.Inspector.GetTaskInfo(cfg.Queue.DeliveryQueue, taskID)
	if err != nil || task == nil {
		// Not found in the queue; it may already be in flight or done.
		return nil, nil
	}

	var job model.DeliveryJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Stats reports queue counters from the Redis backend in the same shape the
// in-memory engine uses.
func (q *RedisQueue) Stats() (Stats, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return Stats{}, err
	}

	info, err := q.Inspector.GetQueueInfo(cfg.Queue.DeliveryQueue)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:        info.Pending + info.Scheduled + info.Retry,
		Processing:     info.Active,
		Completed:      info.Processed - info.Failed,
		Failed:         info.Failed,
		ConsumerGroups: []string{cfg.Queue.DeliveryQueue},
	}, nil
}
