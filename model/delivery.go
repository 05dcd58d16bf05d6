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

package model

import "time"

const (
	StatusPending  = "pending"
	StatusRetrying = "retrying"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
)

// DeliveryLog is the persisted record for one (subscription, event
// occurrence) delivery lineage. The payload is a snapshot taken when the
// event fired and is never re-read from the source. Attempts is kept in
// lockstep with queue re-enqueues: every failing dequeue increments it
// before the retry decision.
type DeliveryLog struct {
	LogID          string                 `json:"log_id"`
	SubscriptionID string                 `json:"subscription_id"`
	EventType      string                 `json:"event_type"`
	EventPayload   map[string]interface{} `json:"event_payload"`
	Status         string                 `json:"status"`
	Attempts       int                    `json:"attempts"`
	LastAttemptAt  *time.Time             `json:"last_attempt_at,omitempty"`
	NextRetryAt    *time.Time             `json:"next_retry_at,omitempty"`
	ExternalID     string                 `json:"external_id,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// IsTerminal reports whether the log reached a terminal status. A failed log
// may still be reset to pending through a manual retry.
func (l *DeliveryLog) IsTerminal() bool {
	return l.Status == StatusSuccess || l.Status == StatusFailed
}

// DeliveryJob is the queue payload for one delivery attempt lineage. It
// carries everything the worker needs so delivery never re-reads the
// subscription's event binding at execution time.
type DeliveryJob struct {
	LogID          string                 `json:"log_id"`
	SubscriptionID string                 `json:"subscription_id"`
	ProviderID     string                 `json:"provider_id"`
	ProviderConfig map[string]interface{} `json:"provider_config"`
	EventID        string                 `json:"event_id"`
	Payload        map[string]interface{} `json:"payload"`
	FiredAt        time.Time              `json:"fired_at"`
}

// FiredEvent is an occurrence of a registered integration event.
type FiredEvent struct {
	EventID   string                 `json:"event_id"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// SystemID extracts the domain-entity identifier referenced by the payload,
// used by subscription system filters. Empty when the payload carries none.
func (e FiredEvent) SystemID() string {
	if e.Payload == nil {
		return ""
	}
	if id, ok := e.Payload["system_id"].(string); ok {
		return id
	}
	return ""
}

// DeliveryStats aggregates delivery log counts per status.
type DeliveryStats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Retrying int64 `json:"retrying"`
	Success  int64 `json:"success"`
	Failed   int64 `json:"failed"`
}
