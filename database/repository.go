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

package database

import (
	"context"
	"time"

	"github.com/heraldhq/herald/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	subscription // Interface for subscription-related operations
	deliveryLog  // Interface for delivery log operations
}

// subscription defines methods for handling subscriptions.
type subscription interface {
	CreateSubscription(ctx context.Context, sub *model.Subscription) (*model.Subscription, error)         // Creates a new subscription
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)                          // Retrieves a subscription by ID
	GetAllSubscriptions(ctx context.Context, limit, offset int) ([]*model.Subscription, int64, error)     // Retrieves subscriptions with the total count
	UpdateSubscription(ctx context.Context, sub *model.Subscription) error                                // Updates a subscription
	ToggleSubscription(ctx context.Context, id string) (*model.Subscription, error)                       // Flips the enabled flag
	DeleteSubscription(ctx context.Context, id string) error                                              // Deletes a subscription and cascades its logs
	GetSubscriptionsBySubscribedEvent(ctx context.Context, eventID string) ([]*model.Subscription, error) // Retrieves enabled subscriptions on an event, for routing
}

// deliveryLog defines methods for handling delivery logs.
type deliveryLog interface {
	CreateDeliveryLog(ctx context.Context, dlog *model.DeliveryLog) (*model.DeliveryLog, error)                               // Records a new delivery log
	GetDeliveryLog(ctx context.Context, id string) (*model.DeliveryLog, error)                                                // Retrieves a delivery log by ID
	GetAllDeliveryLogs(ctx context.Context, filter DeliveryLogFilter, limit, offset int) ([]*model.DeliveryLog, int64, error) // Retrieves delivery logs with the total count
	UpdateDeliveryLogStatus(ctx context.Context, id string, update DeliveryLogUpdate) error                                   // Updates the delivery state of a log
	ResetDeliveryLogForRetry(ctx context.Context, id string) error                                                            // Resets a failed log to pending for a manual retry
	GetDeliveryStats(ctx context.Context) (*model.DeliveryStats, error)                                                       // Aggregates log counts per status
}

// DeliveryLogFilter narrows delivery log listings. Zero values match all.
type DeliveryLogFilter struct {
	SubscriptionID string
	Status         string
}

// DeliveryLogUpdate carries the delivery-state columns a worker writes after
// an attempt. Nil time pointers clear the column.
type DeliveryLogUpdate struct {
	Status        string
	Attempts      int
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	ExternalID    string
	ErrorMessage  string
}
