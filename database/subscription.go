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
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/heraldhq/herald/internal/apierror"
	"github.com/heraldhq/herald/model"
)

func (d Datasource) CreateSubscription(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	configJSON, err := json.Marshal(sub.ProviderConfig)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal provider config", err)
	}

	sub.SubscriptionID = model.GenerateUUIDWithSuffix("sub")
	sub.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO subscriptions (subscription_id, name, provider_id, provider_config, event_id, system_filter, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sub.SubscriptionID, sub.Name, sub.ProviderID, configJSON, sub.EventID, pq.Array(sub.SystemFilter), sub.Enabled, sub.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Subscription with this ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create subscription", err)
	}

	return sub, nil
}

func (d Datasource) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT subscription_id, name, provider_id, provider_config, event_id, system_filter, enabled, created_at
		FROM subscriptions
		WHERE subscription_id = $1
	`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", id)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve subscription", err)
	}
	return sub, nil
}

func (d Datasource) GetAllSubscriptions(ctx context.Context, limit, offset int) ([]*model.Subscription, int64, error) {
	var total int64
	err := d.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&total)
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count subscriptions", err)
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT subscription_id, name, provider_id, provider_config, event_id, system_filter, enabled, created_at
		FROM subscriptions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve subscriptions", err)
	}
	defer rows.Close()

	subscriptions := []*model.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan subscription data", err)
		}
		subscriptions = append(subscriptions, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over subscriptions", err)
	}

	return subscriptions, total, nil
}

func (d Datasource) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	configJSON, err := json.Marshal(sub.ProviderConfig)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal provider config", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE subscriptions
		SET name = $2, provider_id = $3, provider_config = $4, event_id = $5, system_filter = $6, enabled = $7
		WHERE subscription_id = $1
	`, sub.SubscriptionID, sub.Name, sub.ProviderID, configJSON, sub.EventID, pq.Array(sub.SystemFilter), sub.Enabled)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update subscription", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", sub.SubscriptionID)
	}
	return nil
}

func (d Datasource) ToggleSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	row := d.Conn.QueryRowContext(ctx, `
		UPDATE subscriptions
		SET enabled = NOT enabled
		WHERE subscription_id = $1
		RETURNING subscription_id, name, provider_id, provider_config, event_id, system_filter, enabled, created_at
	`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", id)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to toggle subscription", err)
	}
	return sub, nil
}

// DeleteSubscription removes a subscription. Its delivery logs go with it
// through the foreign key cascade.
func (d Datasource) DeleteSubscription(ctx context.Context, id string) error {
	result, err := d.Conn.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE subscription_id = $1
	`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete subscription", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read delete result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", id)
	}
	return nil
}

// GetSubscriptionsBySubscribedEvent returns the enabled subscriptions bound
// to eventID, in creation order. This is the routing query.
func (d Datasource) GetSubscriptionsBySubscribedEvent(ctx context.Context, eventID string) ([]*model.Subscription, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT subscription_id, name, provider_id, provider_config, event_id, system_filter, enabled, created_at
		FROM subscriptions
		WHERE event_id = $1 AND enabled
		ORDER BY created_at ASC
	`, eventID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve subscriptions for event", err)
	}
	defer rows.Close()

	subscriptions := []*model.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan subscription data", err)
		}
		subscriptions = append(subscriptions, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over subscriptions", err)
	}

	return subscriptions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	sub := model.Subscription{}
	var configJSON []byte
	err := row.Scan(&sub.SubscriptionID, &sub.Name, &sub.ProviderID, &configJSON, &sub.EventID, pq.Array(&sub.SystemFilter), &sub.Enabled, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(configJSON, &sub.ProviderConfig); err != nil {
		return nil, err
	}
	return &sub, nil
}
