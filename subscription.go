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

	"github.com/heraldhq/herald/database"
	"github.com/heraldhq/herald/internal/apierror"
	"github.com/heraldhq/herald/model"
	"github.com/heraldhq/herald/providers"
)

// CreateSubscription validates and persists a routing rule. The provider and
// event must be registered, and the provider config must satisfy the
// provider's config schema.
func (h *Herald) CreateSubscription(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	if err := h.validateSubscription(sub); err != nil {
		return nil, err
	}
	return h.datasource.CreateSubscription(ctx, sub)
}

// GetSubscription retrieves a subscription by ID.
func (h *Herald) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	return h.datasource.GetSubscription(ctx, id)
}

// ListSubscriptions retrieves subscriptions with the total count.
func (h *Herald) ListSubscriptions(ctx context.Context, limit, offset int) ([]*model.Subscription, int64, error) {
	return h.datasource.GetAllSubscriptions(ctx, limit, offset)
}

// UpdateSubscription validates and persists changes to a subscription.
func (h *Herald) UpdateSubscription(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	if err := h.validateSubscription(sub); err != nil {
		return nil, err
	}
	if err := h.datasource.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ToggleSubscription flips a subscription's enabled flag. A disabled
// subscription is skipped during routing but keeps its delivery logs.
func (h *Herald) ToggleSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	return h.datasource.ToggleSubscription(ctx, id)
}

// DeleteSubscription removes a subscription and, through the datasource
// cascade, its delivery logs.
func (h *Herald) DeleteSubscription(ctx context.Context, id string) error {
	return h.datasource.DeleteSubscription(ctx, id)
}

// GetDeliveryLog retrieves a delivery log by ID.
func (h *Herald) GetDeliveryLog(ctx context.Context, id string) (*model.DeliveryLog, error) {
	return h.datasource.GetDeliveryLog(ctx, id)
}

// ListDeliveryLogs retrieves delivery logs matching the filter, with the
// total count.
func (h *Herald) ListDeliveryLogs(ctx context.Context, filter database.DeliveryLogFilter, limit, offset int) ([]*model.DeliveryLog, int64, error) {
	return h.datasource.GetAllDeliveryLogs(ctx, filter, limit, offset)
}

// GetDeliveryStats aggregates delivery log counts per status.
func (h *Herald) GetDeliveryStats(ctx context.Context) (*model.DeliveryStats, error) {
	return h.datasource.GetDeliveryStats(ctx)
}

// TestProviderConnection verifies a provider's site-wide connection without
// performing a delivery. With no explicit values, the stored connection is
// tested.
func (h *Herald) TestProviderConnection(ctx context.Context, providerID string, values map[string]interface{}) error {
	reg, ok := h.providers.Get(providerID)
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Provider not found", providerID)
	}
	if !reg.HasConnection() {
		return apierror.NewAPIError(apierror.ErrInvalidConfiguration, "Provider declares no connection schema", providerID)
	}

	if values == nil {
		if h.connections == nil {
			return apierror.NewAPIError(apierror.ErrInvalidConfiguration, "No connection store is configured", providerID)
		}
		conn, err := h.connections.Get(ctx, providerID)
		if err != nil {
			return err
		}
		values = conn.Values
	}

	if err := reg.Provider().TestConnection(ctx, values); err != nil {
		return apierror.NewAPIError(apierror.ErrProviderUnavailable, "Provider connection test failed", err.Error())
	}
	return nil
}

func (h *Herald) validateSubscription(sub *model.Subscription) error {
	if !h.events.Has(sub.EventID) {
		return apierror.NewAPIError(apierror.ErrNotFound, "Event not found", sub.EventID)
	}

	var reg *providers.Registered
	reg, ok := h.providers.Get(sub.ProviderID)
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Provider not found", sub.ProviderID)
	}
	if !reg.Accepts(sub.EventID) {
		return apierror.NewAPIError(apierror.ErrInvalidConfiguration, "Provider does not support this event", sub.EventID)
	}

	if err := reg.Provider().ConfigSchema().Validate(sub.ProviderConfig); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidConfiguration, "Provider config failed schema validation", err.Error())
	}
	return nil
}
