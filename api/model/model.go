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

// Package model holds the API request shapes and their validation rules.
// Structural validation lives here; provider config schemas are enforced one
// layer down by the service.
package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/heraldhq/herald/model"
)

// CreateSubscription is the request body for creating or replacing a
// subscription.
type CreateSubscription struct {
	Name           string                 `json:"name"`
	ProviderID     string                 `json:"provider_id"`
	ProviderConfig map[string]interface{} `json:"provider_config"`
	EventID        string                 `json:"event_id"`
	SystemFilter   []string               `json:"system_filter"`
	Enabled        *bool                  `json:"enabled"`
}

func (s *CreateSubscription) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Name, validation.Required, validation.Length(1, 140)),
		validation.Field(&s.ProviderID, validation.Required),
		validation.Field(&s.EventID, validation.Required),
	)
}

// ToSubscription converts the request to the domain model. Subscriptions are
// enabled unless the request says otherwise.
func (s *CreateSubscription) ToSubscription() *model.Subscription {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	config := s.ProviderConfig
	if config == nil {
		config = map[string]interface{}{}
	}
	return &model.Subscription{
		Name:           s.Name,
		ProviderID:     s.ProviderID,
		ProviderConfig: config,
		EventID:        s.EventID,
		SystemFilter:   s.SystemFilter,
		Enabled:        enabled,
	}
}

// UpsertConnection is the request body for storing a provider connection.
type UpsertConnection struct {
	Values map[string]interface{} `json:"values"`
}

func (u *UpsertConnection) Validate() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Values, validation.Required),
	)
}

// TestConnection is the request body for testing a provider connection.
// Values are optional; without them the stored connection is tested.
type TestConnection struct {
	Values map[string]interface{} `json:"values"`
}
