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

// Subscription is an admin-created routing rule binding a registered
// integration event to a registered delivery provider. A disabled
// subscription is skipped during routing but keeps its delivery logs.
type Subscription struct {
	SubscriptionID string                 `json:"subscription_id"`
	Name           string                 `json:"name"`
	ProviderID     string                 `json:"provider_id"`
	ProviderConfig map[string]interface{} `json:"provider_config"`
	EventID        string                 `json:"event_id"`
	SystemFilter   []string               `json:"system_filter,omitempty"`
	Enabled        bool                   `json:"enabled"`
	CreatedAt      time.Time              `json:"created_at"`
}

// MatchesSystem reports whether an event referencing systemID passes this
// subscription's system filter. An empty filter matches every system.
func (s *Subscription) MatchesSystem(systemID string) bool {
	if len(s.SystemFilter) == 0 {
		return true
	}
	for _, id := range s.SystemFilter {
		if id == systemID {
			return true
		}
	}
	return false
}
