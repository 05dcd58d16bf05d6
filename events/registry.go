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

// Package events holds the integration event registry. Plugins register
// their domain hooks as namespaced integration events at load time; after
// load the registry is read-only and safe for concurrent lookups.
package events

import (
	"fmt"
	"sort"
	"sync"

	"github.com/heraldhq/herald/schema"
)

// DefaultCategory buckets events registered without a category.
const DefaultCategory = "Uncategorized"

// PluginMeta identifies the plugin registering an event or provider.
type PluginMeta struct {
	ID   string
	Name string
}

// Definition is a plugin's declaration of an integration event bound to one
// of its internal domain hooks.
type Definition struct {
	// Hook is the plugin-local domain hook identifier.
	Hook        string
	DisplayName string
	Description string
	Category    string
	// PayloadShape describes the event payload for validation and UI
	// preview.
	PayloadShape *schema.Shape
	// TransformPayload, when set, is applied to the raw hook payload
	// before any subscription sees the event.
	TransformPayload func(map[string]interface{}) map[string]interface{}
}

// Event is the registered, immutable form of a definition. The event ID is
// globally unique: "{ownerPluginID}.{hookID}".
type Event struct {
	EventID       string                 `json:"event_id"`
	Hook          string                 `json:"-"`
	OwnerPluginID string                 `json:"owner_plugin_id"`
	DisplayName   string                 `json:"display_name"`
	Description   string                 `json:"description,omitempty"`
	Category      string                 `json:"category"`
	PayloadSchema map[string]interface{} `json:"payload_schema,omitempty"`

	transform func(map[string]interface{}) map[string]interface{}
}

// Transform applies the event's payload transform, if any.
func (e *Event) Transform(payload map[string]interface{}) map[string]interface{} {
	if e.transform == nil {
		return payload
	}
	return e.transform(payload)
}

// Registry maps event IDs to registered events. Construct once, populate
// during plugin load, read thereafter; it is passed by reference to every
// component that needs it rather than living as ambient global state.
type Registry struct {
	mu     sync.RWMutex
	events map[string]*Event
}

func NewRegistry() *Registry {
	return &Registry{events: make(map[string]*Event)}
}

// Register stores a definition under its computed event ID. Registering the
// same event ID twice overwrites the earlier entry; callers register exactly
// once at plugin load.
func (r *Registry) Register(def Definition, owner PluginMeta) (*Event, error) {
	if owner.ID == "" {
		return nil, fmt.Errorf("event registration requires an owner plugin ID")
	}
	if def.Hook == "" {
		return nil, fmt.Errorf("event registration requires a hook ID")
	}

	category := def.Category
	if category == "" {
		category = DefaultCategory
	}

	evt := &Event{
		EventID:       fmt.Sprintf("%s.%s", owner.ID, def.Hook),
		Hook:          def.Hook,
		OwnerPluginID: owner.ID,
		DisplayName:   def.DisplayName,
		Description:   def.Description,
		Category:      category,
		transform:     def.TransformPayload,
	}
	if def.PayloadShape != nil {
		evt.PayloadSchema = def.PayloadShape.JSONSchema()
	}

	r.mu.Lock()
	r.events[evt.EventID] = evt
	r.mu.Unlock()
	return evt, nil
}

// Get returns the event registered under eventID.
func (r *Registry) Get(eventID string) (*Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	evt, ok := r.events[eventID]
	return evt, ok
}

// Has reports whether eventID is registered.
func (r *Registry) Has(eventID string) bool {
	_, ok := r.Get(eventID)
	return ok
}

// List returns all registered events sorted by event ID.
func (r *Registry) List() []*Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Event, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

// ListByCategory groups registered events by their declared category.
func (r *Registry) ListByCategory() map[string][]*Event {
	grouped := make(map[string][]*Event)
	for _, evt := range r.List() {
		grouped[evt.Category] = append(grouped[evt.Category], evt)
	}
	return grouped
}
