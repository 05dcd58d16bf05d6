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

// Package providers holds the delivery provider registry. A provider is a
// plugin-supplied implementation that pushes an integration event to an
// external system (Jira, a generic webhook, ...). Providers register at
// plugin load time under a namespaced ID and are immutable thereafter.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/heraldhq/herald/schema"
)

// PluginMeta identifies the plugin registering a provider.
type PluginMeta struct {
	ID   string
	Name string
}

// DeliveryContext carries everything a provider needs for one attempt.
type DeliveryContext struct {
	EventID   string
	Payload   map[string]interface{}
	Timestamp time.Time
	// Config is the per-subscription provider configuration, already
	// validated against the provider's config schema.
	Config map[string]interface{}
	// Connection holds the site-wide connection values for providers that
	// declare a connection schema; nil otherwise.
	Connection map[string]interface{}
}

// DeliveryResult reports a successful delivery. ExternalID is the
// receiver-assigned correlation ID, when the receiver returns one.
type DeliveryResult struct {
	ExternalID string
}

// Provider is the delivery capability a plugin registers. Deliver returning
// a non-nil error marks the attempt failed and recoverable via retry.
type Provider interface {
	ID() string
	Name() string
	// ConfigSchema declares the per-subscription configuration shape.
	ConfigSchema() *schema.Shape
	// ConnectionSchema declares the site-wide connection shape, or nil if
	// the provider needs none.
	ConnectionSchema() *schema.Shape
	// SupportedEvents is an allow-list of event IDs; nil accepts all.
	SupportedEvents() []string
	Deliver(ctx context.Context, delivery DeliveryContext) (DeliveryResult, error)
	// TestConnection verifies site-wide connection values without
	// performing a delivery.
	TestConnection(ctx context.Context, connection map[string]interface{}) error
}

// Registered is the registry's immutable record of a provider, with the
// structural schemas precomputed at registration.
type Registered struct {
	QualifiedID   string
	OwnerPluginID string
	DisplayName   string

	provider         Provider
	configSchema     map[string]interface{}
	connectionSchema map[string]interface{}
}

// Provider returns the underlying delivery implementation.
func (r *Registered) Provider() Provider { return r.provider }

// ConfigSchema returns the precomputed structural description of the
// per-subscription config.
func (r *Registered) ConfigSchema() map[string]interface{} { return r.configSchema }

// ConnectionSchema returns the precomputed structural description of the
// site-wide connection config, or nil.
func (r *Registered) ConnectionSchema() map[string]interface{} { return r.connectionSchema }

// HasConnection reports whether the provider declares a connection schema.
func (r *Registered) HasConnection() bool { return r.provider.ConnectionSchema() != nil }

// Accepts reports whether the provider accepts the given event ID.
func (r *Registered) Accepts(eventID string) bool {
	supported := r.provider.SupportedEvents()
	if supported == nil {
		return true
	}
	for _, id := range supported {
		if id == eventID {
			return true
		}
	}
	return false
}

// Registry maps qualified provider IDs to registered providers. Same
// lifecycle as the event registry: construct once, populate at plugin load,
// read-only thereafter.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Registered
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*Registered)}
}

// Register stores a provider under "{ownerPluginID}.{providerID}".
// Registering the same qualified ID twice overwrites the earlier entry.
func (r *Registry) Register(p Provider, owner PluginMeta) (*Registered, error) {
	if owner.ID == "" {
		return nil, fmt.Errorf("provider registration requires an owner plugin ID")
	}
	if p == nil || p.ID() == "" {
		return nil, fmt.Errorf("provider registration requires a provider ID")
	}
	if p.ConfigSchema() == nil {
		return nil, fmt.Errorf("provider %s declares no config schema", p.ID())
	}

	reg := &Registered{
		QualifiedID:   fmt.Sprintf("%s.%s", owner.ID, p.ID()),
		OwnerPluginID: owner.ID,
		DisplayName:   p.Name(),
		provider:      p,
		configSchema:  p.ConfigSchema().JSONSchema(),
	}
	if cs := p.ConnectionSchema(); cs != nil {
		reg.connectionSchema = cs.JSONSchema()
	}

	r.mu.Lock()
	r.providers[reg.QualifiedID] = reg
	r.mu.Unlock()
	return reg, nil
}

// Get returns the provider registered under qualifiedID.
func (r *Registry) Get(qualifiedID string) (*Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[qualifiedID]
	return reg, ok
}

// Has reports whether qualifiedID is registered.
func (r *Registry) Has(qualifiedID string) bool {
	_, ok := r.Get(qualifiedID)
	return ok
}

// List returns all registered providers sorted by qualified ID.
func (r *Registry) List() []*Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Registered, 0, len(r.providers))
	for _, reg := range r.providers {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedID < out[j].QualifiedID })
	return out
}
