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

// Package connections stores site-wide provider connections (API tokens,
// instance URLs) in Redis. Reads come in two flavors: full values for
// delivery, and redacted values with secret fields stripped for the admin
// surface.
package connections

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heraldhq/herald/internal/apierror"
	"github.com/heraldhq/herald/providers"
)

const connectionKeyPrefix = "connections"

// Connection is a stored site-wide provider connection.
type Connection struct {
	ProviderID string                 `json:"provider_id"`
	Values     map[string]interface{} `json:"values"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Store persists provider connections keyed by qualified provider ID.
type Store struct {
	client   redis.UniversalClient
	registry *providers.Registry
}

// NewStore creates a Redis-backed connection store bound to the provider
// registry it validates against.
func NewStore(client redis.UniversalClient, registry *providers.Registry) *Store {
	return &Store{client: client, registry: registry}
}

func connectionKey(providerID string) string {
	return fmt.Sprintf("%s:%s", connectionKeyPrefix, providerID)
}

// Set validates and stores connection values for a provider. Secret fields
// omitted from the new values are carried over from the stored connection,
// so a redacted read can be edited and submitted back unchanged.
func (s *Store) Set(ctx context.Context, providerID string, values map[string]interface{}) (*Connection, error) {
	reg, ok := s.registry.Get(providerID)
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Provider not found", providerID)
	}
	shape := reg.Provider().ConnectionSchema()
	if shape == nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidConfiguration, "Provider declares no connection schema", providerID)
	}

	existing, err := s.load(ctx, providerID)
	if err != nil && err != redis.Nil {
		return nil, err
	}

	if values == nil {
		values = map[string]interface{}{}
	}
	if existing != nil {
		for _, secret := range shape.SecretFields() {
			if _, present := values[secret]; !present {
				if prev, ok := existing.Values[secret]; ok {
					values[secret] = prev
				}
			}
		}
	}

	if err := shape.Validate(values); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidConfiguration, "Connection config failed schema validation", err.Error())
	}

	conn := &Connection{
		ProviderID: providerID,
		Values:     values,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if existing != nil {
		conn.CreatedAt = existing.CreatedAt
	}

	data, err := json.Marshal(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connection: %w", err)
	}
	if err := s.client.Set(ctx, connectionKey(providerID), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to store connection: %w", err)
	}
	return conn, nil
}

// Get retrieves the full connection values for a provider, including
// secrets. Intended for delivery-time use only.
func (s *Store) Get(ctx context.Context, providerID string) (*Connection, error) {
	conn, err := s.load(ctx, providerID)
	if err == redis.Nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Connection not found", providerID)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// GetRedacted retrieves connection values with secret fields stripped, for
// the admin surface.
func (s *Store) GetRedacted(ctx context.Context, providerID string) (*Connection, error) {
	conn, err := s.Get(ctx, providerID)
	if err != nil {
		return nil, err
	}

	reg, ok := s.registry.Get(providerID)
	if ok {
		if shape := reg.Provider().ConnectionSchema(); shape != nil {
			for _, secret := range shape.SecretFields() {
				delete(conn.Values, secret)
			}
		}
	}
	return conn, nil
}

// Delete removes a provider's stored connection.
func (s *Store) Delete(ctx context.Context, providerID string) error {
	deleted, err := s.client.Del(ctx, connectionKey(providerID)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Connection not found", providerID)
	}
	return nil
}

func (s *Store) load(ctx context.Context, providerID string) (*Connection, error) {
	data, err := s.client.Get(ctx, connectionKey(providerID)).Bytes()
	if err != nil {
		return nil, err
	}

	var conn Connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection: %w", err)
	}
	return &conn, nil
}
