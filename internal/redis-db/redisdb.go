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

package redis_db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps a Redis client used by the connection store and the durable
// queue backend.
type Redis struct {
	address string
	client  redis.UniversalClient
}

// ParseRedisURL parses a Redis URL into Redis options, handling plain
// docker-style addresses, redis:// URLs with passwords, and managed-cache
// hosts that require TLS.
func ParseRedisURL(rawURL string, skipTLSVerify bool) (*redis.Options, error) {
	// Don't modify docker-style addresses (e.g. redis:6379)
	if strings.Count(rawURL, ":") == 1 && !strings.Contains(rawURL, "@") && !strings.Contains(rawURL, "//") {
		opts := &redis.Options{
			Addr: rawURL,
		}
		if strings.Contains(rawURL, "redis.cache.windows.net") {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		return opts, nil
	}

	// Handle URLs that have redis:// prefix with password but no colon
	if strings.HasPrefix(rawURL, "redis://") && strings.Contains(rawURL, "@") {
		parts := strings.Split(strings.TrimPrefix(rawURL, "redis://"), "@")
		if len(parts) == 2 {
			authParts := strings.Split(parts[0], ":")
			if len(authParts) == 1 {
				// No username, just password
				rawURL = fmt.Sprintf("redis://:%s@%s", parts[0], parts[1])
			}
		}
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		// If ParseURL fails, fall back to manual parsing
		host := rawURL
		var password string

		if strings.Contains(rawURL, "@") {
			parts := strings.Split(rawURL, "@")
			if len(parts) == 2 {
				password = strings.TrimPrefix(parts[0], "redis://")
				host = parts[1]
			}
		}

		opts = &redis.Options{
			Addr:     host,
			Password: password,
			DB:       0,
		}
	}

	if opts.TLSConfig != nil && skipTLSVerify {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: skipTLSVerify,
		}
	}

	return opts, nil
}

// NewRedisClient creates a Redis client from a single address and verifies
// the connection with a short ping.
//
// Parameters:
// - address string: The Redis address or URL.
// - skipTLSVerify bool: Whether to skip TLS certificate verification.
//
// Returns:
// - *Redis: A new Redis client wrapper.
// - error: An error if the address is invalid or the connection fails.
func NewRedisClient(address string, skipTLSVerify bool) (*Redis, error) {
	if address == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	opts, err := ParseRedisURL(address, skipTLSVerify)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	return &Redis{address: address, client: client}, nil
}

// Client returns the Redis universal client.
// It can be used directly for Redis operations like Get, Set, or Publish.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// MakeRedisClient returns the Redis client interface, allowing compatibility
// with other packages or tools.
func (r *Redis) MakeRedisClient() interface{} {
	return r.client
}
