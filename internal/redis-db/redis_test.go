package redis_db

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected *redis.Options
		wantErr  bool
	}{
		{
			name: "simple docker style",
			url:  "redis:6379",
			expected: &redis.Options{
				Addr: "redis:6379",
			},
			wantErr: false,
		},
		{
			name: "redis url with password",
			url:  "redis://:password123@localhost:6379",
			expected: &redis.Options{
				Addr:     "localhost:6379",
				Password: "password123",
			},
			wantErr: false,
		},
		{
			name: "azure redis url",
			url:  "myinstance.redis.cache.windows.net:6380",
			expected: &redis.Options{
				Addr: "myinstance.redis.cache.windows.net:6380",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRedisURL(tt.url, false)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected.Addr, got.Addr)
			assert.Equal(t, tt.expected.Password, got.Password)
		})
	}
}

func TestParseRedisURLAzureTLS(t *testing.T) {
	opts, err := ParseRedisURL("myinstance.redis.cache.windows.net:6380", false)
	require.NoError(t, err)
	assert.NotNil(t, opts.TLSConfig)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := NewRedisClient(mr.Addr(), false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, client.Client().Set(ctx, "key", "value", 0).Err())

	_, err = NewRedisClient("", false)
	assert.Error(t, err)
}
