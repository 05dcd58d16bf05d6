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

// Package database is the postgres persistence layer for subscriptions and
// delivery logs. Callers depend on IDataSource; Datasource is the lib/pq
// implementation.
package database

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/heraldhq/herald/config"
)

var instance *Datasource
var once sync.Once

// Datasource is the postgres-backed implementation of IDataSource.
type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and
// initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens the postgres connection, pinging with bounded exponential
// backoff so a database still starting does not fail the process, then
// bootstraps the tables.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	err = backoff.Retry(func() error {
		if pingErr := db.Ping(); pingErr != nil {
			log.Printf("database connection error ❌: %v", pingErr)
			return pingErr
		}
		return nil
	}, policy)
	if err != nil {
		return nil, errors.Wrap(err, "database unreachable")
	}

	if err := CreateTables(db); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateTables bootstraps the schema. Also run by the migrate command.
func CreateTables(db *sql.DB) error {
	if err := createSubscriptionTable(db); err != nil {
		return err
	}
	if err := createDeliveryLogTable(db); err != nil {
		return err
	}
	return nil
}

// createSubscriptionTable creates the PostgreSQL table for Subscription
func createSubscriptionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS subscriptions (
			id SERIAL PRIMARY KEY,
			subscription_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			provider_config JSONB NOT NULL,
			event_id TEXT NOT NULL,
			system_filter TEXT[],
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to create subscriptions table")
	}
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_subscriptions_event_id
		ON subscriptions (event_id) WHERE enabled
	`)
	return errors.Wrap(err, "failed to create subscriptions index")
}

// createDeliveryLogTable creates the PostgreSQL table for DeliveryLog
func createDeliveryLogTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS delivery_logs (
			id SERIAL PRIMARY KEY,
			log_id TEXT NOT NULL UNIQUE,
			subscription_id TEXT NOT NULL REFERENCES subscriptions(subscription_id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			event_payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'retrying', 'success', 'failed')),
			attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt_at TIMESTAMP,
			next_retry_at TIMESTAMP,
			external_id TEXT,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to create delivery_logs table")
	}
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_delivery_logs_subscription_status
		ON delivery_logs (subscription_id, status)
	`)
	return errors.Wrap(err, "failed to create delivery_logs index")
}
