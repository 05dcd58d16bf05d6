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

func (d Datasource) CreateDeliveryLog(ctx context.Context, dlog *model.DeliveryLog) (*model.DeliveryLog, error) {
	payloadJSON, err := json.Marshal(dlog.EventPayload)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal event payload", err)
	}

	if dlog.LogID == "" {
		dlog.LogID = model.GenerateUUIDWithSuffix("dlog")
	}
	if dlog.Status == "" {
		dlog.Status = model.StatusPending
	}
	dlog.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO delivery_logs (log_id, subscription_id, event_type, event_payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, dlog.LogID, dlog.SubscriptionID, dlog.EventType, payloadJSON, dlog.Status, dlog.Attempts, dlog.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return nil, apierror.NewAPIError(apierror.ErrConflict, "Delivery log with this ID already exists", err)
			case "foreign_key_violation":
				return nil, apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found for delivery log", err)
			}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create delivery log", err)
	}

	return dlog, nil
}

func (d Datasource) GetDeliveryLog(ctx context.Context, id string) (*model.DeliveryLog, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT log_id, subscription_id, event_type, event_payload, status, attempts, last_attempt_at, next_retry_at, external_id, error_message, created_at
		FROM delivery_logs
		WHERE log_id = $1
	`, id)

	dlog, err := scanDeliveryLog(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Delivery log not found", id)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve delivery log", err)
	}
	return dlog, nil
}

func (d Datasource) GetAllDeliveryLogs(ctx context.Context, filter DeliveryLogFilter, limit, offset int) ([]*model.DeliveryLog, int64, error) {
	// Empty filter fields match every row, so one query covers all listings.
	var total int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM delivery_logs
		WHERE ($1 = '' OR subscription_id = $1) AND ($2 = '' OR status = $2)
	`, filter.SubscriptionID, filter.Status).Scan(&total)
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count delivery logs", err)
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT log_id, subscription_id, event_type, event_payload, status, attempts, last_attempt_at, next_retry_at, external_id, error_message, created_at
		FROM delivery_logs
		WHERE ($1 = '' OR subscription_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, filter.SubscriptionID, filter.Status, limit, offset)
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve delivery logs", err)
	}
	defer rows.Close()

	logs := []*model.DeliveryLog{}
	for rows.Next() {
		dlog, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan delivery log data", err)
		}
		logs = append(logs, dlog)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over delivery logs", err)
	}

	return logs, total, nil
}

func (d Datasource) UpdateDeliveryLogStatus(ctx context.Context, id string, update DeliveryLogUpdate) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE delivery_logs
		SET status = $2, attempts = $3, last_attempt_at = $4, next_retry_at = $5, external_id = $6, error_message = $7
		WHERE log_id = $1
	`, id, update.Status, update.Attempts, update.LastAttemptAt, update.NextRetryAt, nullString(update.ExternalID), nullString(update.ErrorMessage))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update delivery log", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Delivery log not found", id)
	}
	return nil
}

// ResetDeliveryLogForRetry returns a failed log to pending with a clean
// attempt state. Only failed logs qualify; resetting anything else reports
// the log's current status.
func (d Datasource) ResetDeliveryLogForRetry(ctx context.Context, id string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE delivery_logs
		SET status = $2, attempts = 0, last_attempt_at = NULL, next_retry_at = NULL, error_message = NULL
		WHERE log_id = $1 AND status = $3
	`, id, model.StatusPending, model.StatusFailed)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset delivery log", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read reset result", err)
	}
	if affected == 0 {
		dlog, getErr := d.GetDeliveryLog(ctx, id)
		if getErr != nil {
			return getErr
		}
		return apierror.NewAPIError(apierror.ErrInvalidState, "Only failed deliveries can be retried", dlog.Status)
	}
	return nil
}

func (d Datasource) GetDeliveryStats(ctx context.Context) (*model.DeliveryStats, error) {
	stats := model.DeliveryStats{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'retrying'),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM delivery_logs
	`).Scan(&stats.Total, &stats.Pending, &stats.Retrying, &stats.Success, &stats.Failed)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to aggregate delivery stats", err)
	}
	return &stats, nil
}

func scanDeliveryLog(row rowScanner) (*model.DeliveryLog, error) {
	dlog := model.DeliveryLog{}
	var payloadJSON []byte
	var lastAttemptAt, nextRetryAt sql.NullTime
	var externalID, errorMessage sql.NullString

	err := row.Scan(&dlog.LogID, &dlog.SubscriptionID, &dlog.EventType, &payloadJSON, &dlog.Status, &dlog.Attempts,
		&lastAttemptAt, &nextRetryAt, &externalID, &errorMessage, &dlog.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payloadJSON, &dlog.EventPayload); err != nil {
		return nil, err
	}
	if lastAttemptAt.Valid {
		dlog.LastAttemptAt = &lastAttemptAt.Time
	}
	if nextRetryAt.Valid {
		dlog.NextRetryAt = &nextRetryAt.Time
	}
	dlog.ExternalID = externalID.String
	dlog.ErrorMessage = errorMessage.String
	return &dlog, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
