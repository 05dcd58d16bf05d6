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

	"github.com/stretchr/testify/mock"

	"github.com/heraldhq/herald/database"
	"github.com/heraldhq/herald/model"
)

// MockDataSource is a testify mock of database.IDataSource shared by the
// coordinator and API tests.
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) CreateSubscription(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *MockDataSource) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *MockDataSource) GetAllSubscriptions(ctx context.Context, limit, offset int) ([]*model.Subscription, int64, error) {
	args := m.Called(ctx, limit, offset)
	var subs []*model.Subscription
	if args.Get(0) != nil {
		subs = args.Get(0).([]*model.Subscription)
	}
	return subs, args.Get(1).(int64), args.Error(2)
}

func (m *MockDataSource) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockDataSource) ToggleSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *MockDataSource) DeleteSubscription(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDataSource) GetSubscriptionsBySubscribedEvent(ctx context.Context, eventID string) ([]*model.Subscription, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Subscription), args.Error(1)
}

func (m *MockDataSource) CreateDeliveryLog(ctx context.Context, dlog *model.DeliveryLog) (*model.DeliveryLog, error) {
	args := m.Called(ctx, dlog)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeliveryLog), args.Error(1)
}

func (m *MockDataSource) GetDeliveryLog(ctx context.Context, id string) (*model.DeliveryLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeliveryLog), args.Error(1)
}

func (m *MockDataSource) GetAllDeliveryLogs(ctx context.Context, filter database.DeliveryLogFilter, limit, offset int) ([]*model.DeliveryLog, int64, error) {
	args := m.Called(ctx, filter, limit, offset)
	var logs []*model.DeliveryLog
	if args.Get(0) != nil {
		logs = args.Get(0).([]*model.DeliveryLog)
	}
	return logs, args.Get(1).(int64), args.Error(2)
}

func (m *MockDataSource) UpdateDeliveryLogStatus(ctx context.Context, id string, update database.DeliveryLogUpdate) error {
	args := m.Called(ctx, id, update)
	return args.Error(0)
}

func (m *MockDataSource) ResetDeliveryLogForRetry(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDataSource) GetDeliveryStats(ctx context.Context) (*model.DeliveryStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeliveryStats), args.Error(1)
}
