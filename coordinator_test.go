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
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/config"
	"github.com/heraldhq/herald/database"
	"github.com/heraldhq/herald/events"
	"github.com/heraldhq/herald/hookbus"
	"github.com/heraldhq/herald/internal/apierror"
	"github.com/heraldhq/herald/model"
	"github.com/heraldhq/herald/providers"
	"github.com/heraldhq/herald/schema"
)

// fakeDataSource is a stateful in-memory IDataSource for coordinator tests,
// where delivery flows walk a log through several status transitions.
type fakeDataSource struct {
	mu            sync.Mutex
	subscriptions map[string]*model.Subscription
	logs          map[string]*model.DeliveryLog
	updates       []database.DeliveryLogUpdate
}

func newFakeDataSource() *fakeDataSource {
	return &fakeDataSource{
		subscriptions: make(map[string]*model.Subscription),
		logs:          make(map[string]*model.DeliveryLog),
	}
}

func (f *fakeDataSource) CreateSubscription(_ context.Context, sub *model.Subscription) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub.SubscriptionID == "" {
		sub.SubscriptionID = model.GenerateUUIDWithSuffix("sub")
	}
	sub.CreatedAt = time.Now()
	f.subscriptions[sub.SubscriptionID] = sub
	return sub, nil
}

func (f *fakeDataSource) GetSubscription(_ context.Context, id string) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", id)
	}
	return sub, nil
}

func (f *fakeDataSource) GetAllSubscriptions(_ context.Context, _, _ int) ([]*model.Subscription, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.Subscription{}
	for _, sub := range f.subscriptions {
		out = append(out, sub)
	}
	return out, int64(len(out)), nil
}

func (f *fakeDataSource) UpdateSubscription(_ context.Context, sub *model.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscriptions[sub.SubscriptionID]; !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", sub.SubscriptionID)
	}
	f.subscriptions[sub.SubscriptionID] = sub
	return nil
}

func (f *fakeDataSource) ToggleSubscription(_ context.Context, id string) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", id)
	}
	sub.Enabled = !sub.Enabled
	return sub, nil
}

func (f *fakeDataSource) DeleteSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscriptions[id]; !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", id)
	}
	delete(f.subscriptions, id)
	for logID, dlog := range f.logs {
		if dlog.SubscriptionID == id {
			delete(f.logs, logID)
		}
	}
	return nil
}

func (f *fakeDataSource) GetSubscriptionsBySubscribedEvent(_ context.Context, eventID string) ([]*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.Subscription{}
	for _, sub := range f.subscriptions {
		if sub.EventID == eventID && sub.Enabled {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeDataSource) CreateDeliveryLog(_ context.Context, dlog *model.DeliveryLog) (*model.DeliveryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dlog.LogID == "" {
		dlog.LogID = model.GenerateUUIDWithSuffix("dlog")
	}
	if dlog.Status == "" {
		dlog.Status = model.StatusPending
	}
	dlog.CreatedAt = time.Now()
	f.logs[dlog.LogID] = dlog
	return dlog, nil
}

func (f *fakeDataSource) GetDeliveryLog(_ context.Context, id string) (*model.DeliveryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dlog, ok := f.logs[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Delivery log not found", id)
	}
	snapshot := *dlog
	return &snapshot, nil
}

func (f *fakeDataSource) GetAllDeliveryLogs(_ context.Context, filter database.DeliveryLogFilter, _, _ int) ([]*model.DeliveryLog, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.DeliveryLog{}
	for _, dlog := range f.logs {
		if filter.SubscriptionID != "" && dlog.SubscriptionID != filter.SubscriptionID {
			continue
		}
		if filter.Status != "" && dlog.Status != filter.Status {
			continue
		}
		snapshot := *dlog
		out = append(out, &snapshot)
	}
	return out, int64(len(out)), nil
}

func (f *fakeDataSource) UpdateDeliveryLogStatus(_ context.Context, id string, update database.DeliveryLogUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dlog, ok := f.logs[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Delivery log not found", id)
	}
	dlog.Status = update.Status
	dlog.Attempts = update.Attempts
	dlog.LastAttemptAt = update.LastAttemptAt
	dlog.NextRetryAt = update.NextRetryAt
	dlog.ExternalID = update.ExternalID
	dlog.ErrorMessage = update.ErrorMessage
	f.updates = append(f.updates, update)
	return nil
}

// scheduledRetries returns the status updates that scheduled a re-attempt,
// in order.
func (f *fakeDataSource) scheduledRetries() []database.DeliveryLogUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []database.DeliveryLogUpdate{}
	for _, update := range f.updates {
		if update.NextRetryAt != nil {
			out = append(out, update)
		}
	}
	return out
}

func (f *fakeDataSource) ResetDeliveryLogForRetry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dlog, ok := f.logs[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Delivery log not found", id)
	}
	if dlog.Status != model.StatusFailed {
		return apierror.NewAPIError(apierror.ErrInvalidState, "Only failed deliveries can be retried", dlog.Status)
	}
	dlog.Status = model.StatusPending
	dlog.Attempts = 0
	dlog.LastAttemptAt = nil
	dlog.NextRetryAt = nil
	dlog.ErrorMessage = ""
	return nil
}

func (f *fakeDataSource) GetDeliveryStats(_ context.Context) (*model.DeliveryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := model.DeliveryStats{}
	for _, dlog := range f.logs {
		stats.Total++
		switch dlog.Status {
		case model.StatusPending:
			stats.Pending++
		case model.StatusRetrying:
			stats.Retrying++
		case model.StatusSuccess:
			stats.Success++
		case model.StatusFailed:
			stats.Failed++
		}
	}
	return &stats, nil
}

func (f *fakeDataSource) logCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs)
}

// recordingProvider delivers according to deliverFn and records each call.
type recordingProvider struct {
	mu        sync.Mutex
	calls     []providers.DeliveryContext
	deliverFn func(attempt int) (providers.DeliveryResult, error)
	supported []string
}

func (p *recordingProvider) ID() string   { return "webhook" }
func (p *recordingProvider) Name() string { return "Test Webhook" }
func (p *recordingProvider) ConfigSchema() *schema.Shape {
	return schema.NewShape().Field("url", schema.Field{Type: schema.String, Required: true})
}
func (p *recordingProvider) ConnectionSchema() *schema.Shape { return nil }
func (p *recordingProvider) SupportedEvents() []string       { return p.supported }
func (p *recordingProvider) Deliver(_ context.Context, delivery providers.DeliveryContext) (providers.DeliveryResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, delivery)
	attempt := len(p.calls)
	p.mu.Unlock()
	if p.deliverFn == nil {
		return providers.DeliveryResult{}, nil
	}
	return p.deliverFn(attempt)
}
func (p *recordingProvider) TestConnection(context.Context, map[string]interface{}) error { return nil }

func (p *recordingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type coordinatorFixture struct {
	herald   *Herald
	ds       *fakeDataSource
	provider *recordingProvider
	sub      *model.Subscription
}

func newCoordinatorFixture(t *testing.T, provider *recordingProvider, subModifiers ...func(*model.Subscription)) *coordinatorFixture {
	t.Helper()

	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost/herald_test"},
		Queue: config.QueueConfig{
			DeliveryQueue:     "integration-delivery",
			BaseRetryDelaySec: 1,
			WorkerConcurrency: 4,
		},
	})

	eventRegistry := events.NewRegistry()
	_, err := eventRegistry.Register(events.Definition{
		Hook:        "incident.created",
		DisplayName: "Incident created",
		Category:    "Monitoring",
	}, events.PluginMeta{ID: "core", Name: "Core"})
	require.NoError(t, err)

	providerRegistry := providers.NewRegistry()
	_, err = providerRegistry.Register(provider, providers.PluginMeta{ID: "core", Name: "Core"})
	require.NoError(t, err)

	ds := newFakeDataSource()
	sub := &model.Subscription{
		Name:           "On-call webhook",
		ProviderID:     "core.webhook",
		ProviderConfig: map[string]interface{}{"url": "https://receiver.example.com/hook"},
		EventID:        "core.incident.created",
		Enabled:        true,
	}
	for _, modify := range subModifiers {
		modify(sub)
	}
	_, err = ds.CreateSubscription(context.Background(), sub)
	require.NoError(t, err)

	h, err := NewHerald(ds, eventRegistry, providerRegistry)
	require.NoError(t, err)
	require.NoError(t, h.StartWorker())
	t.Cleanup(h.Close)

	return &coordinatorFixture{herald: h, ds: ds, provider: provider, sub: sub}
}

func scaleRetryLadder(t *testing.T) {
	t.Helper()
	original := retryLadder
	retryLadder = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	t.Cleanup(func() { retryLadder = original })
}

func waitForStatus(t *testing.T, ds *fakeDataSource, status string) *model.DeliveryLog {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ds.mu.Lock()
		for _, dlog := range ds.logs {
			if dlog.Status == status {
				snapshot := *dlog
				ds.mu.Unlock()
				return &snapshot
			}
		}
		ds.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no delivery log reached status %q", status)
	return nil
}

func firedIncident() model.FiredEvent {
	return model.FiredEvent{
		EventID:   "core.incident.created",
		Payload:   map[string]interface{}{"incident_id": "inc-1", "system_id": "sys-1"},
		Timestamp: time.Now(),
	}
}

func TestDeliverySuccessPath(t *testing.T) {
	provider := &recordingProvider{
		deliverFn: func(int) (providers.DeliveryResult, error) {
			return providers.DeliveryResult{ExternalID: "ext-7"}, nil
		},
	}
	fx := newCoordinatorFixture(t, provider)

	require.NoError(t, fx.herald.RouteEvent(context.Background(), firedIncident()))

	dlog := waitForStatus(t, fx.ds, model.StatusSuccess)
	assert.Equal(t, 1, dlog.Attempts)
	assert.Equal(t, "ext-7", dlog.ExternalID)
	assert.Equal(t, "core.incident.created", dlog.EventType)
	assert.Equal(t, "inc-1", dlog.EventPayload["incident_id"])
	assert.NotNil(t, dlog.LastAttemptAt)
	assert.Equal(t, 1, provider.callCount())
}

func TestDeliveryRetriesThenFails(t *testing.T) {
	scaleRetryLadder(t)
	provider := &recordingProvider{
		deliverFn: func(int) (providers.DeliveryResult, error) {
			return providers.DeliveryResult{}, fmt.Errorf("receiver down")
		},
	}
	fx := newCoordinatorFixture(t, provider)

	require.NoError(t, fx.herald.RouteEvent(context.Background(), firedIncident()))

	dlog := waitForStatus(t, fx.ds, model.StatusFailed)
	assert.Equal(t, MaxDeliveryRetries, dlog.Attempts)
	assert.Equal(t, "receiver down", dlog.ErrorMessage)
	assert.Equal(t, MaxDeliveryRetries, provider.callCount())

	// Each scheduled re-attempt carries the next ladder rung, so the
	// inter-attempt delays strictly increase.
	retries := fx.ds.scheduledRetries()
	require.Len(t, retries, MaxDeliveryRetries-1)
	for i, update := range retries {
		require.NotNil(t, update.LastAttemptAt)
		assert.Equal(t, retryLadder[i], update.NextRetryAt.Sub(*update.LastAttemptAt))
	}
	assert.True(t, retries[1].NextRetryAt.After(*retries[0].NextRetryAt))
}

func TestTerminalFailureNotifies(t *testing.T) {
	scaleRetryLadder(t)
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	notified := make(chan string, 1)
	httpmock.RegisterResponder("POST", "https://hooks.slack.com/services/herald-test",
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			select {
			case notified <- string(body):
			default:
			}
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	provider := &recordingProvider{
		deliverFn: func(int) (providers.DeliveryResult, error) {
			return providers.DeliveryResult{}, fmt.Errorf("receiver down")
		},
	}
	fx := newCoordinatorFixture(t, provider)

	// The notifier reads config at send time, so the Slack webhook can be
	// mocked in after the fixture is built.
	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost/herald_test"},
		Queue: config.QueueConfig{
			DeliveryQueue:     "integration-delivery",
			BaseRetryDelaySec: 1,
			WorkerConcurrency: 4,
		},
		Notification: config.Notification{
			Slack: config.SlackWebhook{WebhookUrl: "https://hooks.slack.com/services/herald-test"},
		},
	})

	require.NoError(t, fx.herald.RouteEvent(context.Background(), firedIncident()))
	dlog := waitForStatus(t, fx.ds, model.StatusFailed)

	select {
	case body := <-notified:
		assert.Contains(t, body, dlog.LogID)
		assert.Contains(t, body, "receiver down")
		assert.Contains(t, body, "core.incident.created")
	case <-time.After(2 * time.Second):
		t.Fatal("terminal delivery failure sent no notification")
	}
}

func TestDeliveryRecoversOnRetry(t *testing.T) {
	scaleRetryLadder(t)
	provider := &recordingProvider{
		deliverFn: func(attempt int) (providers.DeliveryResult, error) {
			if attempt < 2 {
				return providers.DeliveryResult{}, fmt.Errorf("transient error")
			}
			return providers.DeliveryResult{ExternalID: "ext-2"}, nil
		},
	}
	fx := newCoordinatorFixture(t, provider)

	require.NoError(t, fx.herald.RouteEvent(context.Background(), firedIncident()))

	dlog := waitForStatus(t, fx.ds, model.StatusSuccess)
	assert.Equal(t, 2, dlog.Attempts)
	assert.Equal(t, "ext-2", dlog.ExternalID)
	assert.Empty(t, dlog.ErrorMessage)
}

func TestManualRetryAfterFailure(t *testing.T) {
	scaleRetryLadder(t)
	var failing bool = true
	var mu sync.Mutex
	provider := &recordingProvider{}
	provider.deliverFn = func(int) (providers.DeliveryResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return providers.DeliveryResult{}, fmt.Errorf("receiver down")
		}
		return providers.DeliveryResult{ExternalID: "ext-9"}, nil
	}
	fx := newCoordinatorFixture(t, provider)

	require.NoError(t, fx.herald.RouteEvent(context.Background(), firedIncident()))
	failed := waitForStatus(t, fx.ds, model.StatusFailed)

	mu.Lock()
	failing = false
	mu.Unlock()

	_, err := fx.herald.RetryDelivery(context.Background(), failed.LogID)
	require.NoError(t, err)

	dlog := waitForStatus(t, fx.ds, model.StatusSuccess)
	assert.Equal(t, failed.LogID, dlog.LogID)
	assert.Equal(t, 1, dlog.Attempts, "manual retry starts a fresh attempt count")
	assert.Equal(t, "ext-9", dlog.ExternalID)
}

func TestManualRetryRequiresFailedStatus(t *testing.T) {
	provider := &recordingProvider{}
	fx := newCoordinatorFixture(t, provider)

	dlog, err := fx.ds.CreateDeliveryLog(context.Background(), &model.DeliveryLog{
		SubscriptionID: fx.sub.SubscriptionID,
		EventType:      "core.incident.created",
		EventPayload:   map[string]interface{}{},
		Status:         model.StatusSuccess,
	})
	require.NoError(t, err)

	_, err = fx.herald.RetryDelivery(context.Background(), dlog.LogID)
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrInvalidState, apiErr.Code)

	_, err = fx.herald.RetryDelivery(context.Background(), "dlog_missing")
	require.Error(t, err)
	apiErr, ok = err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestSystemFilterGatesRouting(t *testing.T) {
	provider := &recordingProvider{}
	fx := newCoordinatorFixture(t, provider, func(sub *model.Subscription) {
		sub.SystemFilter = []string{"sys-other"}
	})

	require.NoError(t, fx.herald.RouteEvent(context.Background(), firedIncident()))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, fx.ds.logCount(), "filtered event produces no delivery log")
	assert.Equal(t, 0, provider.callCount())
}

func TestSupportedEventsGatesRouting(t *testing.T) {
	provider := &recordingProvider{supported: []string{"core.maintenance.scheduled"}}
	fx := newCoordinatorFixture(t, provider)

	require.NoError(t, fx.herald.RouteEvent(context.Background(), firedIncident()))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, fx.ds.logCount())
}

func TestDisabledSubscriptionIsSkipped(t *testing.T) {
	provider := &recordingProvider{}
	fx := newCoordinatorFixture(t, provider, func(sub *model.Subscription) {
		sub.Enabled = false
	})

	require.NoError(t, fx.herald.RouteEvent(context.Background(), firedIncident()))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, fx.ds.logCount())
}

func TestUnknownProviderFailsWithoutRetry(t *testing.T) {
	scaleRetryLadder(t)
	provider := &recordingProvider{}
	fx := newCoordinatorFixture(t, provider, func(sub *model.Subscription) {
		sub.ProviderID = "core.vanished"
	})

	require.NoError(t, fx.herald.RouteEvent(context.Background(), firedIncident()))

	dlog := waitForStatus(t, fx.ds, model.StatusFailed)
	assert.Equal(t, 1, dlog.Attempts, "unknown provider is a permanent failure")
	assert.Contains(t, dlog.ErrorMessage, "not registered")
}

func TestEndToEndThroughBus(t *testing.T) {
	provider := &recordingProvider{
		deliverFn: func(int) (providers.DeliveryResult, error) {
			return providers.DeliveryResult{ExternalID: "ext-bus"}, nil
		},
	}
	fx := newCoordinatorFixture(t, provider)

	bus := hookbus.NewInProcessBus()
	defer bus.Close()
	require.NoError(t, fx.herald.Attach(bus))

	var mu sync.Mutex
	signals := []string{}
	_, err := bus.OnHook(DeliverySucceededSignal, func(_ context.Context, event model.FiredEvent) error {
		mu.Lock()
		signals = append(signals, event.EventID)
		mu.Unlock()
		return nil
	}, hookbus.SubscribeOptions{Mode: hookbus.ModeBroadcast})
	require.NoError(t, err)

	require.NoError(t, bus.Fire(context.Background(), firedIncident()))

	dlog := waitForStatus(t, fx.ds, model.StatusSuccess)
	assert.Equal(t, "ext-bus", dlog.ExternalID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(signals)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, signals, "terminal status broadcasts a signal")
	assert.Equal(t, DeliverySucceededSignal, signals[0])
}

func TestSubscriptionValidation(t *testing.T) {
	provider := &recordingProvider{}
	fx := newCoordinatorFixture(t, provider)

	_, err := fx.herald.CreateSubscription(context.Background(), &model.Subscription{
		Name:       "bad event",
		ProviderID: "core.webhook",
		EventID:    "core.unknown.event",
	})
	require.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, err.(apierror.APIError).Code)

	_, err = fx.herald.CreateSubscription(context.Background(), &model.Subscription{
		Name:       "bad provider",
		ProviderID: "core.vanished",
		EventID:    "core.incident.created",
	})
	require.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, err.(apierror.APIError).Code)

	_, err = fx.herald.CreateSubscription(context.Background(), &model.Subscription{
		Name:           "bad config",
		ProviderID:     "core.webhook",
		EventID:        "core.incident.created",
		ProviderConfig: map[string]interface{}{},
	})
	require.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidConfiguration, err.(apierror.APIError).Code)

	sub, err := fx.herald.CreateSubscription(context.Background(), &model.Subscription{
		Name:           "good",
		ProviderID:     "core.webhook",
		EventID:        "core.incident.created",
		ProviderConfig: map[string]interface{}{"url": "https://receiver.example.com"},
		Enabled:        true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.SubscriptionID)
}
