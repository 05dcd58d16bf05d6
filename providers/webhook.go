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

package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/heraldhq/herald/internal/request"
	"github.com/heraldhq/herald/schema"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when the
// subscription configures a signing secret.
const SignatureHeader = "X-Herald-Signature"

// WebhookEnvelope is the JSON body POSTed to the configured endpoint.
type WebhookEnvelope struct {
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// WebhookProvider is the built-in generic webhook delivery provider. It
// accepts every registered event and needs no site-wide connection.
type WebhookProvider struct{}

func NewWebhookProvider() *WebhookProvider {
	return &WebhookProvider{}
}

func (w *WebhookProvider) ID() string   { return "webhook" }
func (w *WebhookProvider) Name() string { return "Generic Webhook" }

func (w *WebhookProvider) ConfigSchema() *schema.Shape {
	return schema.NewShape().
		Field("url", schema.Field{Type: schema.String, Required: true, Description: "Endpoint to POST event envelopes to"}).
		Field("headers", schema.Field{Type: schema.Object, Description: "Extra headers sent with every delivery"}).
		Field("signing_secret", schema.Field{Type: schema.String, Secret: true, Description: "HMAC-SHA256 secret for the signature header"})
}

func (w *WebhookProvider) ConnectionSchema() *schema.Shape { return nil }

func (w *WebhookProvider) SupportedEvents() []string { return nil }

// Deliver POSTs the event envelope to the configured URL. A non-2xx status
// is a failed attempt; a JSON response body carrying an "id" field is
// captured as the receiver's correlation ID.
func (w *WebhookProvider) Deliver(ctx context.Context, delivery DeliveryContext) (DeliveryResult, error) {
	url, _ := delivery.Config["url"].(string)
	if url == "" {
		return DeliveryResult{}, fmt.Errorf("webhook url is not configured")
	}

	envelope := WebhookEnvelope{
		Event:     delivery.EventID,
		Data:      delivery.Payload,
		Timestamp: delivery.Timestamp,
	}
	payload, err := request.ToJsonReq(envelope)
	if err != nil {
		return DeliveryResult{}, err
	}
	body := payload.Bytes()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return DeliveryResult{}, err
	}

	if headers, ok := delivery.Config["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if v, ok := value.(string); ok {
				req.Header.Set(key, v)
			}
		}
	}
	if secret, _ := delivery.Config["signing_secret"].(string); secret != "" {
		req.Header.Set(SignatureHeader, sign(body, secret))
	}

	var response map[string]interface{}
	resp, err := request.Call(req, &response)
	if err != nil {
		return DeliveryResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DeliveryResult{}, fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}

	result := DeliveryResult{}
	if id, ok := response["id"].(string); ok {
		result.ExternalID = id
	}
	return result, nil
}

// TestConnection is a no-op: the generic webhook has no site-wide
// connection to verify.
func (w *WebhookProvider) TestConnection(_ context.Context, _ map[string]interface{}) error {
	return nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
