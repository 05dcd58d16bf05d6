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

// Package notification reports Herald failures out-of-band: every failure is
// logged, and posted to Slack when a webhook is configured. Terminal delivery
// failures carry their delivery context so an operator can jump straight from
// the alert to the delivery log.
package notification

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/heraldhq/herald/config"
	"github.com/heraldhq/herald/internal/request"
)

// DeliveryFailure is the context reported when a delivery log reaches its
// terminal failed status.
type DeliveryFailure struct {
	LogID          string
	SubscriptionID string
	EventID        string
	Attempts       int
	Error          string
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func header(text string) slackBlock {
	return slackBlock{Type: "header", Text: &slackText{Type: "plain_text", Text: text, Emoji: true}}
}

func section(label, value string) slackBlock {
	return slackBlock{Type: "section", Fields: []slackText{
		{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", label, value)},
	}}
}

// postToSlack sends the message to the configured Slack webhook. A missing
// webhook URL is not an error; the log line already happened.
func postToSlack(msg slackMessage) {
	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	payload, err := request.ToJsonReq(msg)
	if err != nil {
		log.Println(err)
		return
	}

	req, err := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		log.Println(err)
		return
	}

	var response map[string]interface{}
	if _, err := request.Call(req, &response); err != nil {
		log.Println(err)
	}
}

// NotifyError reports a system error (startup failures, broken collaborators).
// Asynchronous so callers never block on Slack.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		postToSlack(slackMessage{Blocks: []slackBlock{
			header("Error From Herald 🐞"),
			section("Error", systemError.Error()),
			section("Time", time.Now().Format(time.RFC822)),
		}})
	}(systemError)
}

// NotifyDeliveryFailure reports a delivery that exhausted its attempts (or
// failed permanently). Asynchronous; called from the delivery conclusion
// path, which must never block on Slack.
func NotifyDeliveryFailure(failure DeliveryFailure) {
	go func(failure DeliveryFailure) {
		logrus.WithFields(logrus.Fields{
			"log_id":          failure.LogID,
			"subscription_id": failure.SubscriptionID,
			"event_id":        failure.EventID,
			"attempts":        failure.Attempts,
		}).Errorf("delivery failed: %s", failure.Error)

		postToSlack(slackMessage{Blocks: []slackBlock{
			header("Delivery Failed 📪"),
			section("Delivery Log", failure.LogID),
			section("Subscription", failure.SubscriptionID),
			section("Event", failure.EventID),
			section("Attempts", strconv.Itoa(failure.Attempts)),
			section("Error", failure.Error),
			section("Time", time.Now().Format(time.RFC822)),
		}})
	}(failure)
}
