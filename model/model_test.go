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

package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("sub")
	assert.True(t, strings.HasPrefix(id, "sub_"))
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("sub"))
}

func TestSubscriptionMatchesSystem(t *testing.T) {
	sub := &Subscription{}
	assert.True(t, sub.MatchesSystem("sys-1"), "empty filter matches everything")

	sub.SystemFilter = []string{"sys-1", "sys-2"}
	assert.True(t, sub.MatchesSystem("sys-1"))
	assert.False(t, sub.MatchesSystem("sys-3"))
}

func TestFiredEventSystemID(t *testing.T) {
	evt := FiredEvent{Payload: map[string]interface{}{"system_id": "sys-9"}}
	assert.Equal(t, "sys-9", evt.SystemID())

	assert.Empty(t, FiredEvent{}.SystemID())
	assert.Empty(t, FiredEvent{Payload: map[string]interface{}{"system_id": 4}}.SystemID())
}

func TestDeliveryLogIsTerminal(t *testing.T) {
	for status, terminal := range map[string]bool{
		StatusPending:  false,
		StatusRetrying: false,
		StatusSuccess:  true,
		StatusFailed:   true,
	} {
		log := &DeliveryLog{Status: status}
		assert.Equal(t, terminal, log.IsTerminal(), status)
	}
}
