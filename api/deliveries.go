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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heraldhq/herald/database"
)

func (a Api) GetAllDeliveryLogs(c *gin.Context) {
	page, perPage, limit, offset := pagination(c)
	filter := database.DeliveryLogFilter{
		SubscriptionID: c.Query("subscription_id"),
		Status:         c.Query("status"),
	}

	logs, total, err := a.herald.ListDeliveryLogs(c.Request.Context(), filter, limit, offset)
	if err != nil {
		apiError(c, err)
		return
	}

	paginated(c, logs, total, page, perPage)
}

func (a Api) GetDeliveryLog(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.herald.GetDeliveryLog(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RetryDelivery resets a failed delivery and queues a fresh round of
// attempts. 409 when the log is not in a failed status.
func (a Api) RetryDelivery(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.herald.RetryDelivery(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

func (a Api) GetDeliveryStats(c *gin.Context) {
	resp, err := a.herald.GetDeliveryStats(c.Request.Context())
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetQueueStats reports counters from the active delivery queue backend.
func (a Api) GetQueueStats(c *gin.Context) {
	resp, err := a.herald.QueueStats()
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
