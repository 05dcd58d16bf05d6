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

	model2 "github.com/heraldhq/herald/api/model"

	"github.com/gin-gonic/gin"
)

func (a Api) CreateSubscription(c *gin.Context) {
	var newSubscription model2.CreateSubscription
	if err := c.ShouldBindJSON(&newSubscription); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newSubscription.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.herald.CreateSubscription(c.Request.Context(), newSubscription.ToSubscription())
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetSubscription(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.herald.GetSubscription(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllSubscriptions(c *gin.Context) {
	page, perPage, limit, offset := pagination(c)

	subscriptions, total, err := a.herald.ListSubscriptions(c.Request.Context(), limit, offset)
	if err != nil {
		apiError(c, err)
		return
	}

	paginated(c, subscriptions, total, page, perPage)
}

func (a Api) UpdateSubscription(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var updated model2.CreateSubscription
	if err := c.ShouldBindJSON(&updated); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := updated.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	sub := updated.ToSubscription()
	sub.SubscriptionID = id
	resp, err := a.herald.UpdateSubscription(c.Request.Context(), sub)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) DeleteSubscription(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.herald.DeleteSubscription(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (a Api) ToggleSubscription(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.herald.ToggleSubscription(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
