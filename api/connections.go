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

// GetConnection returns the stored connection for a provider with secret
// fields stripped. The full values never leave the backend.
func (a Api) GetConnection(c *gin.Context) {
	providerID, passed := c.Params.Get("provider_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider_id is required. pass it in the route /:provider_id"})
		return
	}
	if a.herald.Connections() == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection store requires redis to be configured"})
		return
	}

	conn, err := a.herald.Connections().GetRedacted(c.Request.Context(), providerID)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, conn)
}

func (a Api) UpsertConnection(c *gin.Context) {
	providerID, passed := c.Params.Get("provider_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider_id is required. pass it in the route /:provider_id"})
		return
	}
	if a.herald.Connections() == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection store requires redis to be configured"})
		return
	}

	var body model2.UpsertConnection
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := body.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	conn, err := a.herald.Connections().Set(c.Request.Context(), providerID, body.Values)
	if err != nil {
		apiError(c, err)
		return
	}

	redacted, err := a.herald.Connections().GetRedacted(c.Request.Context(), conn.ProviderID)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, redacted)
}

func (a Api) DeleteConnection(c *gin.Context) {
	providerID, passed := c.Params.Get("provider_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider_id is required. pass it in the route /:provider_id"})
		return
	}
	if a.herald.Connections() == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection store requires redis to be configured"})
		return
	}

	if err := a.herald.Connections().Delete(c.Request.Context(), providerID); err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": providerID})
}
