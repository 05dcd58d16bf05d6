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

// GetAllEvents lists registered integration events, grouped by category when
// ?group_by=category is passed.
func (a Api) GetAllEvents(c *gin.Context) {
	if c.Query("group_by") == "category" {
		c.JSON(http.StatusOK, a.herald.Events().ListByCategory())
		return
	}
	c.JSON(http.StatusOK, a.herald.Events().List())
}

// GetAllProviders lists registered providers with their structural schemas
// for UI preview.
func (a Api) GetAllProviders(c *gin.Context) {
	registered := a.herald.Providers().List()
	out := make([]gin.H, 0, len(registered))
	for _, reg := range registered {
		out = append(out, gin.H{
			"id":                  reg.QualifiedID,
			"name":                reg.DisplayName,
			"owner_plugin_id":     reg.OwnerPluginID,
			"config_schema":       reg.ConfigSchema(),
			"connection_schema":   reg.ConnectionSchema(),
			"requires_connection": reg.HasConnection(),
		})
	}
	c.JSON(http.StatusOK, out)
}

// TestProviderConnection verifies a provider connection without delivering.
// With a body carrying values, those are tested; otherwise the stored
// connection is.
func (a Api) TestProviderConnection(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var body model2.TestConnection
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}
	}

	if err := a.herald.TestProviderConnection(c.Request.Context(), id, body.Values); err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
