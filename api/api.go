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

// Package api is the gin RPC surface over the delivery subsystem.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/heraldhq/herald"
	"github.com/heraldhq/herald/api/middleware"
	"github.com/heraldhq/herald/config"
	"github.com/heraldhq/herald/internal/apierror"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

type Api struct {
	herald *herald.Herald
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/subscriptions", a.GetAllSubscriptions)
	router.POST("/subscriptions", a.CreateSubscription)
	router.GET("/subscriptions/:id", a.GetSubscription)
	router.PUT("/subscriptions/:id", a.UpdateSubscription)
	router.DELETE("/subscriptions/:id", a.DeleteSubscription)
	router.POST("/subscriptions/:id/toggle", a.ToggleSubscription)

	router.GET("/events", a.GetAllEvents)

	router.GET("/providers", a.GetAllProviders)
	router.POST("/providers/:id/test-connection", a.TestProviderConnection)

	router.GET("/connections/:provider_id", a.GetConnection)
	router.PUT("/connections/:provider_id", a.UpsertConnection)
	router.DELETE("/connections/:provider_id", a.DeleteConnection)

	router.GET("/delivery-logs", a.GetAllDeliveryLogs)
	router.GET("/delivery-logs/:id", a.GetDeliveryLog)
	router.POST("/delivery-logs/:id/retry", a.RetryDelivery)
	router.GET("/delivery-stats", a.GetDeliveryStats)
	router.GET("/queue-stats", a.GetQueueStats)
	return a.router
}

func NewAPI(h *herald.Herald) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{herald: h, router: r}
}

// apiError writes the error with the HTTP status its code maps to.
func apiError(c *gin.Context, err error) {
	if apiErr, ok := err.(apierror.APIError); ok {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// pagination parses page/per_page query parameters into limit and offset.
func pagination(c *gin.Context) (page, perPage, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage, perPage, (page - 1) * perPage
}

func paginated(c *gin.Context, items interface{}, total int64, page, perPage int) {
	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}
