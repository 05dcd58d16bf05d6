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

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/heraldhq/herald/api"
	"github.com/heraldhq/herald/config"
	"github.com/heraldhq/herald/hookbus"
)

func initializeRouter(h *heraldInstance) *gin.Engine {
	return api.NewAPI(h.herald).Router()
}

// startServer serves the router with graceful shutdown: SIGINT/SIGTERM stops
// accepting connections, drains in-flight requests, then stops the engine.
func startServer(h *heraldInstance, router *gin.Engine, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	h.herald.Close()
	return nil
}

/*
serverCommands returns the Cobra command responsible for starting the Herald
server. It attaches the coordinator to the process hook bus, starts the
in-process delivery worker when Redis is not configured, and serves the API.
*/
func serverCommands(h *heraldInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start herald server",
		Run: func(cmd *cobra.Command, args []string) {
			router := initializeRouter(h)

			cfg, err := config.Fetch()
			if err != nil {
				log.Fatal(err)
			}

			bus := hookbus.NewInProcessBus()
			if err := h.herald.Attach(bus); err != nil {
				log.Fatal(err)
			}
			if err := h.herald.StartWorker(); err != nil {
				log.Fatal(err)
			}

			if err := startServer(h, router, cfg.Server); err != nil {
				log.Fatal(err)
			}
			bus.Close()
		},
	}

	return cmd
}
