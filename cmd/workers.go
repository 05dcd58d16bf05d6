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
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/spf13/cobra"

	"github.com/heraldhq/herald/config"
	redis_db "github.com/heraldhq/herald/internal/redis-db"
)

func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{
		conf.Queue.DeliveryQueue: 3,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: conf.Queue.WorkerConcurrency,
			Queues:      queues,
		},
	), nil
}

// workerCommands defines the "workers" command. Workers are the competing
// consumers of the durable delivery queue; running more than one process
// scales delivery throughput without duplicating attempts.
func workerCommands(h *heraldInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start herald delivery workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			if conf.Redis.Dns == "" {
				log.Fatal("workers require redis to be configured; without redis, deliveries are processed in-process by the server command")
			}

			queues := initializeQueues(conf)

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			mux.HandleFunc(conf.Queue.DeliveryQueue, h.herald.ProcessDeliveryTask)

			// Asynqmon serves queue health and task inspection.
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			mon := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, mon); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
