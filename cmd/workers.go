/*
Copyright 2024 QZD Finance Authors.

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
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/spf13/cobra"

	"github.com/qzd-finance/qzd"
	"github.com/qzd-finance/qzd/config"
	"github.com/qzd-finance/qzd/internal/notification"
	redis_db "github.com/qzd-finance/qzd/internal/redis-db"
)

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.AsynqClientOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency: conf.Journal.MaxWorkers,
		Queues:      queues,
	}), nil
}

// startMonitoring serves the asynqmon dashboard when queue.monitoring_port is set.
func startMonitoring(conf *config.Configuration) error {
	if conf.Queue.MonitoringPort == "" {
		return nil
	}
	redisOption, err := redis_db.AsynqClientOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return err
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOption,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("could not start asynqmon server: %v", err)
		}
	}()
	return nil
}

// workerCommands defines the "workers" command. Workers deliver webhooks only; queued dead-letter
// retries and reconciliations are consumed by the server that owns the books.
func workerCommands(app *qzdInstance) *cobra.Command {
	var enqueue string

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start qzd workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			queue := app.qzd.Queue()
			if queue == nil {
				log.Fatal("redis.dns is required to run workers")
			}

			if enqueue != "" {
				id, err := queue.EnqueueMaintenance(ctx, enqueue)
				if err != nil {
					log.Fatal(err)
				}
				fmt.Println(id)
				return
			}

			shutdown, err := initializeTracing(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			notification.RegisterWebhookSender(app.qzd.WebhookSender())

			srv, err := initializeWorkerServer(app.cnf, queue.WebhookQueues())
			if err != nil {
				log.Fatal(err)
			}
			if err := startMonitoring(app.cnf); err != nil {
				log.Fatal(err)
			}

			if err := srv.Start(qzd.NewWebhookServeMux()); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
			<-ctx.Done()
			srv.Shutdown()
		},
	}
	cmd.Flags().StringVar(&enqueue, "enqueue", "", "enqueue a maintenance task (qzd:journal_retry or qzd:reconcile) for the server and exit")

	return cmd
}
