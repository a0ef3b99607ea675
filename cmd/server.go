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
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/qzd-finance/qzd"
	"github.com/qzd-finance/qzd/api"
	"github.com/qzd-finance/qzd/config"
	"github.com/qzd-finance/qzd/internal/notification"
	"github.com/qzd-finance/qzd/internal/trace"
)

func initializeRouter(app *qzdInstance) *gin.Engine {
	return api.NewAPI(app.qzd).Router()
}

func initializeTracing(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	return trace.SetupOTelSDK(ctx, cfg.Tracing)
}

// startProcessors starts the periodic processors that are enabled in configuration and returns
// a function that stops them.
func startProcessors(ctx context.Context, q *qzd.Qzd) func() {
	var running []*qzd.Processor
	for _, p := range []*qzd.Processor{qzd.NewReconciliationProcessor(q), qzd.NewDeadLetterRetryProcessor(q)} {
		if p == nil {
			continue
		}
		p.Start(ctx)
		running = append(running, p)
	}
	return func() {
		for _, p := range running {
			p.Stop()
		}
	}
}

// startInProcessWorker runs the asynq handlers next to the API when a queue is configured.
func startInProcessWorker(q *qzd.Qzd, cfg *config.Configuration) (*asynq.Server, error) {
	if q.Queue() == nil {
		log.Println("No redis configured, webhooks and queued maintenance tasks are disabled")
		return nil, nil
	}
	srv, err := initializeWorkerServer(cfg, q.Queue().Queues())
	if err != nil {
		return nil, err
	}
	if err := srv.Start(q.NewServeMux()); err != nil {
		return nil, err
	}
	return srv, nil
}

func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on http://localhost:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// serverCommands returns the command that runs the API, the periodic processors and an
// in-process queue worker.
func serverCommands(app *qzdInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "start qzd server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer func() {
				if err := app.qzd.Close(); err != nil {
					log.Printf("Error closing qzd: %v", err)
				}
			}()

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

			stopProcessors := startProcessors(ctx, app.qzd)
			defer stopProcessors()

			worker, err := startInProcessWorker(app.qzd, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			if worker != nil {
				defer worker.Shutdown()
			}

			if err := startServer(ctx, initializeRouter(app), app.cnf.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
