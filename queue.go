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

package qzd

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/qzd-finance/qzd/config"
	redis_db "github.com/qzd-finance/qzd/internal/redis-db"
)

const (
	// TaskWebhook delivers one webhook notification.
	TaskWebhook = "qzd:webhook"
	// TaskJournalRetry sweeps the dead-letter queue.
	TaskJournalRetry = "qzd:journal_retry"
	// TaskReconcile runs a balance reconciliation.
	TaskReconcile = "qzd:reconcile"
)

// Queue represents the asynq queues used for webhooks and maintenance tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      config.QueueConfig
}

// NewQueue connects to the redis instance configured for the service.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqClientOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return NewQueueWithOpt(opt, conf.Queue), nil
}

// NewQueueWithOpt builds a queue on an explicit asynq connection.
func NewQueueWithOpt(opt asynq.RedisConnOpt, conf config.QueueConfig) *Queue {
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		conf:      conf,
	}
}

// Close releases the inspector and client connections.
func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

// EnqueueWebhook schedules delivery of a webhook notification.
func (q *Queue) EnqueueWebhook(ctx context.Context, webhook NewWebhook) error {
	ctx, span := tracer.Start(ctx, "Enqueue Webhook")
	defer span.End()

	payload, err := json.Marshal(webhook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskWebhook, payload,
		asynq.Queue(q.conf.WebhookQueue),
		asynq.MaxRetry(q.conf.WebhookRetries),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued webhook: %s", webhook.Event)
	return nil
}

// EnqueueMaintenance schedules a maintenance task such as TaskJournalRetry. Tasks of the same
// type are deduplicated for a minute.
func (q *Queue) EnqueueMaintenance(ctx context.Context, taskType string) (string, error) {
	task := asynq.NewTask(taskType, nil,
		asynq.Queue(q.conf.MaintenanceQueue),
		asynq.Unique(time.Minute),
		asynq.MaxRetry(0),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	log.Printf(" [*] Successfully enqueued %s: %s", taskType, info.ID)
	return info.ID, nil
}

// Queues returns the asynq queue priorities served next to the API. Maintenance tasks act on
// the in-memory books, so only the process that owns them may consume the maintenance queue.
func (q *Queue) Queues() map[string]int {
	return map[string]int{q.conf.WebhookQueue: 3, q.conf.MaintenanceQueue: 1}
}

// WebhookQueues returns the queues a standalone worker consumes. It never lists the
// maintenance queue.
func (q *Queue) WebhookQueues() map[string]int {
	return map[string]int{q.conf.WebhookQueue: 1}
}

// NewServeMux routes queued tasks to their handlers.
func (q *Qzd) NewServeMux() *asynq.ServeMux {
	mux := NewWebhookServeMux()
	mux.HandleFunc(TaskJournalRetry, q.processJournalRetry)
	mux.HandleFunc(TaskReconcile, q.processReconcile)
	return mux
}

// NewWebhookServeMux handles webhook delivery only. Standalone workers use it since they hold
// no accounts or journal.
func NewWebhookServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskWebhook, ProcessWebhook)
	return mux
}

func (q *Qzd) processJournalRetry(ctx context.Context, _ *asynq.Task) error {
	summary := q.RetryFailedTransactions(ctx)
	log.Printf("Processed journal retry: %+v", summary)
	return nil
}

func (q *Qzd) processReconcile(ctx context.Context, _ *asynq.Task) error {
	report := q.ReconcileBalances(ctx)
	log.Printf("Processed reconciliation: %d checked, %d mismatched", report.Checked, len(report.Mismatched))
	return nil
}
