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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/qzd-finance/qzd/config"
	"github.com/qzd-finance/qzd/internal/notification"
	"github.com/qzd-finance/qzd/internal/request"
	"github.com/qzd-finance/qzd/model"
)

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

const (
	EventTransactionPosted    = "transaction.posted"
	EventTransactionRecovered = "transaction.recovered"
	EventTransactionFailed    = "transaction.failed"
	EventAlertRaised          = "alert.raised"
)

// sendWebhook enqueues webhook when a queue and a webhook URL are configured.
func (q *Qzd) sendWebhook(ctx context.Context, webhook NewWebhook) {
	if q.queue == nil || q.config.Notification.Webhook.Url == "" {
		return
	}
	if err := q.queue.EnqueueWebhook(ctx, webhook); err != nil {
		logrus.Errorf("failed to enqueue webhook %s: %v", webhook.Event, err)
	}
}

func (q *Qzd) onPosted(ctx context.Context, record model.JournalRecord, txn model.Transaction) {
	q.metrics.TransactionsPosted.WithLabelValues(txn.Type).Inc()
	q.fraud.ObserveTransaction(txn)
	q.sendWebhook(ctx, NewWebhook{Event: EventTransactionPosted, Payload: txn})
}

func (q *Qzd) onRecovered(ctx context.Context, record model.JournalRecord, txn model.Transaction) {
	q.metrics.TransactionsPosted.WithLabelValues(txn.Type).Inc()
	q.fraud.ObserveTransaction(txn)
	q.sendWebhook(ctx, NewWebhook{Event: EventTransactionRecovered, Payload: txn})
}

func (q *Qzd) onDeadLetter(ctx context.Context, dead model.DeadLetterRecord) {
	q.metrics.DeadLetters.WithLabelValues(dead.JobKind).Inc()
	logrus.Warnf("journal %s moved to dead-letter queue after %d attempts: %s", dead.Scope, dead.Attempts, dead.Error.Message)
	q.sendWebhook(ctx, NewWebhook{Event: EventTransactionFailed, Payload: dead})
	notification.NotifyError(fmt.Errorf("transaction %s (%s) failed: %s", dead.TransactionID, dead.JobKind, dead.Error.Message))
}

func (q *Qzd) onAlert(alert model.Alert) {
	q.metrics.AlertsRaised.WithLabelValues(alert.Rule).Inc()
	logrus.Warnf("fraud alert %s raised: %s (%s)", alert.AlertID, alert.Rule, alert.Severity)
	q.sendWebhook(context.Background(), NewWebhook{Event: EventAlertRaised, Payload: alert})
	if alert.Severity == model.SeverityHigh {
		notification.NotifyAlert(alert)
	}
}

// WebhookSender adapts the queue for notification.RegisterWebhookSender.
func (q *Qzd) WebhookSender() notification.WebhookSender {
	return func(event string, payload interface{}) error {
		if q.queue == nil || q.config.Notification.Webhook.Url == "" {
			return nil
		}
		return q.queue.EnqueueWebhook(context.Background(), NewWebhook{Event: event, Payload: payload})
	}
}

// processHTTP posts data to the configured webhook URL, retrying server errors with
// exponential backoff.
func processHTTP(ctx context.Context, conf *config.Configuration, data NewWebhook) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		for key, value := range conf.Notification.Webhook.Headers {
			req.Header.Set(key, value)
		}

		resp, err := request.Call(req, nil)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("webhook rejected with status %d", resp.StatusCode))
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log.Printf("Processing webhook: %+v\n", payload.Event)
	return processHTTP(ctx, conf, payload)
}
