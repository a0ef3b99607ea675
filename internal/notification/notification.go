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

package notification

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/qzd-finance/qzd/config"
	"github.com/qzd-finance/qzd/internal/request"
	"github.com/qzd-finance/qzd/model"
	"github.com/sirupsen/logrus"
)

// WebhookSender forwards a notification to the webhook pipeline.
type WebhookSender func(event string, payload interface{}) error

var (
	senderMu      sync.RWMutex
	webhookSender WebhookSender
)

// RegisterWebhookSender installs the function used to forward system errors as webhooks.
func RegisterWebhookSender(sender WebhookSender) {
	senderMu.Lock()
	defer senderMu.Unlock()
	webhookSender = sender
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func buildSlackMessage(title string, fields map[string]string) slackMessage {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	section := slackBlock{Type: "section"}
	for _, k := range keys {
		section.Fields = append(section.Fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", k, fields[k])})
	}
	section.Fields = append(section.Fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%s", time.Now().Format(time.RFC822))})

	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title, Emoji: true}},
		section,
	}}
}

// SlackNotification posts a message to the configured Slack webhook.
func SlackNotification(title string, fields map[string]string) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return nil
	}

	payload, err := request.ToJsonReq(buildSlackMessage(title, fields))
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		return err
	}

	resp, err := request.Call(req, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyError logs systemError and reports it to Slack and the webhook pipeline without blocking.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		if err := SlackNotification("Error From QZD 🐞", map[string]string{"Error": systemError.Error()}); err != nil {
			log.Println(err)
		}

		senderMu.RLock()
		sender := webhookSender
		senderMu.RUnlock()
		if sender != nil {
			if err := sender("system.error", map[string]string{"error": systemError.Error()}); err != nil {
				log.Println(err)
			}
		}
	}(systemError)
}

// AlertFields renders an alert for a Slack message.
func AlertFields(alert model.Alert) map[string]string {
	fields := map[string]string{
		"Rule":     alert.Rule,
		"Severity": alert.Severity,
		"Alert":    alert.AlertID,
	}
	for k, v := range alert.Details {
		fields[k] = fmt.Sprint(v)
	}
	return fields
}

// NotifyAlert reports a fraud alert to Slack without blocking.
func NotifyAlert(alert model.Alert) {
	go func(alert model.Alert) {
		if err := SlackNotification("Fraud Alert From QZD 🚨", AlertFields(alert)); err != nil {
			logrus.Errorf("failed to notify alert %s: %v", alert.AlertID, err)
		}
	}(alert)
}
