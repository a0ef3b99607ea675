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

package fraud

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
	"github.com/sirupsen/logrus"
)

const globalScope = "global"

// AlertSink receives every alert the engine raises.
type AlertSink interface {
	AlertRaised(alert model.Alert)
}

// AlertSinkFunc adapts a function to AlertSink.
type AlertSinkFunc func(alert model.Alert)

// AlertRaised calls f(alert).
func (f AlertSinkFunc) AlertRaised(alert model.Alert) { f(alert) }

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSink registers a sink that receives every raised alert.
func WithSink(sink AlertSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sink) }
}

// Engine evaluates sliding window rules over posted transfers and account creations.
type Engine struct {
	mu    sync.Mutex
	rules Rules
	now   func() time.Time
	sinks []AlertSink

	structuring map[string]window
	velocity    map[string]window
	creations   window

	alerts []*model.Alert
	byID   map[string]*model.Alert
	// active maps a dedupe key to the id of its unacknowledged alert.
	active map[string]string
}

// NewEngine creates a fraud engine evaluating rules against a wall clock unless WithClock
// overrides it.
func NewEngine(rules Rules, opts ...Option) *Engine {
	e := &Engine{
		rules:       rules,
		now:         time.Now,
		structuring: make(map[string]window),
		velocity:    make(map[string]window),
		byID:        make(map[string]*model.Alert),
		active:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddSink registers another alert consumer.
func (e *Engine) AddSink(sink AlertSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// ObserveTransaction feeds a posted transaction to the transfer rules. Only the
// outbound leg of a transfer counts.
func (e *Engine) ObserveTransaction(txn model.Transaction) []model.Alert {
	if !txn.IsOutboundTransfer() {
		return nil
	}

	e.mu.Lock()
	now := e.now()
	var raised []model.Alert

	ev := event{at: now, amount: txn.Amount}
	account := txn.AccountID

	v := e.velocity[account].evict(now, e.rules.VelocityWindow)
	v = append(v, ev)
	e.velocity[account] = v
	if len(v) >= e.rules.VelocityCount {
		if alert, ok := e.raiseLocked(model.RuleVelocity, model.SeverityMedium, account, map[string]interface{}{
			"accountId":     account,
			"count":         len(v),
			"windowMinutes": int(e.rules.VelocityWindow / time.Minute),
		}); ok {
			raised = append(raised, alert)
		}
	}

	s := e.structuring[account].evict(now, e.rules.StructuringWindow)
	if e.rules.isStructuringAmount(txn.Amount) {
		s = append(s, ev)
	}
	e.structuring[account] = s
	if len(s) >= e.rules.StructuringCount {
		if alert, ok := e.raiseLocked(model.RuleStructuring, model.SeverityHigh, account, map[string]interface{}{
			"accountId":     account,
			"count":         len(s),
			"total":         model.FormatAmount(s.total()),
			"threshold":     model.FormatAmount(e.rules.StructuringThreshold),
			"windowMinutes": int(e.rules.StructuringWindow / time.Minute),
		}); ok {
			raised = append(raised, alert)
		}
	}
	e.mu.Unlock()

	e.deliver(raised)
	return raised
}

// ObserveAccountCreated feeds an account creation to the global burst rule.
func (e *Engine) ObserveAccountCreated(accountID string) []model.Alert {
	e.mu.Lock()
	now := e.now()
	var raised []model.Alert

	e.creations = e.creations.evict(now, e.rules.BurstWindow)
	e.creations = append(e.creations, event{at: now})
	if len(e.creations) >= e.rules.BurstCount {
		if alert, ok := e.raiseLocked(model.RuleNewAccountBurst, model.SeverityMedium, globalScope, map[string]interface{}{
			"count":         len(e.creations),
			"lastAccountId": accountID,
			"windowMinutes": int(e.rules.BurstWindow / time.Minute),
		}); ok {
			raised = append(raised, alert)
		}
	}
	e.mu.Unlock()

	e.deliver(raised)
	return raised
}

// RaiseBalanceMismatch records a reconciliation failure for accountID.
func (e *Engine) RaiseBalanceMismatch(accountID string, stored, recomputed int64) (model.Alert, bool) {
	e.mu.Lock()
	alert, ok := e.raiseLocked(model.RuleBalanceMismatch, model.SeverityHigh, accountID, map[string]interface{}{
		"accountId":  accountID,
		"stored":     model.FormatAmount(stored),
		"recomputed": model.FormatAmount(recomputed),
		"difference": model.FormatAmount(stored - recomputed),
	})
	e.mu.Unlock()

	if ok {
		e.deliver([]model.Alert{alert})
	}
	return alert, ok
}

// Alerts returns unacknowledged alerts, newest first.
func (e *Engine) Alerts() []model.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Alert, 0, len(e.active))
	for i := len(e.alerts) - 1; i >= 0; i-- {
		if !e.alerts[i].Acknowledged {
			out = append(out, e.alerts[i].Copy())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	return out
}

// Acknowledge marks an alert handled and lets its rule fire again.
func (e *Engine) Acknowledge(id string) (model.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.byID[id]
	if !ok {
		return model.Alert{}, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("alert %s not found", id), nil)
	}
	if !alert.Acknowledged {
		alert.Acknowledged = true
		if e.active[alert.DedupeKey] == id {
			delete(e.active, alert.DedupeKey)
		}
		logrus.Infof("alert %s (%s) acknowledged", id, alert.Rule)
	}
	return alert.Copy(), nil
}

func (e *Engine) raiseLocked(rule, severity, scope string, details map[string]interface{}) (model.Alert, bool) {
	key := dedupeKey(rule, scope)
	if _, exists := e.active[key]; exists {
		return model.Alert{}, false
	}

	alert := &model.Alert{
		AlertID:   model.GenerateUUIDWithSuffix("alert"),
		Severity:  severity,
		Rule:      rule,
		TS:        e.now().UTC(),
		Details:   details,
		DedupeKey: key,
	}
	e.alerts = append(e.alerts, alert)
	e.byID[alert.AlertID] = alert
	e.active[key] = alert.AlertID

	logrus.Warnf("fraud alert raised: rule=%s severity=%s key=%s", rule, severity, key)
	return alert.Copy(), true
}

func (e *Engine) deliver(alerts []model.Alert) {
	if len(alerts) == 0 {
		return
	}
	e.mu.Lock()
	sinks := append([]AlertSink(nil), e.sinks...)
	e.mu.Unlock()

	for _, alert := range alerts {
		for _, sink := range sinks {
			sink.AlertRaised(alert.Copy())
		}
	}
}
