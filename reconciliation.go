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
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/qzd-finance/qzd/model"
)

// Mismatch is an account whose stored balance disagrees with its history.
type Mismatch struct {
	AccountID  string `json:"account_id"`
	Stored     int64  `json:"stored"`
	Recomputed int64  `json:"recomputed"`
	AlertID    string `json:"alert_id,omitempty"`
}

// ReconciliationReport summarizes one ReconcileBalances run.
type ReconciliationReport struct {
	Checked    int        `json:"checked"`
	Mismatched []Mismatch `json:"mismatched"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// recomputeBalance folds history (most recent first) oldest to newest from opening.
func recomputeBalance(account model.Account, history []model.Transaction) int64 {
	balance := account.OpeningBalance
	for i := len(history) - 1; i >= 0; i-- {
		balance += transactionDelta(history[i], account.AccountID)
	}
	return balance
}

// RecomputeBalance derives an account's balance from its opening balance and history.
func (q *Qzd) RecomputeBalance(accountID string) (int64, error) {
	account, history, err := q.accounts.snapshot(accountID)
	if err != nil {
		return 0, err
	}
	return recomputeBalance(account, history), nil
}

// mismatched reports a difference above half a minor unit. Balances are whole minor units,
// so any difference counts.
func mismatched(stored, recomputed int64) bool {
	diff := stored - recomputed
	if diff < 0 {
		diff = -diff
	}
	return diff*2 > 1
}

// ReconcileBalances checks every account and raises a balance_mismatch alert for each
// disagreement.
func (q *Qzd) ReconcileBalances(ctx context.Context) ReconciliationReport {
	_, span := tracer.Start(ctx, "Reconcile Balances")
	defer span.End()

	report := ReconciliationReport{StartedAt: q.now().UTC(), Mismatched: []Mismatch{}}
	for _, account := range q.accounts.list() {
		stored, history, err := q.accounts.snapshot(account.AccountID)
		if err != nil {
			continue
		}
		report.Checked++

		recomputed := recomputeBalance(stored, history)
		if !mismatched(stored.Balance, recomputed) {
			continue
		}

		logrus.Warnf("balance mismatch on account %s: stored %s, recomputed %s",
			stored.AccountID, model.FormatAmount(stored.Balance), model.FormatAmount(recomputed))
		m := Mismatch{AccountID: stored.AccountID, Stored: stored.Balance, Recomputed: recomputed}
		if alert, raised := q.fraud.RaiseBalanceMismatch(stored.AccountID, stored.Balance, recomputed); raised {
			m.AlertID = alert.AlertID
		}
		report.Mismatched = append(report.Mismatched, m)
	}
	report.FinishedAt = q.now().UTC()

	span.SetAttributes(attribute.Int("accounts.checked", report.Checked), attribute.Int("accounts.mismatched", len(report.Mismatched)))
	return report
}

// Alerts returns unacknowledged fraud alerts, newest first.
func (q *Qzd) Alerts() []model.Alert {
	return q.fraud.Alerts()
}

// AcknowledgeAlert clears an alert so its rule can fire again for the same scope.
func (q *Qzd) AcknowledgeAlert(ctx context.Context, mctx MutationContext, alertID string) (*model.Alert, error) {
	alert, err := ApplyIdempotency(ctx, q.security, mctx, func() (model.Alert, error) {
		return q.fraud.Acknowledge(alertID)
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}
