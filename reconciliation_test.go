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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
)

func TestReconcileCleanBooks(t *testing.T) {
	env := newTestEnv(t)
	alice := env.openAccount(t, model.KYCFull, 5000)
	bob := env.openAccount(t, model.KYCBasic, 0)
	env.cashIn(t, bob.AccountID, 700)
	_, err := env.transfer(t, alice.AccountID, bob.AccountID, 1250)
	require.NoError(t, err)

	report := env.q.ReconcileBalances(context.Background())
	assert.Equal(t, 2, report.Checked)
	assert.Empty(t, report.Mismatched)
	assert.Empty(t, env.q.Alerts())

	recomputed, err := env.q.RecomputeBalance(bob.AccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1950), recomputed)
}

func TestReconcileRaisesMismatchAlert(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, model.KYCBasic, 1000)
	env.cashIn(t, account.AccountID, 500)

	env.q.accounts.mu.Lock()
	env.q.accounts.accounts[account.AccountID].Balance += 3
	env.q.accounts.mu.Unlock()

	report := env.q.ReconcileBalances(context.Background())
	require.Len(t, report.Mismatched, 1)
	m := report.Mismatched[0]
	assert.Equal(t, account.AccountID, m.AccountID)
	assert.Equal(t, int64(1503), m.Stored)
	assert.Equal(t, int64(1500), m.Recomputed)
	require.NotEmpty(t, m.AlertID)

	alerts := env.q.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.RuleBalanceMismatch, alerts[0].Rule)
	assert.Equal(t, model.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.q.metrics.AlertsRaised.WithLabelValues(model.RuleBalanceMismatch)))

	// A second run finds the mismatch again but the open alert is deduplicated.
	again := env.q.ReconcileBalances(context.Background())
	require.Len(t, again.Mismatched, 1)
	assert.Empty(t, again.Mismatched[0].AlertID)
	assert.Len(t, env.q.Alerts(), 1)

	acked, err := env.q.AcknowledgeAlert(context.Background(), env.mutation(t, "/alerts/"+m.AlertID+"/ack", "ack-1", nil), m.AlertID)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Empty(t, env.q.Alerts())

	_, err = env.q.AcknowledgeAlert(context.Background(), env.mutation(t, "/alerts/x/ack", "ack-2", nil), "alt_missing")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestStructuringAlertFromTransfers(t *testing.T) {
	env := newTestEnv(t)
	sender := env.openAccount(t, model.KYCFull, 100000)
	receiver := env.openAccount(t, model.KYCFull, 0)

	for i := 0; i < 3; i++ {
		_, err := env.transfer(t, sender.AccountID, receiver.AccountID, 9900)
		require.NoError(t, err)
		env.clock.Advance(time.Minute)
	}

	alerts := env.q.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.RuleStructuring, alerts[0].Rule)
	assert.Equal(t, sender.AccountID, alerts[0].Details["accountId"])
	assert.Equal(t, float64(1), testutil.ToFloat64(env.q.metrics.AlertsRaised.WithLabelValues(model.RuleStructuring)))
}

func TestNewAccountBurstAlert(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 4; i++ {
		env.openAccount(t, model.KYCBasic, 0)
	}
	assert.Empty(t, env.q.Alerts())

	last := env.openAccount(t, model.KYCBasic, 0)
	alerts := env.q.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.RuleNewAccountBurst, alerts[0].Rule)
	assert.Equal(t, last.AccountID, alerts[0].Details["lastAccountId"])
}

func TestRecomputeBalanceSelfTransfer(t *testing.T) {
	account := model.Account{AccountID: "acc_1", OpeningBalance: 100}
	history := []model.Transaction{
		{AccountID: "acc_1", CounterpartyAccountID: "acc_1", Type: model.TypeTransfer, Amount: 50},
		{AccountID: "acc_1", Type: model.TypeCredit, Amount: 25},
	}
	assert.Equal(t, int64(125), recomputeBalance(account, history))
}
