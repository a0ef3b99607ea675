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
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/qzd-finance/qzd/config"
	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func outbound(account string, amount int64) model.Transaction {
	return model.Transaction{
		TransactionID:         model.GenerateUUIDWithSuffix("txn"),
		AccountID:             account,
		CounterpartyAccountID: "acct_" + gofakeit.UUID(),
		Type:                  model.TypeTransfer,
		Amount:                amount,
		Currency:              "QZD",
		Status:                model.StatusPosted,
		MetaData:              map[string]interface{}{model.MetaDirection: model.DirectionOutbound},
	}
}

func alertsForRule(alerts []model.Alert, rule string) []model.Alert {
	var out []model.Alert
	for _, a := range alerts {
		if a.Rule == rule {
			out = append(out, a)
		}
	}
	return out
}

func TestStructuringFiresOnceUntilAcknowledged(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(DefaultRules(), WithClock(clock.Now))

	for _, amount := range []int64{9800, 9900, 9700} {
		e.ObserveTransaction(outbound("acct_a", amount))
		clock.Advance(time.Minute)
	}

	structuring := alertsForRule(e.Alerts(), model.RuleStructuring)
	require.Len(t, structuring, 1)
	assert.Equal(t, "acct_a", structuring[0].Details["accountId"])
	assert.Equal(t, model.SeverityHigh, structuring[0].Severity)
	assert.Equal(t, "structuring:acct_a", structuring[0].DedupeKey)

	e.ObserveTransaction(outbound("acct_a", 9600))
	assert.Len(t, alertsForRule(e.Alerts(), model.RuleStructuring), 1)

	_, err := e.Acknowledge(structuring[0].AlertID)
	require.NoError(t, err)
	assert.Empty(t, alertsForRule(e.Alerts(), model.RuleStructuring))

	// the window still holds four qualifying transfers, so new evidence fires again
	raised := e.ObserveTransaction(outbound("acct_a", 9550))
	require.Len(t, alertsForRule(raised, model.RuleStructuring), 1)
	assert.NotEqual(t, structuring[0].AlertID, raised[0].AlertID)
}

func TestStructuringIgnoresAmountsOutsideBand(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(DefaultRules(), WithClock(clock.Now))

	for _, amount := range []int64{10000, 9499, 12000, 9500} {
		e.ObserveTransaction(outbound("acct_b", amount))
	}
	assert.Empty(t, alertsForRule(e.Alerts(), model.RuleStructuring))
}

func TestStructuringWindowSlides(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(DefaultRules(), WithClock(clock.Now))

	e.ObserveTransaction(outbound("acct_c", 9800))
	clock.Advance(10 * time.Minute)
	e.ObserveTransaction(outbound("acct_c", 9800))
	clock.Advance(6 * time.Minute)
	// first transfer is now 16 minutes old
	e.ObserveTransaction(outbound("acct_c", 9800))
	assert.Empty(t, alertsForRule(e.Alerts(), model.RuleStructuring))

	clock.Advance(time.Minute)
	e.ObserveTransaction(outbound("acct_c", 9800))
	assert.Len(t, alertsForRule(e.Alerts(), model.RuleStructuring), 1)
}

func TestVelocity(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(DefaultRules(), WithClock(clock.Now))

	for i := 0; i < 4; i++ {
		e.ObserveTransaction(outbound("acct_v", 100))
		clock.Advance(20 * time.Second)
	}
	assert.Empty(t, alertsForRule(e.Alerts(), model.RuleVelocity))

	e.ObserveTransaction(outbound("acct_v", 100))
	velocity := alertsForRule(e.Alerts(), model.RuleVelocity)
	require.Len(t, velocity, 1)
	assert.Equal(t, model.SeverityMedium, velocity[0].Severity)

	// other accounts are tracked separately
	e.ObserveTransaction(outbound("acct_w", 100))
	assert.Len(t, alertsForRule(e.Alerts(), model.RuleVelocity), 1)
}

func TestVelocityIgnoresInboundLegs(t *testing.T) {
	e := NewEngine(DefaultRules())
	for i := 0; i < 10; i++ {
		txn := outbound("acct_in", 100)
		txn.MetaData[model.MetaDirection] = model.DirectionInbound
		e.ObserveTransaction(txn)

		credit := outbound("acct_in", 100)
		credit.Type = model.TypeCredit
		e.ObserveTransaction(credit)
	}
	assert.Empty(t, e.Alerts())
}

func TestNewAccountBurst(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(DefaultRules(), WithClock(clock.Now))

	for i := 0; i < 4; i++ {
		e.ObserveAccountCreated(model.GenerateUUIDWithSuffix("acct"))
		clock.Advance(time.Minute)
	}
	assert.Empty(t, e.Alerts())

	clock.Advance(2 * time.Minute)
	// first creation fell out of the window
	e.ObserveAccountCreated(model.GenerateUUIDWithSuffix("acct"))
	assert.Empty(t, e.Alerts())

	e.ObserveAccountCreated(model.GenerateUUIDWithSuffix("acct"))
	burst := alertsForRule(e.Alerts(), model.RuleNewAccountBurst)
	require.Len(t, burst, 1)
	assert.Equal(t, "new_account_burst:global", burst[0].DedupeKey)
}

func TestBalanceMismatchDedupe(t *testing.T) {
	e := NewEngine(DefaultRules())

	alert, raised := e.RaiseBalanceMismatch("acct_m", 10000, 9000)
	require.True(t, raised)
	assert.Equal(t, "10.00", alert.Details["difference"])

	_, raised = e.RaiseBalanceMismatch("acct_m", 10000, 9000)
	assert.False(t, raised)

	_, err := e.Acknowledge(alert.AlertID)
	require.NoError(t, err)
	_, raised = e.RaiseBalanceMismatch("acct_m", 10000, 9000)
	assert.True(t, raised)
}

func TestAlertsNewestFirst(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(DefaultRules(), WithClock(clock.Now))

	first, _ := e.RaiseBalanceMismatch("acct_1", 1, 0)
	clock.Advance(time.Second)
	second, _ := e.RaiseBalanceMismatch("acct_2", 1, 0)

	alerts := e.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, second.AlertID, alerts[0].AlertID)
	assert.Equal(t, first.AlertID, alerts[1].AlertID)

	alerts[0].Details["accountId"] = "mutated"
	assert.Equal(t, "acct_2", e.Alerts()[0].Details["accountId"])
}

func TestAcknowledgeUnknown(t *testing.T) {
	e := NewEngine(DefaultRules())
	_, err := e.Acknowledge("alert_missing")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestSinksReceiveAlerts(t *testing.T) {
	var got []model.Alert
	e := NewEngine(DefaultRules(), WithSink(AlertSinkFunc(func(a model.Alert) {
		got = append(got, a)
	})))

	e.RaiseBalanceMismatch("acct_s", 500, 0)
	require.Len(t, got, 1)
	assert.Equal(t, model.RuleBalanceMismatch, got[0].Rule)
}

func TestRulesFromConfig(t *testing.T) {
	r := RulesFromConfig(config.FraudConfig{VelocityCount: 10, BurstWindowMinutes: 1})
	assert.Equal(t, 10, r.VelocityCount)
	assert.Equal(t, time.Minute, r.BurstWindow)
	assert.Equal(t, int64(10000), r.StructuringThreshold)
	assert.Equal(t, 15*time.Minute, r.StructuringWindow)
}
