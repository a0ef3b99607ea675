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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzd-finance/qzd/config"
	"github.com/qzd-finance/qzd/model"
)

func TestProcessorRunsUntilStopped(t *testing.T) {
	var runs int32
	p := NewProcessor("test", 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
	})

	p.Start(context.Background())
	assert.True(t, p.IsRunning())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, time.Second, 5*time.Millisecond)

	p.Stop()
	assert.False(t, p.IsRunning())
	stopped := atomic.LoadInt32(&runs)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&runs))

	// Stop is idempotent and the processor can be restarted.
	p.Stop()
	p.Start(context.Background())
	assert.True(t, p.IsRunning())
	p.Stop()
}

func TestProcessorStopsOnContextCancel(t *testing.T) {
	p := NewProcessor("test", time.Hour, func(ctx context.Context) {})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	assert.Eventually(t, func() bool { return !p.IsRunning() }, time.Second, 5*time.Millisecond)
}

func TestMaintenanceProcessorsDisabledByDefault(t *testing.T) {
	env := newTestEnv(t, func(cnf *config.Configuration) {
		cnf.Journal.ReconciliationIntervalSec = 0
		cnf.Journal.DeadLetterRetryIntervalSec = 0
	})
	assert.Nil(t, NewReconciliationProcessor(env.q))
	assert.Nil(t, NewDeadLetterRetryProcessor(env.q))
}

func TestDeadLetterRetryProcessorDrainsQueue(t *testing.T) {
	env := newTestEnv(t, func(cnf *config.Configuration) {
		cnf.Journal.DeadLetterRetryIntervalSec = 1
	})
	account := env.openAccount(t, model.KYCBasic, 0)

	env.q.Faults().SimulateCrash(JobAgentCashIn, CrashBeforeCommit)
	job := CashInJob{AccountID: account.AccountID, AgentID: "agent-1", Amount: 250}
	_, err := env.q.AgentCashIn(context.Background(), env.mutation(t, "/accounts/x/cash-in", "c1", job), job)
	require.Error(t, err)
	require.Len(t, env.q.DeadLetters(), 1)

	p := NewDeadLetterRetryProcessor(env.q)
	require.NotNil(t, p)
	p.Start(context.Background())
	defer p.Stop()

	assert.Eventually(t, func() bool { return len(env.q.DeadLetters()) == 0 }, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int64(250), env.balance(t, account.AccountID))
}

func TestMaintenanceTaskHandlers(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, model.KYCBasic, 0)
	env.cashIn(t, account.AccountID, 100)

	assert.NoError(t, env.q.processReconcile(context.Background(), nil))
	assert.NoError(t, env.q.processJournalRetry(context.Background(), nil))
	assert.Empty(t, env.q.Alerts())
}
