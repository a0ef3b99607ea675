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
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Processor runs a task on a fixed interval until stopped.
type Processor struct {
	name         string
	pollInterval time.Duration
	task         func(ctx context.Context)
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

// NewProcessor creates a stopped processor that runs task every interval once started.
func NewProcessor(name string, interval time.Duration, task func(ctx context.Context)) *Processor {
	return &Processor{
		name:         name,
		pollInterval: interval,
		task:         task,
		stopCh:       make(chan struct{}),
	}
}

// NewReconciliationProcessor reconciles balances every journal.reconciliation_interval_sec.
// It returns nil when the interval is 0.
func NewReconciliationProcessor(q *Qzd) *Processor {
	interval := time.Duration(q.config.Journal.ReconciliationIntervalSec) * time.Second
	if interval <= 0 {
		return nil
	}
	return NewProcessor("reconciliation", interval, func(ctx context.Context) {
		report := q.ReconcileBalances(ctx)
		if len(report.Mismatched) > 0 {
			logrus.Warnf("reconciliation found %d mismatched accounts out of %d", len(report.Mismatched), report.Checked)
		}
	})
}

// NewDeadLetterRetryProcessor retries the dead-letter queue every
// journal.dead_letter_retry_interval_sec. It returns nil when the interval is 0.
func NewDeadLetterRetryProcessor(q *Qzd) *Processor {
	interval := time.Duration(q.config.Journal.DeadLetterRetryIntervalSec) * time.Second
	if interval <= 0 {
		return nil
	}
	return NewProcessor("dead-letter retry", interval, func(ctx context.Context) {
		q.RetryFailedTransactions(ctx)
	})
}

// Start runs the processor until Stop is called or ctx is done. Starting a running processor is a no-op.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Infof("%s processor started (every %v)", p.name, p.pollInterval)
}

// Stop halts the processor and waits for the current run to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Infof("%s processor stopped", p.name)
}

// IsRunning reports whether the processor loop is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Infof("%s processor context cancelled", p.name)
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.task(ctx)
		}
	}
}
