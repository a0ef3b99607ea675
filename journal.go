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
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
)

// Executor applies jobs to account state.
type Executor interface {
	// Execute performs job under transactionID. It must post at most one transaction with that id.
	Execute(ctx context.Context, transactionID string, job Job) (model.Transaction, error)
	// Lookup finds a transaction already committed under transactionID.
	Lookup(transactionID string) (model.Transaction, bool)
}

// JournalHooks are called after a scope changes state. Any of them may be nil.
// OnSuccess fires when an execution posts, OnRecovered when a retry finds the transaction
// already committed, and OnFailure when an attempt is dead-lettered.
type JournalHooks struct {
	OnSuccess   func(ctx context.Context, record model.JournalRecord, txn model.Transaction)
	OnRecovered func(ctx context.Context, record model.JournalRecord, txn model.Transaction)
	OnFailure   func(ctx context.Context, dead model.DeadLetterRecord)
}

// PanicError wraps a panic raised while executing a job.
type PanicError struct {
	Value interface{}
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

type journalEntry struct {
	// exec allows one execution attempt per scope at a time.
	exec   sync.Mutex
	record model.JournalRecord
	job    Job
}

// Journal executes each mutation scope's job exactly once and keeps failed attempts
// in a dead-letter queue until a retry posts them.
type Journal struct {
	mu          sync.Mutex
	entries     map[string]*journalEntry
	deadLetters map[string]*model.DeadLetterRecord
	executor    Executor
	hooks       JournalHooks
	maxWorkers  int
	now         func() time.Time
}

// RetrySummary counts the outcome of one RetryFailedTransactions sweep. Rejected entries failed
// with a client error and were dropped from the dead-letter queue.
type RetrySummary struct {
	Retried  int `json:"retried"`
	Posted   int `json:"posted"`
	Failed   int `json:"failed"`
	Rejected int `json:"rejected"`
}

// NewJournal creates an empty journal.
//
// Parameters:
// - executor Executor: Applies jobs to account state and looks up committed transactions.
// - hooks JournalHooks: Callbacks fired on posting, recovery and dead-lettering.
// - maxWorkers int: How many dead letters a retry sweep executes in parallel. Values below 1 mean 1.
//
// Returns:
// - *Journal: A journal with no records and an empty dead-letter queue.
func NewJournal(executor Executor, hooks JournalHooks, maxWorkers int) *Journal {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Journal{
		entries:     make(map[string]*journalEntry),
		deadLetters: make(map[string]*model.DeadLetterRecord),
		executor:    executor,
		hooks:       hooks,
		maxWorkers:  maxWorkers,
		now:         time.Now,
	}
}

// Replay returns the stored response of an already posted scope.
func (j *Journal) Replay(mctx MutationContext) (model.Transaction, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[mctx.Scope]
	if !ok {
		return model.Transaction{}, false, nil
	}
	if e.record.BodyHash != mctx.BodyHash {
		return model.Transaction{}, false, idempotencyConflict(mctx.Scope)
	}
	if e.record.Status != model.JournalPosted {
		return model.Transaction{}, false, nil
	}
	return e.record.Response.Copy(), true, nil
}

// Run executes job for the scope of mctx. A scope that already posted returns its stored
// response without executing again.
func (j *Journal) Run(ctx context.Context, mctx MutationContext, job Job) (model.Transaction, error) {
	if err := job.Validate(); err != nil {
		return model.Transaction{}, apierror.Wrap(apierror.ErrInternalServer, "invalid journal job", err)
	}

	j.mu.Lock()
	e, ok := j.entries[mctx.Scope]
	if !ok {
		now := j.now().UTC()
		e = &journalEntry{
			job: job,
			record: model.JournalRecord{
				Scope:         mctx.Scope,
				BodyHash:      mctx.BodyHash,
				TransactionID: model.GenerateUUIDWithSuffix("txn"),
				JobKind:       string(job.Kind),
				Status:        model.JournalPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			},
		}
		j.entries[mctx.Scope] = e
	} else if e.record.BodyHash != mctx.BodyHash {
		j.mu.Unlock()
		return model.Transaction{}, idempotencyConflict(mctx.Scope)
	}
	j.mu.Unlock()

	return j.attempt(ctx, e)
}

func (j *Journal) attempt(ctx context.Context, e *journalEntry) (model.Transaction, error) {
	ctx, span := otel.Tracer("qzd.journal").Start(ctx, "Journal.Attempt")
	defer span.End()

	e.exec.Lock()
	defer e.exec.Unlock()

	j.mu.Lock()
	if e.record.Status == model.JournalPosted {
		resp := e.record.Response.Copy()
		j.mu.Unlock()
		return resp, nil
	}
	e.record.Attempts++
	e.record.UpdatedAt = j.now().UTC()
	txnID := e.record.TransactionID
	attempts := e.record.Attempts
	j.mu.Unlock()

	span.SetAttributes(
		attribute.String("transaction.id", txnID),
		attribute.String("job.kind", string(e.job.Kind)),
		attribute.Int("journal.attempts", attempts),
	)

	if txn, ok := j.executor.Lookup(txnID); ok {
		rec := j.markPosted(e, txn)
		logrus.Infof("journal %s: transaction %s was already committed, recovered on attempt %d", rec.Scope, txnID, attempts)
		if j.hooks.OnRecovered != nil {
			j.hooks.OnRecovered(ctx, rec, txn.Copy())
		}
		return txn.Copy(), nil
	}

	txn, err := j.safeExecute(ctx, txnID, e.job)
	if err == nil {
		rec := j.markPosted(e, txn)
		if j.hooks.OnSuccess != nil {
			j.hooks.OnSuccess(ctx, rec, txn.Copy())
		}
		return txn.Copy(), nil
	}

	if apierror.IsClientError(err) {
		j.markRejected(e, err)
		logrus.Warnf("journal %s: transaction %s rejected: %v", e.record.Scope, txnID, err)
		return model.Transaction{}, err
	}

	dead := j.markFailed(e, err)
	logAndRecordError(span, fmt.Sprintf("journal %s: transaction %s failed on attempt %d", dead.Scope, txnID, attempts), err)
	if j.hooks.OnFailure != nil {
		j.hooks.OnFailure(ctx, dead)
	}
	return model.Transaction{}, apierror.Wrap(apierror.ErrInternalServer, "transaction execution failed", err)
}

func (j *Journal) safeExecute(ctx context.Context, txnID string, job Job) (txn model.Transaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return j.executor.Execute(ctx, txnID, job)
}

func (j *Journal) markPosted(e *journalEntry, txn model.Transaction) model.JournalRecord {
	j.mu.Lock()
	defer j.mu.Unlock()

	resp := txn.Copy()
	e.record.Status = model.JournalPosted
	e.record.Response = &resp
	e.record.LastError = nil
	e.record.UpdatedAt = j.now().UTC()
	delete(j.deadLetters, e.record.Scope)
	return e.record.Copy()
}

// markRejected records a client error. The job cannot succeed as submitted, so it leaves the
// dead-letter queue.
func (j *Journal) markRejected(e *journalEntry, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	normalized := normalizeError(err)
	e.record.Status = model.JournalFailed
	e.record.LastError = &normalized
	e.record.UpdatedAt = j.now().UTC()
	delete(j.deadLetters, e.record.Scope)
}

func (j *Journal) markFailed(e *journalEntry, err error) model.DeadLetterRecord {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().UTC()
	normalized := normalizeError(err)
	e.record.Status = model.JournalFailed
	e.record.LastError = &normalized
	e.record.UpdatedAt = now

	dead := &model.DeadLetterRecord{
		Scope:         e.record.Scope,
		TransactionID: e.record.TransactionID,
		JobKind:       string(e.job.Kind),
		FailedAt:      now,
		Attempts:      e.record.Attempts,
		Error:         normalized,
		Snapshot:      e.job.Snapshot(),
	}
	j.deadLetters[e.record.Scope] = dead
	return dead.Copy()
}

func normalizeError(err error) model.ExecutionError {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return model.ExecutionError{Name: "Panic", Message: panicErr.Error(), Stack: panicErr.Stack}
	}
	if errors.Is(err, ErrSimulatedCrash) {
		return model.ExecutionError{Name: "SimulatedCrash", Message: err.Error()}
	}
	if code, ok := apierror.CodeOf(err); ok {
		return model.ExecutionError{Name: string(code), Message: err.Error()}
	}
	return model.ExecutionError{
		Name:    strings.TrimPrefix(fmt.Sprintf("%T", err), "*"),
		Message: err.Error(),
	}
}

// RetryFailedTransactions re-attempts every dead-lettered scope. Entries that post leave the
// queue; entries that fail again are updated in place.
func (j *Journal) RetryFailedTransactions(ctx context.Context) RetrySummary {
	j.mu.Lock()
	dead := make([]model.DeadLetterRecord, 0, len(j.deadLetters))
	for _, d := range j.deadLetters {
		dead = append(dead, *d)
	}
	j.mu.Unlock()

	sortDeadLetters(dead)

	var (
		summary RetrySummary
		mu      sync.Mutex
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, j.maxWorkers)

	for _, d := range dead {
		j.mu.Lock()
		e, ok := j.entries[d.Scope]
		j.mu.Unlock()
		if !ok {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(e *journalEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := j.attempt(ctx, e)

			mu.Lock()
			defer mu.Unlock()
			summary.Retried++
			switch {
			case err == nil:
				summary.Posted++
			case apierror.IsClientError(err):
				summary.Rejected++
			default:
				summary.Failed++
			}
		}(e)
	}
	wg.Wait()

	if summary.Retried > 0 {
		logrus.Infof("dead-letter retry: %d retried, %d posted, %d failed, %d rejected",
			summary.Retried, summary.Posted, summary.Failed, summary.Rejected)
	}
	return summary
}

// DeadLetters returns a snapshot of the dead-letter queue, oldest failure first.
func (j *Journal) DeadLetters() []model.DeadLetterRecord {
	j.mu.Lock()
	out := make([]model.DeadLetterRecord, 0, len(j.deadLetters))
	for _, d := range j.deadLetters {
		out = append(out, d.Copy())
	}
	j.mu.Unlock()

	sortDeadLetters(out)
	return out
}

// Record returns a copy of the journal record for scope.
func (j *Journal) Record(scope string) (model.JournalRecord, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[scope]
	if !ok {
		return model.JournalRecord{}, false
	}
	return e.record.Copy(), true
}

func sortDeadLetters(dead []model.DeadLetterRecord) {
	sort.Slice(dead, func(a, b int) bool {
		if dead[a].FailedAt.Equal(dead[b].FailedAt) {
			return dead[a].Scope < dead[b].Scope
		}
		return dead[a].FailedAt.Before(dead[b].FailedAt)
	})
}
