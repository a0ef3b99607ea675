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
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
)

var tracer = otel.Tracer("qzd.transactions")

// journalExecutor applies journal jobs to the account book.
type journalExecutor struct {
	q *Qzd
}

func (e *journalExecutor) Lookup(transactionID string) (model.Transaction, bool) {
	return e.q.accounts.lookup(transactionID)
}

func (e *journalExecutor) Execute(ctx context.Context, transactionID string, job Job) (model.Transaction, error) {
	if err := e.q.faults.trigger(job.Kind, CrashBeforeCommit); err != nil {
		return model.Transaction{}, err
	}

	txn, err := e.q.execute(ctx, transactionID, job)
	if err != nil {
		return model.Transaction{}, err
	}

	if err := e.q.faults.trigger(job.Kind, CrashAfterCommit); err != nil {
		return model.Transaction{}, err
	}
	return txn, nil
}

func (q *Qzd) execute(ctx context.Context, transactionID string, job Job) (model.Transaction, error) {
	_, span := tracer.Start(ctx, "Execute Job")
	defer span.End()
	span.SetAttributes(attribute.String("job.kind", string(job.Kind)), attribute.String("transaction.id", transactionID))

	switch job.Kind {
	case JobAgentCashIn:
		return q.accounts.post(q.cashInLegs(transactionID, *job.CashIn), nil)
	case JobTransfer:
		return q.accounts.post(q.transferLegs(transactionID, *job.Transfer), nil)
	case JobIssuance:
		return q.executeMint(transactionID, *job.Issuance)
	case JobVoucherIssue:
		return q.executeVoucherIssue(transactionID, *job.Voucher)
	case JobOfflineVoucherCreate:
		return q.executeOfflineVoucherCreate(transactionID, *job.OfflineVoucher)
	case JobOfflineVoucherRedeem:
		return q.executeOfflineVoucherRedeem(transactionID, *job.OfflineRedeem)
	}
	return model.Transaction{}, fmt.Errorf("unknown job kind %q", job.Kind)
}

// currencyOf returns the account's currency, or the default currency for unknown accounts
// which the posting checks then reject.
func (q *Qzd) currencyOf(accountID string) string {
	if account, err := q.accounts.get(accountID); err == nil {
		return account.Currency
	}
	return q.config.Accounts.DefaultCurrency
}

func (q *Qzd) newLeg(transactionID, accountID, txnType, currency string, amount int64) model.Transaction {
	return model.Transaction{
		TransactionID: transactionID,
		AccountID:     accountID,
		Type:          txnType,
		Amount:        amount,
		Currency:      currency,
		Status:        model.StatusPosted,
		CreatedAt:     q.now().UTC(),
		MetaData:      map[string]interface{}{},
	}
}

func (q *Qzd) cashInLegs(transactionID string, job CashInJob) []model.Transaction {
	leg := q.newLeg(transactionID, job.AccountID, model.TypeCredit, q.currencyOf(job.AccountID), job.Amount)
	leg.MetaData["agent_id"] = job.AgentID
	leg.MetaData["source"] = "agent_cash_in"
	return []model.Transaction{leg}
}

// transferLegs builds the outbound leg first so it is the recorded response.
func (q *Qzd) transferLegs(transactionID string, job TransferJob) []model.Transaction {
	currency := q.currencyOf(job.FromAccountID)
	out := q.newLeg(transactionID, job.FromAccountID, model.TypeTransfer, currency, job.Amount)
	out.CounterpartyAccountID = job.ToAccountID
	out.MetaData[model.MetaDirection] = model.DirectionOutbound

	in := q.newLeg(transactionID, job.ToAccountID, model.TypeTransfer, currency, job.Amount)
	in.CounterpartyAccountID = job.FromAccountID
	in.MetaData[model.MetaDirection] = model.DirectionInbound

	if job.Memo != "" {
		out.MetaData["memo"] = job.Memo
		in.MetaData["memo"] = job.Memo
	}
	return []model.Transaction{out, in}
}

// runJob replays a posted scope or validates legs and runs the job through the journal.
func (q *Qzd) runJob(ctx context.Context, mctx MutationContext, job Job, validate func() error) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Run "+string(job.Kind))
	defer span.End()

	if txn, ok, err := q.journal.Replay(mctx); err != nil {
		return nil, err
	} else if ok {
		return &txn, nil
	}

	// A scope seen before resumes at execution; the posting re-runs every check.
	if _, known := q.journal.Record(mctx.Scope); !known && validate != nil {
		if err := validate(); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	txn, err := q.journal.Run(ctx, mctx, job)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func requirePositive(amount int64) error {
	if amount <= 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be greater than zero", nil)
	}
	return nil
}

// AgentCashIn credits an account with cash received by an agent.
func (q *Qzd) AgentCashIn(ctx context.Context, mctx MutationContext, job CashInJob) (*model.Transaction, error) {
	return q.runJob(ctx, mctx, NewCashInJob(job), func() error {
		if err := requirePositive(job.Amount); err != nil {
			return err
		}
		if strings.TrimSpace(job.AgentID) == "" {
			return apierror.NewAPIError(apierror.ErrInvalidInput, "agent_id is required", nil)
		}
		return q.accounts.validate(q.cashInLegs("", job))
	})
}

// Transfer moves value between two accounts and returns the sender's leg.
func (q *Qzd) Transfer(ctx context.Context, mctx MutationContext, job TransferJob) (*model.Transaction, error) {
	return q.runJob(ctx, mctx, NewTransferJob(job), func() error {
		if err := requirePositive(job.Amount); err != nil {
			return err
		}
		if job.FromAccountID == job.ToAccountID {
			return apierror.NewAPIError(apierror.ErrInvalidInput, "cannot transfer to the same account", nil)
		}
		return q.accounts.validate(q.transferLegs("", job))
	})
}

// Lookup returns the posted response leg of a transaction id.
func (q *Qzd) Lookup(transactionID string) (*model.Transaction, error) {
	txn, ok := q.accounts.lookup(transactionID)
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("transaction with ID '%s' not found", transactionID), nil)
	}
	return &txn, nil
}

// DeadLetters returns a snapshot of the dead-letter queue, oldest failure first.
func (q *Qzd) DeadLetters() []model.DeadLetterRecord {
	return q.journal.DeadLetters()
}

// JournalRecord returns a copy of the journal record for scope.
func (q *Qzd) JournalRecord(scope string) (model.JournalRecord, bool) {
	return q.journal.Record(scope)
}

// RetryFailedTransactions re-executes every dead-lettered job with its original transaction id.
//
// Parameters:
// - ctx context.Context: The context for the sweep.
//
// Returns:
// - RetrySummary: How many entries were retried, posted, failed again or rejected.
func (q *Qzd) RetryFailedTransactions(ctx context.Context) RetrySummary {
	return q.journal.RetryFailedTransactions(ctx)
}
