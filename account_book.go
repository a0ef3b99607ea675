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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
)

// accountBook holds balances and histories. One lock guards every balance mutation so a
// multi-leg posting is applied atomically.
type accountBook struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	histories map[string][]model.Transaction
	// postings indexes the response leg of every committed transaction id.
	postings map[string]model.Transaction
	limits   map[string]int64
	now      func() time.Time
}

func newAccountBook(limits map[string]int64, now func() time.Time) *accountBook {
	return &accountBook{
		accounts:  make(map[string]*model.Account),
		histories: make(map[string][]model.Transaction),
		postings:  make(map[string]model.Transaction),
		limits:    limits,
		now:       now,
	}
}

func accountNotFound(id string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("account with ID '%s' not found", id), nil)
}

func (b *accountBook) create(account model.Account) (model.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.accounts[account.AccountID]; ok {
		return model.Account{}, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("account '%s' already exists", account.AccountID), nil)
	}
	account.Balance = account.OpeningBalance
	stored := account
	b.accounts[account.AccountID] = &stored
	return stored, nil
}

func (b *accountBook) get(id string) (model.Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	account, ok := b.accounts[id]
	if !ok {
		return model.Account{}, accountNotFound(id)
	}
	return *account, nil
}

func (b *accountBook) list() []model.Account {
	b.mu.RLock()
	out := make([]model.Account, 0, len(b.accounts))
	for _, account := range b.accounts {
		out = append(out, *account)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

func (b *accountBook) setStatus(id, status string) (model.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	account, ok := b.accounts[id]
	if !ok {
		return model.Account{}, accountNotFound(id)
	}
	account.Status = status
	account.UpdatedAt = b.now().UTC()
	return *account, nil
}

// history returns the account's transactions, most recent first.
func (b *accountBook) history(id string) ([]model.Transaction, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.accounts[id]; !ok {
		return nil, accountNotFound(id)
	}
	return copyTransactions(b.histories[id]), nil
}

// snapshot returns an account with its history under one read lock.
func (b *accountBook) snapshot(id string) (model.Account, []model.Transaction, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	account, ok := b.accounts[id]
	if !ok {
		return model.Account{}, nil, accountNotFound(id)
	}
	return *account, copyTransactions(b.histories[id]), nil
}

func (b *accountBook) lookup(transactionID string) (model.Transaction, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	txn, ok := b.postings[transactionID]
	if !ok {
		return model.Transaction{}, false
	}
	return txn.Copy(), true
}

// validate runs the posting checks for legs without applying them.
func (b *accountBook) validate(legs []model.Transaction) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, err := b.checkLocked(legs)
	return err
}

// post applies legs atomically. commit, when set, runs after the checks pass and before any
// balance changes; an error from commit leaves every balance untouched. The first leg is the
// response recorded for the transaction id.
func (b *accountBook) post(legs []model.Transaction, commit func() error) (model.Transaction, error) {
	if len(legs) == 0 {
		return model.Transaction{}, fmt.Errorf("posting has no legs")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	txnID := legs[0].TransactionID
	if _, ok := b.postings[txnID]; ok {
		return model.Transaction{}, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("transaction %s already posted", txnID), nil)
	}

	deltas, err := b.checkLocked(legs)
	if err != nil {
		return model.Transaction{}, err
	}
	if commit != nil {
		if err := commit(); err != nil {
			return model.Transaction{}, err
		}
	}

	now := b.now().UTC()
	for id, delta := range deltas {
		account := b.accounts[id]
		account.Balance += delta
		account.UpdatedAt = now
	}
	for _, leg := range legs {
		b.histories[leg.AccountID] = append([]model.Transaction{leg.Copy()}, b.histories[leg.AccountID]...)
	}
	b.postings[txnID] = legs[0].Copy()
	return legs[0].Copy(), nil
}

func (b *accountBook) checkLocked(legs []model.Transaction) (map[string]int64, error) {
	deltas := make(map[string]int64, len(legs))
	outbound := make(map[string]int64, len(legs))

	for _, leg := range legs {
		if leg.Amount <= 0 {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be greater than zero", nil)
		}
		account, ok := b.accounts[leg.AccountID]
		if !ok {
			return nil, accountNotFound(leg.AccountID)
		}
		if account.IsFrozen() {
			return nil, apierror.NewAPIError(apierror.ErrAccountFrozen, fmt.Sprintf("account '%s' is frozen", account.AccountID), nil)
		}
		if leg.Currency != account.Currency {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("currency mismatch: account '%s' holds %s, transaction is in %s", account.AccountID, account.Currency, leg.Currency), nil)
		}
		delta := transactionDelta(leg, account.AccountID)
		sum, ok := addChecked(deltas[account.AccountID], delta)
		if !ok {
			return nil, amountOverflow(account.AccountID)
		}
		deltas[account.AccountID] = sum
		if delta < 0 {
			outbound[account.AccountID] -= delta
		}
	}

	for id, delta := range deltas {
		account := b.accounts[id]
		balance, ok := addChecked(account.Balance, delta)
		if !ok {
			return nil, amountOverflow(id)
		}
		if balance < 0 {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("insufficient funds in account '%s'", id), map[string]string{
				"balance":   model.FormatAmount(account.Balance),
				"requested": model.FormatAmount(-delta),
			})
		}
	}

	for id, amount := range outbound {
		account := b.accounts[id]
		limit := b.limits[account.KYCLevel]
		if limit <= 0 {
			continue
		}
		spent := b.outboundOnLocked(id, b.now())
		if total, ok := addChecked(spent, amount); !ok || total > limit {
			return nil, apierror.NewAPIError(apierror.ErrLimitExceeded, fmt.Sprintf("daily limit exceeded for account '%s'", id), map[string]string{
				"limit":     model.FormatAmount(limit),
				"spent":     model.FormatAmount(spent),
				"requested": model.FormatAmount(amount),
			})
		}
	}
	return deltas, nil
}

// outboundOnLocked sums outgoing value posted on the UTC day of at.
func (b *accountBook) outboundOnLocked(id string, at time.Time) int64 {
	y, m, d := at.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	var total int64
	for _, txn := range b.histories[id] {
		if txn.CreatedAt.Before(start) {
			break
		}
		if delta := transactionDelta(txn, id); delta < 0 {
			total += -delta
		}
	}
	return total
}

// transactionDelta is the signed effect of txn on accountID's balance.
func transactionDelta(txn model.Transaction, accountID string) int64 {
	switch txn.Type {
	case model.TypeCredit, model.TypeIssuance, model.TypeRedemption:
		return txn.Amount
	case model.TypeDebit:
		return -txn.Amount
	case model.TypeTransfer:
		switch txn.Direction() {
		case model.DirectionInbound:
			return txn.Amount
		case model.DirectionOutbound:
			return -txn.Amount
		}
		if txn.AccountID == txn.CounterpartyAccountID {
			logrus.Warnf("transaction %s is a self-transfer without a direction, counting it as zero", txn.TransactionID)
			return 0
		}
		if txn.CounterpartyAccountID == accountID && txn.AccountID != accountID {
			return txn.Amount
		}
		return -txn.Amount
	}
	logrus.Warnf("transaction %s has unknown type %q", txn.TransactionID, txn.Type)
	return 0
}

func copyTransactions(in []model.Transaction) []model.Transaction {
	out := make([]model.Transaction, len(in))
	for i, txn := range in {
		out[i] = txn.Copy()
	}
	return out
}

// addChecked adds two minor-unit amounts and reports false when the sum does not fit in int64.
func addChecked(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func amountOverflow(accountID string) error {
	return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("amount overflows the balance of account '%s'", accountID), nil)
}
