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
	"sync"
	"time"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
)

const voucherCodeLength = 12

type voucherBook struct {
	mu      sync.Mutex
	cashOut map[string]*model.Voucher
	offline map[string]*model.OfflineVoucher
}

func newVoucherBook() *voucherBook {
	return &voucherBook{
		cashOut: make(map[string]*model.Voucher),
		offline: make(map[string]*model.OfflineVoucher),
	}
}

func (b *voucherBook) addCashOut(v model.Voucher) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.cashOut[v.Code]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("voucher %s already exists", v.Code), nil)
	}
	b.cashOut[v.Code] = &v
	return nil
}

func (b *voucherBook) cashOutVoucher(code string) (model.Voucher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.cashOut[code]
	if !ok {
		return model.Voucher{}, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("voucher %s not found", code), nil)
	}
	return copyVoucher(*v), nil
}

func (b *voucherBook) redeemCashOut(code, agentID string, at time.Time) (model.Voucher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.cashOut[code]
	if !ok {
		return model.Voucher{}, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("voucher %s not found", code), nil)
	}
	if v.Status == model.VoucherRedeemed {
		return model.Voucher{}, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("voucher %s already redeemed", code), nil)
	}
	v.Status = model.VoucherRedeemed
	v.RedeemedBy = agentID
	v.RedeemedAt = &at
	return copyVoucher(*v), nil
}

func (b *voucherBook) addOffline(v model.OfflineVoucher) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.offline[v.VoucherID]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("offline voucher %s already exists", v.VoucherID), nil)
	}
	b.offline[v.VoucherID] = &v
	return nil
}

func (b *voucherBook) offlineVoucher(id string) (model.OfflineVoucher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.offline[id]
	if !ok {
		return model.OfflineVoucher{}, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("offline voucher %s not found", id), nil)
	}
	return copyOfflineVoucher(*v), nil
}

func (b *voucherBook) checkOfflineRedeemable(id string) (model.OfflineVoucher, error) {
	v, err := b.offlineVoucher(id)
	if err != nil {
		return v, err
	}
	if v.Status != model.VoucherPending {
		return model.OfflineVoucher{}, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("offline voucher %s already redeemed", id), nil)
	}
	return v, nil
}

func (b *voucherBook) redeemOffline(id, toAccountID, transactionID string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.offline[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("offline voucher %s not found", id), nil)
	}
	if v.Status != model.VoucherPending {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("offline voucher %s already redeemed", id), nil)
	}
	v.Status = model.VoucherRedeemed
	v.ToAccountID = toAccountID
	v.RedemptionTransaction = transactionID
	v.RedeemedAt = &at
	return nil
}

func copyVoucher(v model.Voucher) model.Voucher {
	if v.RedeemedAt != nil {
		at := *v.RedeemedAt
		v.RedeemedAt = &at
	}
	return v
}

func copyOfflineVoucher(v model.OfflineVoucher) model.OfflineVoucher {
	if v.RedeemedAt != nil {
		at := *v.RedeemedAt
		v.RedeemedAt = &at
	}
	return v
}

// IssueVoucherRequest asks for a cash-out voucher debited from AccountID.
type IssueVoucherRequest struct {
	AccountID string `json:"account_id"`
	AgentID   string `json:"agent_id"`
	Amount    int64  `json:"amount"`
}

// IssueVoucher debits an account and issues a cash-out voucher an agent can pay out.
func (q *Qzd) IssueVoucher(ctx context.Context, mctx MutationContext, req IssueVoucherRequest) (*model.Voucher, error) {
	job := VoucherJob{
		Code:      model.GenerateCode(voucherCodeLength),
		AccountID: req.AccountID,
		AgentID:   req.AgentID,
		Amount:    req.Amount,
	}
	txn, err := q.runJob(ctx, mctx, NewVoucherJob(job), func() error {
		if err := requirePositive(job.Amount); err != nil {
			return err
		}
		if strings.TrimSpace(job.AgentID) == "" {
			return apierror.NewAPIError(apierror.ErrInvalidInput, "agent_id is required", nil)
		}
		return q.accounts.validate(q.voucherLegs("", job))
	})
	if err != nil {
		return nil, err
	}

	code, _ := txn.MetaData["voucher_code"].(string)
	voucher, err := q.vouchers.cashOutVoucher(code)
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (q *Qzd) voucherLegs(transactionID string, job VoucherJob) []model.Transaction {
	leg := q.newLeg(transactionID, job.AccountID, model.TypeDebit, q.currencyOf(job.AccountID), job.Amount)
	leg.MetaData["voucher_code"] = job.Code
	leg.MetaData["agent_id"] = job.AgentID
	return []model.Transaction{leg}
}

func (q *Qzd) executeVoucherIssue(transactionID string, job VoucherJob) (model.Transaction, error) {
	legs := q.voucherLegs(transactionID, job)
	return q.accounts.post(legs, func() error {
		return q.vouchers.addCashOut(model.Voucher{
			Code:          job.Code,
			AccountID:     job.AccountID,
			AgentID:       job.AgentID,
			Amount:        job.Amount,
			Currency:      legs[0].Currency,
			TransactionID: transactionID,
			Status:        model.VoucherIssued,
			CreatedAt:     q.now().UTC(),
		})
	})
}

// RedeemVoucher marks a cash-out voucher as paid out. Redemption is one way.
func (q *Qzd) RedeemVoucher(ctx context.Context, mctx MutationContext, code, agentID string) (*model.Voucher, error) {
	voucher, err := ApplyIdempotency(ctx, q.security, mctx, func() (model.Voucher, error) {
		voucher, err := q.vouchers.redeemCashOut(strings.ToUpper(strings.TrimSpace(code)), agentID, q.now().UTC())
		if err != nil {
			return model.Voucher{}, err
		}
		q.sendWebhook(ctx, NewWebhook{Event: "voucher.redeemed", Payload: voucher})
		return voucher, nil
	})
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

// GetVoucher returns the voucher with the given code. Codes are case-insensitive.
func (q *Qzd) GetVoucher(code string) (*model.Voucher, error) {
	voucher, err := q.vouchers.cashOutVoucher(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

// CreateOfflineVoucherRequest reserves Amount from FromAccountID for an offline voucher.
type CreateOfflineVoucherRequest struct {
	FromAccountID string `json:"from_account_id"`
	Amount        int64  `json:"amount"`
}

// CreateOfflineVoucher reserves value by debiting the sender until a recipient redeems it.
func (q *Qzd) CreateOfflineVoucher(ctx context.Context, mctx MutationContext, req CreateOfflineVoucherRequest) (*model.OfflineVoucher, error) {
	job := OfflineVoucherJob{
		VoucherID:     model.GenerateUUIDWithSuffix("ofv"),
		FromAccountID: req.FromAccountID,
		Amount:        req.Amount,
	}
	txn, err := q.runJob(ctx, mctx, NewOfflineVoucherJob(job), func() error {
		if err := requirePositive(job.Amount); err != nil {
			return err
		}
		return q.accounts.validate(q.offlineFundingLegs("", job))
	})
	if err != nil {
		return nil, err
	}

	id, _ := txn.MetaData["offline_voucher_id"].(string)
	voucher, err := q.vouchers.offlineVoucher(id)
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (q *Qzd) offlineFundingLegs(transactionID string, job OfflineVoucherJob) []model.Transaction {
	leg := q.newLeg(transactionID, job.FromAccountID, model.TypeDebit, q.currencyOf(job.FromAccountID), job.Amount)
	leg.MetaData["offline_voucher_id"] = job.VoucherID
	return []model.Transaction{leg}
}

func (q *Qzd) executeOfflineVoucherCreate(transactionID string, job OfflineVoucherJob) (model.Transaction, error) {
	legs := q.offlineFundingLegs(transactionID, job)
	return q.accounts.post(legs, func() error {
		return q.vouchers.addOffline(model.OfflineVoucher{
			VoucherID:            job.VoucherID,
			FromAccountID:        job.FromAccountID,
			Amount:               job.Amount,
			Currency:             legs[0].Currency,
			Status:               model.VoucherPending,
			FundingTransactionID: transactionID,
			CreatedAt:            q.now().UTC(),
		})
	})
}

// RedeemOfflineVoucher credits the recipient with a pending offline voucher's value.
func (q *Qzd) RedeemOfflineVoucher(ctx context.Context, mctx MutationContext, voucherID, toAccountID string) (*model.Transaction, error) {
	job := OfflineRedeemJob{VoucherID: voucherID, ToAccountID: toAccountID}
	return q.runJob(ctx, mctx, NewOfflineRedeemJob(job), func() error {
		voucher, err := q.vouchers.checkOfflineRedeemable(voucherID)
		if err != nil {
			return err
		}
		return q.accounts.validate(q.offlineRedeemLegs("", voucher, toAccountID))
	})
}

func (q *Qzd) offlineRedeemLegs(transactionID string, voucher model.OfflineVoucher, toAccountID string) []model.Transaction {
	leg := q.newLeg(transactionID, toAccountID, model.TypeRedemption, voucher.Currency, voucher.Amount)
	leg.CounterpartyAccountID = voucher.FromAccountID
	leg.MetaData["offline_voucher_id"] = voucher.VoucherID
	return []model.Transaction{leg}
}

func (q *Qzd) executeOfflineVoucherRedeem(transactionID string, job OfflineRedeemJob) (model.Transaction, error) {
	voucher, err := q.vouchers.offlineVoucher(job.VoucherID)
	if err != nil {
		return model.Transaction{}, err
	}
	return q.accounts.post(q.offlineRedeemLegs(transactionID, voucher, job.ToAccountID), func() error {
		return q.vouchers.redeemOffline(job.VoucherID, job.ToAccountID, transactionID, q.now().UTC())
	})
}

// GetOfflineVoucher returns the offline voucher with the given id.
func (q *Qzd) GetOfflineVoucher(id string) (*model.OfflineVoucher, error) {
	voucher, err := q.vouchers.offlineVoucher(id)
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}
