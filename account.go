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
	"strings"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
)

// CreateAccountRequest describes a new wallet account.
type CreateAccountRequest struct {
	OwnerID        string `json:"owner_id"`
	KYCLevel       string `json:"kyc_level,omitempty"`
	Currency       string `json:"currency,omitempty"`
	OpeningBalance int64  `json:"opening_balance,omitempty"`
}

func (q *Qzd) applyAccountDefaults(req *CreateAccountRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "owner_id is required", nil)
	}
	if req.KYCLevel == "" {
		req.KYCLevel = model.KYCBasic
	}
	if req.KYCLevel != model.KYCBasic && req.KYCLevel != model.KYCFull {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "kyc_level must be BASIC or FULL", nil)
	}
	if req.Currency == "" {
		req.Currency = q.config.Accounts.DefaultCurrency
	}
	if req.OpeningBalance < 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "opening_balance cannot be negative", nil)
	}
	return nil
}

// openAccount stores a new account and reports the creation to the fraud engine.
func (q *Qzd) openAccount(req CreateAccountRequest) (model.Account, error) {
	if err := q.applyAccountDefaults(&req); err != nil {
		return model.Account{}, err
	}

	now := q.now().UTC()
	account, err := q.accounts.create(model.Account{
		AccountID:      model.GenerateUUIDWithSuffix("acc"),
		OwnerID:        req.OwnerID,
		Status:         model.AccountActive,
		KYCLevel:       req.KYCLevel,
		Currency:       req.Currency,
		OpeningBalance: req.OpeningBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return model.Account{}, err
	}

	q.fraud.ObserveAccountCreated(account.AccountID)
	q.sendWebhook(context.Background(), NewWebhook{Event: "account.created", Payload: account})
	return account, nil
}

// CreateAccount opens an account. Repeating the request with the same idempotency scope
// returns the original account.
func (q *Qzd) CreateAccount(ctx context.Context, mctx MutationContext, req CreateAccountRequest) (*model.Account, error) {
	account, err := ApplyIdempotency(ctx, q.security, mctx, func() (model.Account, error) {
		return q.openAccount(req)
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccount returns a copy of the account with the given id.
//
// Parameters:
// - id string: The account id.
//
// Returns:
// - *model.Account: The account as currently stored.
// - error: NOT_FOUND if no such account exists.
func (q *Qzd) GetAccount(id string) (*model.Account, error) {
	account, err := q.accounts.get(id)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// History returns an account's transactions, most recent first.
func (q *Qzd) History(id string) ([]model.Transaction, error) {
	return q.accounts.history(id)
}

// FreezeAccount blocks every debit and credit on an account. Repeating the request with the
// same scope returns the memoized account.
//
// Parameters:
// - ctx context.Context: The request context.
// - mctx MutationContext: The authenticated mutation.
// - id string: The account to freeze.
//
// Returns:
// - *model.Account: The frozen account.
// - error: NOT_FOUND for an unknown account, or an idempotency conflict.
func (q *Qzd) FreezeAccount(ctx context.Context, mctx MutationContext, id string) (*model.Account, error) {
	return q.setAccountStatus(ctx, mctx, id, model.AccountFrozen, "account.frozen")
}

// UnfreezeAccount lifts a freeze placed by FreezeAccount.
func (q *Qzd) UnfreezeAccount(ctx context.Context, mctx MutationContext, id string) (*model.Account, error) {
	return q.setAccountStatus(ctx, mctx, id, model.AccountActive, "account.unfrozen")
}

func (q *Qzd) setAccountStatus(ctx context.Context, mctx MutationContext, id, status, event string) (*model.Account, error) {
	account, err := ApplyIdempotency(ctx, q.security, mctx, func() (model.Account, error) {
		account, err := q.accounts.setStatus(id, status)
		if err != nil {
			return model.Account{}, err
		}
		q.sendWebhook(ctx, NewWebhook{Event: event, Payload: account})
		return account, nil
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}
