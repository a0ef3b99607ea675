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
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/ledger"
	"github.com/qzd-finance/qzd/model"
)

// CreateIssuanceRequest asks validators to approve minting Amount into AccountID.
type CreateIssuanceRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
}

// SignIssuanceRequest carries one validator signature over the issuance payload digest.
type SignIssuanceRequest struct {
	ValidatorID string `json:"validator_id"`
	Signature   string `json:"signature"`
}

// IssuancePayload is what validators sign for an issuance request.
type IssuancePayload struct {
	Payload   ledger.Payload `json:"payload"`
	Canonical string         `json:"canonical"`
	Digest    string         `json:"digest"`
}

// CreateIssuance opens an issuance request for an existing account.
func (q *Qzd) CreateIssuance(ctx context.Context, mctx MutationContext, req CreateIssuanceRequest) (*model.IssuanceRequest, error) {
	issuance, err := ApplyIdempotency(ctx, q.security, mctx, func() (model.IssuanceRequest, error) {
		account, err := q.accounts.get(req.AccountID)
		if err != nil {
			return model.IssuanceRequest{}, err
		}
		if account.Currency != q.config.Ledger.Asset {
			return model.IssuanceRequest{}, apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("account '%s' holds %s, issuance is in %s", account.AccountID, account.Currency, q.config.Ledger.Asset), nil)
		}
		return q.issuances.Create(req.AccountID, req.Amount)
	})
	if err != nil {
		return nil, err
	}
	return &issuance, nil
}

// SignIssuance records a validator's signature over the issuance payload.
func (q *Qzd) SignIssuance(ctx context.Context, mctx MutationContext, issuanceID string, req SignIssuanceRequest) (*model.IssuanceRequest, error) {
	issuance, err := ApplyIdempotency(ctx, q.security, mctx, func() (model.IssuanceRequest, error) {
		return q.issuances.Sign(issuanceID, req.ValidatorID, req.Signature)
	})
	if err != nil {
		return nil, err
	}
	return &issuance, nil
}

// GetIssuance returns the issuance request with the given id.
func (q *Qzd) GetIssuance(id string) (*model.IssuanceRequest, error) {
	issuance, err := q.issuances.Get(id)
	if err != nil {
		return nil, err
	}
	return &issuance, nil
}

// ListIssuances returns every issuance request, oldest first.
func (q *Qzd) ListIssuances() []model.IssuanceRequest {
	return q.issuances.List()
}

// GetIssuancePayload returns the canonical payload and digest for id.
func (q *Qzd) GetIssuancePayload(id string) (*IssuancePayload, error) {
	issuance, err := q.issuances.Get(id)
	if err != nil {
		return nil, err
	}
	payload := q.issuances.Payload(issuance)
	canonical, err := ledger.CanonicalPayload(payload)
	if err != nil {
		return nil, err
	}
	digest, err := ledger.Digest(payload)
	if err != nil {
		return nil, err
	}
	return &IssuancePayload{Payload: payload, Canonical: string(canonical), Digest: hex.EncodeToString(digest)}, nil
}

// MintIssuance appends the ISSUE entry for a fully signed request and credits the account.
func (q *Qzd) MintIssuance(ctx context.Context, mctx MutationContext, issuanceID string) (*model.Transaction, error) {
	return q.runJob(ctx, mctx, NewIssuanceJob(IssuanceJob{IssuanceID: issuanceID}), func() error {
		issuance, err := q.issuances.CheckMintable(issuanceID)
		if err != nil {
			return err
		}
		return q.accounts.validate(q.issuanceLegs("", issuance))
	})
}

func (q *Qzd) issuanceLegs(transactionID string, issuance model.IssuanceRequest) []model.Transaction {
	leg := q.newLeg(transactionID, issuance.AccountID, model.TypeIssuance, issuance.Currency, issuance.Amount)
	leg.MetaData["issuance_id"] = issuance.IssuanceID
	return []model.Transaction{leg}
}

// executeMint appends to the ledger inside the account posting so the entry and the credit
// commit together.
func (q *Qzd) executeMint(transactionID string, job IssuanceJob) (model.Transaction, error) {
	issuance, err := q.issuances.Get(job.IssuanceID)
	if err != nil {
		return model.Transaction{}, err
	}

	legs := q.issuanceLegs(transactionID, issuance)
	return q.accounts.post(legs, func() error {
		_, entry, err := q.issuances.Mint(job.IssuanceID)
		if err != nil {
			return err
		}
		legs[0].MetaData["ledger_index"] = entry.Index
		legs[0].MetaData["ledger_hash"] = entry.Hash
		logrus.Infof("issuance %s minted at ledger index %d", job.IssuanceID, entry.Index)
		return nil
	})
}

// LedgerEntries returns the whole chain, oldest first.
func (q *Qzd) LedgerEntries() []model.LedgerEntry {
	return q.ledger.Entries()
}

// LedgerEntry returns the ledger entry at index, or NOT_FOUND.
func (q *Qzd) LedgerEntry(index int64) (*model.LedgerEntry, error) {
	entry, ok := q.ledger.Entry(index)
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("ledger entry %d not found", index), nil)
	}
	return &entry, nil
}

// VerifyLedger checks hash linking and signatures over the whole chain.
func (q *Qzd) VerifyLedger() error {
	return q.ledger.VerifyChain()
}
