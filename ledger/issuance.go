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

package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
	"github.com/sirupsen/logrus"
)

// IssuanceBook tracks issuance requests while validators sign them.
type IssuanceBook struct {
	mu       sync.Mutex
	requests map[string]*model.IssuanceRequest
	ledger   *Ledger
	asset    string
	now      func() time.Time
}

// NewIssuanceBook tracks issuance requests for asset and mints them into l.
func NewIssuanceBook(l *Ledger, asset string) *IssuanceBook {
	return &IssuanceBook{
		requests: make(map[string]*model.IssuanceRequest),
		ledger:   l,
		asset:    asset,
		now:      time.Now,
	}
}

// Create registers a new issuance request in the pending state.
func (b *IssuanceBook) Create(accountID string, amount int64) (model.IssuanceRequest, error) {
	if accountID == "" {
		return model.IssuanceRequest{}, apierror.NewAPIError(apierror.ErrInvalidInput, "account id is required", nil)
	}
	if amount <= 0 {
		return model.IssuanceRequest{}, apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be positive", nil)
	}

	now := b.now().UTC()
	req := &model.IssuanceRequest{
		IssuanceID: model.GenerateUUIDWithSuffix("iss"),
		AccountID:  accountID,
		Amount:     amount,
		Currency:   b.asset,
		Required:   b.ledger.Validators().Threshold(),
		Collected:  make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	req.RefreshStatus()

	b.mu.Lock()
	b.requests[req.IssuanceID] = req
	b.mu.Unlock()

	return req.Copy(), nil
}

// Payload returns the ledger payload validators sign for req.
func (b *IssuanceBook) Payload(req model.IssuanceRequest) Payload {
	return Payload{
		Type:      model.EntryTypeIssue,
		Amount:    req.Amount,
		Asset:     req.Currency,
		ToAccount: req.AccountID,
		Meta:      map[string]interface{}{"issuance_id": req.IssuanceID},
	}
}

// Get returns a copy of the issuance request with the given id.
func (b *IssuanceBook) Get(id string) (model.IssuanceRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.requests[id]
	if !ok {
		return model.IssuanceRequest{}, notFound(id)
	}
	return req.Copy(), nil
}

// List returns all requests, oldest first.
func (b *IssuanceBook) List() []model.IssuanceRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.IssuanceRequest, 0, len(b.requests))
	for _, req := range b.requests {
		out = append(out, req.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sign records one validator signature. A validator may sign a request only once.
func (b *IssuanceBook) Sign(id, validatorID, signature string) (model.IssuanceRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, ok := b.requests[id]
	if !ok {
		return model.IssuanceRequest{}, notFound(id)
	}
	key, ok := b.ledger.Validators().PublicKey(validatorID)
	if !ok {
		return model.IssuanceRequest{}, apierror.NewAPIError(apierror.ErrNotFound,
			fmt.Sprintf("validator %s not found", validatorID), nil)
	}
	if req.Status == model.IssuanceCompleted {
		return model.IssuanceRequest{}, apierror.NewAPIError(apierror.ErrConflict, "issuance already completed", nil)
	}
	if _, signed := req.Collected[validatorID]; signed {
		return model.IssuanceRequest{}, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("validator %s already signed issuance %s", validatorID, id), nil)
	}
	if !VerifySignature(key, b.Payload(*req), signature) {
		return model.IssuanceRequest{}, apierror.NewAPIError(apierror.ErrInvalidIssuanceSignatures,
			fmt.Sprintf("signature from validator %s does not verify", validatorID), nil)
	}

	req.Collected[validatorID] = signature
	req.UpdatedAt = b.now().UTC()
	req.RefreshStatus()
	logrus.Infof("issuance %s signed by %s (%d/%d)", id, validatorID, len(req.Collected), req.Required)
	return req.Copy(), nil
}

// CheckMintable reports whether id is ready to be minted.
func (b *IssuanceBook) CheckMintable(id string) (model.IssuanceRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.requests[id]
	if !ok {
		return model.IssuanceRequest{}, notFound(id)
	}
	if err := mintable(req); err != nil {
		return model.IssuanceRequest{}, err
	}
	return req.Copy(), nil
}

// Mint appends the ISSUE entry for a ready request and marks it completed.
func (b *IssuanceBook) Mint(id string) (model.IssuanceRequest, model.LedgerEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, ok := b.requests[id]
	if !ok {
		return model.IssuanceRequest{}, model.LedgerEntry{}, notFound(id)
	}
	if err := mintable(req); err != nil {
		return model.IssuanceRequest{}, model.LedgerEntry{}, err
	}

	entry, err := b.ledger.Append(b.Payload(*req), req.Signatures(b.ledger.Validators().IDs()))
	if err != nil {
		return model.IssuanceRequest{}, model.LedgerEntry{}, err
	}

	req.Status = model.IssuanceCompleted
	req.LedgerIndex = &entry.Index
	req.UpdatedAt = b.now().UTC()
	return req.Copy(), entry, nil
}

func mintable(req *model.IssuanceRequest) error {
	switch req.Status {
	case model.IssuanceReady:
		return nil
	case model.IssuanceCompleted:
		return apierror.NewAPIError(apierror.ErrConflict, "issuance already completed", nil)
	default:
		return apierror.NewAPIError(apierror.ErrInvalidIssuanceSignatures,
			fmt.Sprintf("issuance has %d of %d required signatures", len(req.Collected), req.Required), nil)
	}
}

func notFound(id string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("issuance %s not found", id), nil)
}
