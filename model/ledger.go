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

package model

import "time"

const (
	EntryTypeIssue = "ISSUE"

	IssuancePending    = "pending"
	IssuanceCollecting = "collecting"
	IssuanceReady      = "ready"
	IssuanceCompleted  = "completed"
)

type ValidatorSignature struct {
	ValidatorID string `json:"validator_id"`
	Signature   string `json:"signature"`
}

// LedgerEntry is one link of the append-only ledger chain.
type LedgerEntry struct {
	Index        int64                  `json:"index"`
	Type         string                 `json:"type"`
	Amount       int64                  `json:"amount"`
	Asset        string                 `json:"asset"`
	ToAccount    string                 `json:"to_account"`
	Meta         map[string]interface{} `json:"meta"`
	Sigs         []ValidatorSignature   `json:"sigs"`
	PreviousHash string                 `json:"previous_hash,omitempty"`
	Hash         string                 `json:"hash"`
	CreatedAt    time.Time              `json:"created_at"`
}

func (e LedgerEntry) Copy() LedgerEntry {
	e.Meta = copyMetaData(e.Meta)
	e.Sigs = append([]ValidatorSignature(nil), e.Sigs...)
	return e
}

// IssuanceRequest collects validator signatures until the multisig threshold is met.
type IssuanceRequest struct {
	IssuanceID  string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Required    int               `json:"required"`
	Collected   map[string]string `json:"collected"`
	Status      string            `json:"status"`
	LedgerIndex *int64            `json:"ledger_index,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// RefreshStatus derives the status from the number of collected signatures.
// Completed is terminal and never recomputed.
func (r *IssuanceRequest) RefreshStatus() {
	if r.Status == IssuanceCompleted {
		return
	}
	switch n := len(r.Collected); {
	case n == 0:
		r.Status = IssuancePending
	case n < r.Required:
		r.Status = IssuanceCollecting
	default:
		r.Status = IssuanceReady
	}
}

// Signatures returns the collected signatures ordered by validator id.
func (r *IssuanceRequest) Signatures(order []string) []ValidatorSignature {
	sigs := make([]ValidatorSignature, 0, len(r.Collected))
	for _, id := range order {
		if sig, ok := r.Collected[id]; ok {
			sigs = append(sigs, ValidatorSignature{ValidatorID: id, Signature: sig})
		}
	}
	return sigs
}

func (r IssuanceRequest) Copy() IssuanceRequest {
	collected := make(map[string]string, len(r.Collected))
	for k, v := range r.Collected {
		collected[k] = v
	}
	r.Collected = collected
	if r.LedgerIndex != nil {
		idx := *r.LedgerIndex
		r.LedgerIndex = &idx
	}
	return r
}
