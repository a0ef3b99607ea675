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
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
	"github.com/sirupsen/logrus"
)

// Ledger is an append-only, hash-chained sequence of multisig entries.
type Ledger struct {
	mu         sync.RWMutex
	entries    []model.LedgerEntry
	validators *ValidatorSet
	now        func() time.Time
}

// NewLedger returns an empty ledger that accepts entries signed by validators.
func NewLedger(validators *ValidatorSet) *Ledger {
	return &Ledger{validators: validators, now: time.Now}
}

// Validators returns the configured validator set.
func (l *Ledger) Validators() *ValidatorSet {
	return l.validators
}

// CheckSignatures verifies that sigs carry at least threshold distinct validator
// signatures over the payload digest. Any unknown validator or bad signature fails.
func (l *Ledger) CheckSignatures(p Payload, sigs []model.ValidatorSignature) error {
	digest, err := Digest(p)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "payload cannot be canonicalized", err.Error())
	}

	valid := make(map[string]struct{}, len(sigs))
	for _, sig := range sigs {
		key, ok := l.validators.PublicKey(sig.ValidatorID)
		if !ok {
			return apierror.NewAPIError(apierror.ErrInvalidIssuanceSignatures,
				fmt.Sprintf("unknown validator %s", sig.ValidatorID), nil)
		}
		if !verifyDigest(key, digest, sig.Signature) {
			return apierror.NewAPIError(apierror.ErrInvalidIssuanceSignatures,
				fmt.Sprintf("signature from validator %s does not verify", sig.ValidatorID), nil)
		}
		valid[sig.ValidatorID] = struct{}{}
	}

	if len(valid) < l.validators.Threshold() {
		return apierror.NewAPIError(apierror.ErrInvalidIssuanceSignatures,
			fmt.Sprintf("%d of %d required signatures", len(valid), l.validators.Threshold()), nil)
	}
	return nil
}

// Append adds a new entry after checking its signatures. The chain is never rewritten.
func (l *Ledger) Append(p Payload, sigs []model.ValidatorSignature) (model.LedgerEntry, error) {
	if err := l.CheckSignatures(p, sigs); err != nil {
		return model.LedgerEntry{}, err
	}
	canonical, err := CanonicalPayload(p)
	if err != nil {
		return model.LedgerEntry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	index := int64(len(l.entries))
	previousHash := ""
	if index > 0 {
		previousHash = l.entries[index-1].Hash
	}

	entry := model.LedgerEntry{
		Index:        index,
		Type:         p.Type,
		Amount:       p.Amount,
		Asset:        p.Asset,
		ToAccount:    p.ToAccount,
		Meta:         p.Meta,
		Sigs:         sigs,
		PreviousHash: previousHash,
		Hash:         entryHash(index, canonical, previousHash),
		CreatedAt:    l.now().UTC(),
	}
	entry = entry.Copy()
	l.entries = append(l.entries, entry)

	logrus.Infof("ledger entry %d appended: %s %s to %s", index, model.FormatAmount(p.Amount), p.Asset, p.ToAccount)
	return entry.Copy(), nil
}

// Entries returns copies of all entries in index order.
func (l *Ledger) Entries() []model.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.LedgerEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Copy()
	}
	return out
}

// Entry returns a copy of the entry at index.
func (l *Ledger) Entry(index int64) (model.LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= int64(len(l.entries)) {
		return model.LedgerEntry{}, false
	}
	return l.entries[index].Copy(), true
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify recomputes the entry digest and checks the signature made by publicKey.
// It does not touch the ledger.
func Verify(entry model.LedgerEntry, publicKey ed25519.PublicKey) bool {
	for _, sig := range entry.Sigs {
		if VerifySignature(publicKey, PayloadOf(entry), sig.Signature) {
			return true
		}
	}
	return false
}

// VerifyChain checks hash recomputation and linking for every entry.
func (l *Ledger) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	previousHash := ""
	for i, entry := range l.entries {
		if entry.Index != int64(i) {
			return fmt.Errorf("entry %d has index %d", i, entry.Index)
		}
		if entry.PreviousHash != previousHash {
			return fmt.Errorf("entry %d does not link to its predecessor", i)
		}
		canonical, err := CanonicalPayload(PayloadOf(entry))
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if entryHash(entry.Index, canonical, entry.PreviousHash) != entry.Hash {
			return fmt.Errorf("entry %d hash mismatch", i)
		}
		previousHash = entry.Hash
	}
	return nil
}

func verifyDigest(key ed25519.PublicKey, digest []byte, signature string) bool {
	sig, err := decodeSignature(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(key, digest, sig)
}
