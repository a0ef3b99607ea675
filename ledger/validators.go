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

	"github.com/qzd-finance/qzd/config"
)

// ValidatorSet is the fixed trust set allowed to sign issuance entries.
type ValidatorSet struct {
	keys      map[string]ed25519.PublicKey
	order     []string
	threshold int
}

// Validator is an issuance signer identified by ID.
type Validator struct {
	ID        string
	PublicKey ed25519.PublicKey
}

// NewValidatorSet validates ids, keys and the threshold.
//
// Parameters:
// - validators []Validator: The signers. IDs must be unique.
// - threshold int: Distinct signatures required to mint, between 1 and len(validators).
//
// Returns:
// - *ValidatorSet: The set.
// - error: An error describing the first invalid input.
func NewValidatorSet(validators []Validator, threshold int) (*ValidatorSet, error) {
	if len(validators) == 0 {
		return nil, fmt.Errorf("validator set is empty")
	}
	if threshold < 1 || threshold > len(validators) {
		return nil, fmt.Errorf("threshold %d out of range 1..%d", threshold, len(validators))
	}
	set := &ValidatorSet{
		keys:      make(map[string]ed25519.PublicKey, len(validators)),
		order:     make([]string, 0, len(validators)),
		threshold: threshold,
	}
	for _, v := range validators {
		if _, exists := set.keys[v.ID]; exists {
			return nil, fmt.Errorf("duplicate validator %s", v.ID)
		}
		if len(v.PublicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("validator %s: invalid public key size", v.ID)
		}
		set.keys[v.ID] = v.PublicKey
		set.order = append(set.order, v.ID)
	}
	return set, nil
}

// ValidatorSetFromConfig builds the trust set from the ledger configuration.
func ValidatorSetFromConfig(cnf config.LedgerConfig) (*ValidatorSet, error) {
	validators := make([]Validator, 0, len(cnf.Validators))
	for _, v := range cnf.Validators {
		key, err := config.DecodePublicKey(v.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("validator %s: %w", v.ID, err)
		}
		validators = append(validators, Validator{ID: v.ID, PublicKey: key})
	}
	return NewValidatorSet(validators, cnf.IssuanceThreshold)
}

// Threshold returns the number of distinct signatures required to mint.
func (s *ValidatorSet) Threshold() int {
	return s.threshold
}

// IDs returns validator ids in configuration order.
func (s *ValidatorSet) IDs() []string {
	return append([]string(nil), s.order...)
}

// PublicKey returns the key of validator id.
func (s *ValidatorSet) PublicKey(id string) (ed25519.PublicKey, bool) {
	key, ok := s.keys[id]
	return key, ok
}

// Has reports whether id is a configured validator.
func (s *ValidatorSet) Has(id string) bool {
	_, ok := s.keys[id]
	return ok
}
