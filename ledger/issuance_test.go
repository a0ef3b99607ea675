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
	"testing"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuanceLifecycle(t *testing.T) {
	l, validators := newTestLedger(t, 3, 2)
	book := NewIssuanceBook(l, "QZD")

	req, err := book.Create("acct_treasury", 250000)
	require.NoError(t, err)
	assert.Equal(t, model.IssuancePending, req.Status)
	assert.Equal(t, 2, req.Required)
	assert.Equal(t, "QZD", req.Currency)

	_, _, err = book.Mint(req.IssuanceID)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidIssuanceSignatures))

	payload := book.Payload(req)
	sig1, err := Sign(validators[0].priv, payload)
	require.NoError(t, err)

	req, err = book.Sign(req.IssuanceID, validators[0].id, sig1)
	require.NoError(t, err)
	assert.Equal(t, model.IssuanceCollecting, req.Status)

	_, err = book.Sign(req.IssuanceID, validators[0].id, sig1)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))

	_, _, err = book.Mint(req.IssuanceID)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidIssuanceSignatures))

	sig2, err := Sign(validators[1].priv, payload)
	require.NoError(t, err)
	req, err = book.Sign(req.IssuanceID, validators[1].id, sig2)
	require.NoError(t, err)
	assert.Equal(t, model.IssuanceReady, req.Status)

	_, err = book.CheckMintable(req.IssuanceID)
	require.NoError(t, err)

	minted, entry, err := book.Mint(req.IssuanceID)
	require.NoError(t, err)
	assert.Equal(t, model.IssuanceCompleted, minted.Status)
	require.NotNil(t, minted.LedgerIndex)
	assert.Equal(t, entry.Index, *minted.LedgerIndex)
	assert.Equal(t, model.EntryTypeIssue, entry.Type)
	assert.Equal(t, int64(250000), entry.Amount)
	assert.Equal(t, "acct_treasury", entry.ToAccount)
	assert.True(t, Verify(entry, validators[0].pub))
	assert.True(t, Verify(entry, validators[1].pub))

	_, _, err = book.Mint(req.IssuanceID)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))

	sig3, err := Sign(validators[2].priv, payload)
	require.NoError(t, err)
	_, err = book.Sign(req.IssuanceID, validators[2].id, sig3)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))

	assert.Equal(t, 1, l.Len())
}

func TestIssuanceSignErrors(t *testing.T) {
	l, validators := newTestLedger(t, 2, 2)
	book := NewIssuanceBook(l, "QZD")

	_, err := book.Create("", 100)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	_, err = book.Create("acct_1", 0)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	req, err := book.Create("acct_1", 100)
	require.NoError(t, err)

	_, err = book.Sign("iss_missing", validators[0].id, "00")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))

	_, err = book.Sign(req.IssuanceID, "validator-9", "00")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))

	wrong, err := Sign(validators[0].priv, issuePayload(100, "acct_other"))
	require.NoError(t, err)
	_, err = book.Sign(req.IssuanceID, validators[0].id, wrong)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidIssuanceSignatures))

	got, err := book.Get(req.IssuanceID)
	require.NoError(t, err)
	assert.Equal(t, model.IssuancePending, got.Status)
	assert.Empty(t, got.Collected)

	_, err = book.Get("iss_missing")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.Len(t, book.List(), 1)
}
