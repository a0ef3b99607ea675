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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/ledger"
	"github.com/qzd-finance/qzd/model"
)

func (e *testEnv) signIssuance(t *testing.T, issuanceID, validatorID string) (*model.IssuanceRequest, error) {
	t.Helper()
	payload, err := e.q.GetIssuancePayload(issuanceID)
	require.NoError(t, err)
	sig, err := ledger.Sign(e.validators[validatorID], payload.Payload)
	require.NoError(t, err)

	req := SignIssuanceRequest{ValidatorID: validatorID, Signature: sig}
	mctx := e.mutation(t, "/issuances/"+issuanceID+"/sign", validatorID+issuanceID, req)
	return e.q.SignIssuance(context.Background(), mctx, issuanceID, req)
}

func TestIssuanceMultisigFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	treasury := env.openAccount(t, model.KYCFull, 0)

	createReq := CreateIssuanceRequest{AccountID: treasury.AccountID, Amount: 1000000}
	issuance, err := env.q.CreateIssuance(ctx, env.mutation(t, "/issuances", "iss-1", createReq), createReq)
	require.NoError(t, err)
	assert.Equal(t, model.IssuancePending, issuance.Status)
	assert.Equal(t, 2, issuance.Required)

	payload, err := env.q.GetIssuancePayload(issuance.IssuanceID)
	require.NoError(t, err)
	assert.Equal(t, model.EntryTypeIssue, payload.Payload.Type)
	digest, err := ledger.Digest(payload.Payload)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(digest), payload.Digest)

	signed, err := env.signIssuance(t, issuance.IssuanceID, "validator-1")
	require.NoError(t, err)
	assert.Equal(t, model.IssuanceCollecting, signed.Status)

	_, err = env.q.MintIssuance(ctx, env.mutation(t, "/issuances/"+issuance.IssuanceID+"/mint", "mint-early", nil), issuance.IssuanceID)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidIssuanceSignatures))
	assert.Empty(t, env.q.LedgerEntries())

	signed, err = env.signIssuance(t, issuance.IssuanceID, "validator-3")
	require.NoError(t, err)
	assert.Equal(t, model.IssuanceReady, signed.Status)

	mintCtx := env.mutation(t, "/issuances/"+issuance.IssuanceID+"/mint", "mint-1", nil)
	txn, err := env.q.MintIssuance(ctx, mintCtx, issuance.IssuanceID)
	require.NoError(t, err)
	assert.Equal(t, model.TypeIssuance, txn.Type)
	assert.Equal(t, int64(1000000), env.balance(t, treasury.AccountID))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.q.metrics.TransactionsPosted.WithLabelValues(model.TypeIssuance)))

	replayed, err := env.q.MintIssuance(ctx, mintCtx, issuance.IssuanceID)
	require.NoError(t, err)
	assert.Equal(t, txn.TransactionID, replayed.TransactionID)

	entries := env.q.LedgerEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].Index)
	assert.Len(t, entries[0].Sigs, 2)
	assert.NoError(t, env.q.VerifyLedger())
	for _, sig := range entries[0].Sigs {
		pub, ok := env.q.ledger.Validators().PublicKey(sig.ValidatorID)
		require.True(t, ok)
		assert.True(t, ledger.Verify(entries[0], pub))
	}

	completed, err := env.q.GetIssuance(issuance.IssuanceID)
	require.NoError(t, err)
	assert.Equal(t, model.IssuanceCompleted, completed.Status)
	require.NotNil(t, completed.LedgerIndex)
	assert.Equal(t, int64(0), *completed.LedgerIndex)

	_, err = env.q.MintIssuance(ctx, env.mutation(t, "/issuances/"+issuance.IssuanceID+"/mint", "mint-2", nil), issuance.IssuanceID)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))

	_, err = env.signIssuance(t, issuance.IssuanceID, "validator-2")
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestSignIssuanceErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	treasury := env.openAccount(t, model.KYCFull, 0)

	createReq := CreateIssuanceRequest{AccountID: treasury.AccountID, Amount: 5000}
	issuance, err := env.q.CreateIssuance(ctx, env.mutation(t, "/issuances", "iss-1", createReq), createReq)
	require.NoError(t, err)

	_, err = env.signIssuance(t, issuance.IssuanceID, "validator-1")
	require.NoError(t, err)

	payload, err := env.q.GetIssuancePayload(issuance.IssuanceID)
	require.NoError(t, err)
	sig, err := ledger.Sign(env.validators["validator-1"], payload.Payload)
	require.NoError(t, err)

	again := SignIssuanceRequest{ValidatorID: "validator-1", Signature: sig}
	_, err = env.q.SignIssuance(ctx, env.mutation(t, "/issuances/x/sign", "dup", again), issuance.IssuanceID, again)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))

	unknown := SignIssuanceRequest{ValidatorID: "validator-9", Signature: sig}
	_, err = env.q.SignIssuance(ctx, env.mutation(t, "/issuances/x/sign", "unknown", unknown), issuance.IssuanceID, unknown)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))

	wrongKey := SignIssuanceRequest{ValidatorID: "validator-2", Signature: sig}
	_, err = env.q.SignIssuance(ctx, env.mutation(t, "/issuances/x/sign", "wrong", wrongKey), issuance.IssuanceID, wrongKey)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidIssuanceSignatures))
}

func TestCreateIssuanceRequiresAccount(t *testing.T) {
	env := newTestEnv(t)
	req := CreateIssuanceRequest{AccountID: "acc_missing", Amount: 100}
	_, err := env.q.CreateIssuance(context.Background(), env.mutation(t, "/issuances", "i", req), req)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestMintCrashAfterCommitRecovers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	treasury := env.openAccount(t, model.KYCFull, 0)

	createReq := CreateIssuanceRequest{AccountID: treasury.AccountID, Amount: 7000}
	issuance, err := env.q.CreateIssuance(ctx, env.mutation(t, "/issuances", "iss-1", createReq), createReq)
	require.NoError(t, err)
	_, err = env.signIssuance(t, issuance.IssuanceID, "validator-1")
	require.NoError(t, err)
	_, err = env.signIssuance(t, issuance.IssuanceID, "validator-2")
	require.NoError(t, err)

	env.q.Faults().SimulateCrash(JobIssuance, CrashAfterCommit)
	mctx := env.mutation(t, "/issuances/"+issuance.IssuanceID+"/mint", "mint-1", nil)
	_, err = env.q.MintIssuance(ctx, mctx, issuance.IssuanceID)
	require.Error(t, err)
	require.Len(t, env.q.DeadLetters(), 1)

	txn, err := env.q.MintIssuance(ctx, mctx, issuance.IssuanceID)
	require.NoError(t, err)
	assert.Equal(t, model.TypeIssuance, txn.Type)
	assert.Len(t, env.q.LedgerEntries(), 1)
	assert.Equal(t, int64(7000), env.balance(t, treasury.AccountID))
	assert.Empty(t, env.q.DeadLetters())
}
