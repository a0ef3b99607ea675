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
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/qzd-finance/qzd/config"
	"github.com/qzd-finance/qzd/model"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	q          *Qzd
	cnf        *config.Configuration
	clock      *testClock
	clientKey  ed25519.PrivateKey
	validators map[string]ed25519.PrivateKey
}

func generateKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func testConfig(t *testing.T) (*config.Configuration, ed25519.PrivateKey, map[string]ed25519.PrivateKey) {
	t.Helper()
	clientPub, clientKey := generateKey(t)

	validators := make(map[string]ed25519.PrivateKey)
	var list config.ValidatorList
	for _, id := range []string{"validator-1", "validator-2", "validator-3"} {
		pub, priv := generateKey(t)
		validators[id] = priv
		list = append(list, config.ValidatorConfig{ID: id, PublicKey: hex.EncodeToString(pub)})
	}

	cnf := &config.Configuration{
		Security: config.SecurityConfig{PublicKey: hex.EncodeToString(clientPub)},
		Ledger:   config.LedgerConfig{Validators: list, IssuanceThreshold: 2},
		Auth:     config.AuthConfig{JWTSecret: "test-secret"},
	}
	return cnf, clientKey, validators
}

func newTestEnv(t *testing.T, mutate ...func(*config.Configuration)) *testEnv {
	t.Helper()
	return newTestEnvWithOptions(t, nil, mutate...)
}

func newTestEnvWithOptions(t *testing.T, opts []Option, mutate ...func(*config.Configuration)) *testEnv {
	t.Helper()
	cnf, clientKey, validators := testConfig(t)
	for _, m := range mutate {
		m(cnf)
	}
	require.NoError(t, cnf.ApplyDefaults())
	config.MockConfig(cnf)

	clock := newTestClock()
	q, err := NewQzd(cnf, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	q.users.cost = bcrypt.MinCost
	t.Cleanup(func() { _ = q.Close() })

	return &testEnv{q: q, cnf: cnf, clock: clock, clientKey: clientKey, validators: validators}
}

func randomNonce(t *testing.T) string {
	t.Helper()
	b := make([]byte, 16)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

func (e *testEnv) signed(t *testing.T, method, path, key string, body interface{}) (RequestMeta, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	meta := RequestMeta{Method: method, Path: path, IdempotencyKey: key, Nonce: randomNonce(t)}
	meta.Signature, err = SignRequest(e.clientKey, meta, raw)
	require.NoError(t, err)
	return meta, raw
}

// mutation authenticates a signed POST and returns its context.
func (e *testEnv) mutation(t *testing.T, path, key string, body interface{}) MutationContext {
	t.Helper()
	meta, raw := e.signed(t, http.MethodPost, path, key, body)
	mctx, err := e.q.ValidateMutation(context.Background(), meta, raw)
	require.NoError(t, err)
	return mctx
}

func (e *testEnv) openAccount(t *testing.T, kyc string, opening int64) model.Account {
	t.Helper()
	req := CreateAccountRequest{OwnerID: gofakeit.UUID(), KYCLevel: kyc, OpeningBalance: opening}
	account, err := e.q.CreateAccount(context.Background(), e.mutation(t, "/accounts", gofakeit.UUID(), req), req)
	require.NoError(t, err)
	return *account
}

func (e *testEnv) cashIn(t *testing.T, accountID string, amount int64) *model.Transaction {
	t.Helper()
	job := CashInJob{AccountID: accountID, AgentID: "agent-1", Amount: amount}
	path := fmt.Sprintf("/accounts/%s/cash-in", accountID)
	txn, err := e.q.AgentCashIn(context.Background(), e.mutation(t, path, gofakeit.UUID(), job), job)
	require.NoError(t, err)
	return txn
}

func (e *testEnv) transfer(t *testing.T, from, to string, amount int64) (*model.Transaction, error) {
	t.Helper()
	job := TransferJob{FromAccountID: from, ToAccountID: to, Amount: amount}
	return e.q.Transfer(context.Background(), e.mutation(t, "/transfers", gofakeit.UUID(), job), job)
}

func (e *testEnv) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	account, err := e.q.GetAccount(accountID)
	require.NoError(t, err)
	return account.Balance
}
