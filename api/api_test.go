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

package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzd-finance/qzd"
	model2 "github.com/qzd-finance/qzd/api/model"
	"github.com/qzd-finance/qzd/config"
	"github.com/qzd-finance/qzd/ledger"
	"github.com/qzd-finance/qzd/model"
)

type TestRequest struct {
	Payload  interface{}
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

type testServer struct {
	router     *gin.Engine
	qzd        *qzd.Qzd
	clientKey  ed25519.PrivateKey
	validators map[string]ed25519.PrivateKey
}

func generateKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func setupRouter(t *testing.T, mutate ...func(*config.Configuration)) *testServer {
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
	for _, m := range mutate {
		m(cnf)
	}
	require.NoError(t, cnf.ApplyDefaults())
	config.MockConfig(cnf)

	q, err := qzd.NewQzd(cnf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	return &testServer{router: NewAPI(q).Router(), qzd: q, clientKey: clientKey, validators: validators}
}

func randomNonce(t *testing.T) string {
	t.Helper()
	b := make([]byte, 16)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

// signedHeaders signs body for method and route under idempotency key.
func (s *testServer) signedHeaders(t *testing.T, method, route, key string, body []byte) map[string]string {
	t.Helper()
	meta := qzd.RequestMeta{Method: method, Path: route, IdempotencyKey: key, Nonce: randomNonce(t)}
	sig, err := qzd.SignRequest(s.clientKey, meta, body)
	require.NoError(t, err)
	return map[string]string{
		qzd.HeaderIdempotencyKey: key,
		qzd.HeaderNonce:          meta.Nonce,
		qzd.HeaderSignature:      sig,
	}
}

func encodePayload(t *testing.T, payload interface{}) []byte {
	t.Helper()
	if payload == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

func SetUpTestRequest(t *testing.T, s TestRequest) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if raw := encodePayload(t, s.Payload); raw != nil {
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(s.Method, s.Route, body)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil && resp.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), s.Response), resp.Body.String())
	}
	return resp
}

// post sends a signed POST with a fresh idempotency key.
func (s *testServer) post(t *testing.T, route string, payload, response interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return s.postWithKey(t, route, gofakeit.UUID(), payload, response)
}

func (s *testServer) postWithKey(t *testing.T, route, key string, payload, response interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return SetUpTestRequest(t, TestRequest{
		Payload:  payload,
		Response: response,
		Method:   http.MethodPost,
		Route:    route,
		Header:   s.signedHeaders(t, http.MethodPost, route, key, encodePayload(t, payload)),
		Router:   s.router,
	})
}

func (s *testServer) get(t *testing.T, route string, response interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return SetUpTestRequest(t, TestRequest{Method: http.MethodGet, Route: route, Response: response, Router: s.router})
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) createAccount(t *testing.T, kyc, opening string) model.Account {
	t.Helper()
	var account model.Account
	resp := s.post(t, "/accounts", model2.CreateAccount{OwnerID: gofakeit.UUID(), KYCLevel: kyc, OpeningBalance: opening}, &account)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	return account
}

func TestHealth(t *testing.T) {
	s := setupRouter(t)
	var body map[string]string
	resp := s.get(t, "/health", &body)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestSignedMutationRejectsBadRequests(t *testing.T) {
	s := setupRouter(t)
	payload := model2.CreateAccount{OwnerID: "owner-1"}

	var missing errorBody
	resp := SetUpTestRequest(t, TestRequest{Payload: payload, Response: &missing, Method: http.MethodPost, Route: "/accounts", Router: s.router})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "BAD_REQUEST", missing.Error.Code)

	headers := s.signedHeaders(t, http.MethodPost, "/accounts", "k1", encodePayload(t, payload))
	tampered := model2.CreateAccount{OwnerID: "owner-2"}
	var unauthorized errorBody
	resp = SetUpTestRequest(t, TestRequest{Payload: tampered, Response: &unauthorized, Method: http.MethodPost, Route: "/accounts", Header: headers, Router: s.router})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "UNAUTHORIZED", unauthorized.Error.Code)

	resp = SetUpTestRequest(t, TestRequest{Payload: payload, Method: http.MethodPost, Route: "/accounts", Header: headers, Router: s.router})
	assert.Equal(t, http.StatusCreated, resp.Code)

	var replay errorBody
	resp = SetUpTestRequest(t, TestRequest{Payload: payload, Response: &replay, Method: http.MethodPost, Route: "/accounts", Header: headers, Router: s.router})
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "REPLAY_DETECTED", replay.Error.Code)
}

func TestCashInAndTransfer(t *testing.T) {
	s := setupRouter(t)
	alice := s.createAccount(t, model.KYCFull, "")
	bob := s.createAccount(t, model.KYCBasic, "")

	route := fmt.Sprintf("/accounts/%s/cash-in", alice.AccountID)
	var first, second model.Transaction
	resp := s.postWithKey(t, route, "cash-1", model2.CashIn{AgentID: "agent-1", Amount: "25.00"}, &first)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	resp = s.postWithKey(t, route, "cash-1", model2.CashIn{AgentID: "agent-1", Amount: "25.00"}, &second)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	var conflict errorBody
	resp = s.postWithKey(t, route, "cash-1", model2.CashIn{AgentID: "agent-1", Amount: "30.00"}, &conflict)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "CONFLICT", conflict.Error.Code)

	var txn model.Transaction
	resp = s.post(t, "/transfers", model2.Transfer{FromAccountID: alice.AccountID, ToAccountID: bob.AccountID, Amount: "10.50"}, &txn)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, int64(1050), txn.Amount)

	var account model.Account
	s.get(t, "/accounts/"+bob.AccountID, &account)
	assert.Equal(t, int64(1050), account.Balance)

	var history []model.Transaction
	resp = s.get(t, "/accounts/"+alice.AccountID+"/transactions", &history)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, history, 2)

	var found model.Transaction
	resp = s.get(t, "/transactions/"+txn.TransactionID, &found)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, txn.TransactionID, found.TransactionID)

	var overdrawn errorBody
	resp = s.post(t, "/transfers", model2.Transfer{FromAccountID: bob.AccountID, ToAccountID: alice.AccountID, Amount: "99.00"}, &overdrawn)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "INVALID_INPUT", overdrawn.Error.Code)
}

func TestTransferValidation(t *testing.T) {
	s := setupRouter(t)

	tests := []struct {
		name    string
		payload model2.Transfer
	}{
		{"missing from", model2.Transfer{ToAccountID: "acc_2", Amount: "1.00"}},
		{"bad amount", model2.Transfer{FromAccountID: "acc_1", ToAccountID: "acc_2", Amount: "ten"}},
		{"negative amount", model2.Transfer{FromAccountID: "acc_1", ToAccountID: "acc_2", Amount: "-1.00"}},
		{"same account", model2.Transfer{FromAccountID: "acc_1", ToAccountID: "acc_1", Amount: "1.00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			resp := s.post(t, "/transfers", tt.payload, &body)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
			assert.Equal(t, "INVALID_INPUT", body.Error.Code)
		})
	}
}

func TestIssuanceOverHTTP(t *testing.T) {
	s := setupRouter(t)
	treasury := s.createAccount(t, model.KYCFull, "")

	var issuance model.IssuanceRequest
	resp := s.post(t, "/issuances", model2.CreateIssuance{AccountID: treasury.AccountID, Amount: "1000.00"}, &issuance)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var payload qzd.IssuancePayload
	resp = s.get(t, "/issuances/"+issuance.IssuanceID+"/payload", &payload)
	require.Equal(t, http.StatusOK, resp.Code)

	for _, id := range []string{"validator-1", "validator-2"} {
		sig, err := ledger.Sign(s.validators[id], payload.Payload)
		require.NoError(t, err)
		resp = s.post(t, "/issuances/"+issuance.IssuanceID+"/sign", model2.SignIssuance{ValidatorID: id, Signature: sig}, &issuance)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	}
	assert.Equal(t, model.IssuanceReady, issuance.Status)

	var txn model.Transaction
	resp = s.post(t, "/issuances/"+issuance.IssuanceID+"/mint", nil, &txn)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, int64(100000), txn.Amount)

	var entries []model.LedgerEntry
	s.get(t, "/ledger", &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, treasury.AccountID, entries[0].ToAccount)

	var entry model.LedgerEntry
	resp = s.get(t, "/ledger/0", &entry)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, entries[0].Hash, entry.Hash)

	resp = s.get(t, "/ledger/7", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestVouchersOverHTTP(t *testing.T) {
	s := setupRouter(t)
	sender := s.createAccount(t, model.KYCBasic, "100.00")
	recipient := s.createAccount(t, model.KYCBasic, "")

	var voucher model.Voucher
	resp := s.post(t, "/vouchers", model2.IssueVoucher{AccountID: sender.AccountID, AgentID: "agent-1", Amount: "20.00"}, &voucher)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = s.post(t, "/vouchers/"+voucher.Code+"/redeem", model2.RedeemVoucher{AgentID: "agent-1"}, &voucher)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, model.VoucherRedeemed, voucher.Status)

	var offline model.OfflineVoucher
	resp = s.post(t, "/offline-vouchers", model2.CreateOfflineVoucher{FromAccountID: sender.AccountID, Amount: "30.00"}, &offline)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var txn model.Transaction
	resp = s.post(t, "/offline-vouchers/"+offline.VoucherID+"/redeem", model2.RedeemOfflineVoucher{ToAccountID: recipient.AccountID}, &txn)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, model.TypeRedemption, txn.Type)

	var account model.Account
	s.get(t, "/accounts/"+sender.AccountID, &account)
	assert.Equal(t, int64(5000), account.Balance)
	s.get(t, "/accounts/"+recipient.AccountID, &account)
	assert.Equal(t, int64(3000), account.Balance)
}

func TestRegisterAndLoginOverHTTP(t *testing.T) {
	s := setupRouter(t)
	creds := model2.Credentials{Phone: "+50255550111", Password: "correct horse"}

	var registered qzd.AuthResult
	resp := s.post(t, "/auth/register", creds, &registered)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.NotEmpty(t, registered.Token)

	var loggedIn qzd.AuthResult
	resp = s.post(t, "/auth/login", creds, &loggedIn)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, registered.AccountID, loggedIn.AccountID)

	var body errorBody
	resp = s.post(t, "/auth/login", model2.Credentials{Phone: creds.Phone, Password: "wrong password"}, &body)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := setupRouter(t, func(cnf *config.Configuration) {
		cnf.Server.SecretKey = "operator-secret"
	})

	resp := s.get(t, "/admin/dead-letters", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	var dead []model.DeadLetterRecord
	resp = SetUpTestRequest(t, TestRequest{
		Method: http.MethodGet, Route: "/admin/dead-letters", Response: &dead, Router: s.router,
		Header: map[string]string{"X-QZD-Key": "operator-secret"},
	})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, dead)

	headers := s.signedHeaders(t, http.MethodPost, "/admin/reconcile", "rec-1", nil)
	headers["X-QZD-Key"] = "operator-secret"
	var report qzd.ReconciliationReport
	resp = SetUpTestRequest(t, TestRequest{Method: http.MethodPost, Route: "/admin/reconcile", Response: &report, Header: headers, Router: s.router})
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Empty(t, report.Mismatched)

	headers = s.signedHeaders(t, http.MethodPost, "/admin/dead-letters/retry", "retry-1", nil)
	headers["X-QZD-Key"] = "operator-secret"
	var summary qzd.RetrySummary
	resp = SetUpTestRequest(t, TestRequest{Method: http.MethodPost, Route: "/admin/dead-letters/retry", Response: &summary, Header: headers, Router: s.router})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 0, summary.Retried)
}

func TestAlertsOverHTTP(t *testing.T) {
	s := setupRouter(t)
	for i := 0; i < 5; i++ {
		s.createAccount(t, model.KYCBasic, "")
	}

	var alerts []model.Alert
	s.get(t, "/alerts", &alerts)
	require.Len(t, alerts, 1)

	var acked model.Alert
	resp := s.post(t, "/alerts/"+alerts[0].AlertID+"/ack", nil, &acked)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, acked.Acknowledged)

	s.get(t, "/alerts", &alerts)
	assert.Empty(t, alerts)
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupRouter(t)
	account := s.createAccount(t, model.KYCBasic, "")
	resp := s.post(t, "/accounts/"+account.AccountID+"/cash-in", model2.CashIn{AgentID: "agent-1", Amount: "1.00"}, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `qzd_transactions_posted_total{type="credit"} 1`), body)
	assert.Contains(t, body, "qzd_http_requests_total")
}

func TestRateLimit(t *testing.T) {
	rps := 1.0
	burst := 1
	s := setupRouter(t, func(cnf *config.Configuration) {
		cnf.RateLimit.RequestsPerSecond = &rps
		cnf.RateLimit.Burst = &burst
	})

	first := s.get(t, "/health", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	second := s.get(t, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
