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
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/ledger"
	"github.com/qzd-finance/qzd/model"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderNonce          = "X-QZD-Nonce"
	HeaderSignature      = "X-QZD-Signature"
)

// RequestMeta carries the signing headers of a mutation request.
type RequestMeta struct {
	Method         string
	Path           string
	IdempotencyKey string
	Nonce          string
	Signature      string
}

// MutationContext identifies an authenticated mutation. Scope is METHOD:PATH:IDEMPOTENCY-KEY.
type MutationContext struct {
	Scope    string
	BodyHash string
}

// SecurityManager authenticates signed mutations and memoizes their responses.
type SecurityManager struct {
	publicKey   ed25519.PublicKey
	nonces      NonceStore
	idempotency IdempotencyStore
	now         func() time.Time
}

// NewSecurityManager creates a manager that verifies mutations against one client public key.
//
// Parameters:
// - publicKey ed25519.PublicKey: The key every mutation signature must verify under.
// - nonces NonceStore: Where consumed nonces are remembered.
// - idempotency IdempotencyStore: Where memoized responses and scope locks live.
//
// Returns:
// - *SecurityManager: A manager ready for ValidateMutation and ApplyIdempotency.
func NewSecurityManager(publicKey ed25519.PublicKey, nonces NonceStore, idempotency IdempotencyStore) *SecurityManager {
	return &SecurityManager{
		publicKey:   publicKey,
		nonces:      nonces,
		idempotency: idempotency,
		now:         time.Now,
	}
}

// CanonicalRequest builds the signed byte sequence METHOD\nPATH\nIDEMPOTENCY-KEY\nNONCE\nBODY.
// body must already be canonical.
func CanonicalRequest(meta RequestMeta, canonicalBody []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.ToUpper(meta.Method))
	buf.WriteByte('\n')
	buf.WriteString(meta.Path)
	buf.WriteByte('\n')
	buf.WriteString(meta.IdempotencyKey)
	buf.WriteByte('\n')
	buf.WriteString(meta.Nonce)
	buf.WriteByte('\n')
	buf.Write(canonicalBody)
	return buf.Bytes()
}

// SignRequest signs a request the way clients are expected to. Used by the CLI and tests.
func SignRequest(key ed25519.PrivateKey, meta RequestMeta, body []byte) (string, error) {
	canonical, err := ledger.CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(key, CanonicalRequest(meta, canonical))), nil
}

// Scope builds the idempotency scope METHOD:PATH:IDEMPOTENCY-KEY. The method is upper-cased.
//
// Parameters:
// - method string: The HTTP method of the request.
// - path string: The request path without the query string.
// - idempotencyKey string: The Idempotency-Key header value.
//
// Returns:
// - string: The scope shared by the journal and the idempotency store.
func Scope(method, path, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s:%s", strings.ToUpper(method), path, idempotencyKey)
}

// ValidateMutation checks headers, signature and nonce freshness. The nonce is consumed
// only once the signature verifies.
func (m *SecurityManager) ValidateMutation(ctx context.Context, meta RequestMeta, body []byte) (MutationContext, error) {
	_, span := otel.Tracer("qzd.security").Start(ctx, "ValidateMutation")
	defer span.End()

	if meta.IdempotencyKey == "" || meta.Nonce == "" || meta.Signature == "" {
		return MutationContext{}, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("%s, %s and %s headers are required", HeaderIdempotencyKey, HeaderNonce, HeaderSignature), nil)
	}
	if _, err := hex.DecodeString(meta.Nonce); err != nil {
		return MutationContext{}, apierror.NewAPIError(apierror.ErrBadRequest, "nonce must be hex encoded", nil)
	}
	sig, err := hex.DecodeString(meta.Signature)
	if err != nil {
		return MutationContext{}, apierror.NewAPIError(apierror.ErrBadRequest, "signature must be hex encoded", nil)
	}

	canonicalBody, err := ledger.CanonicalJSON(body)
	if err != nil {
		return MutationContext{}, apierror.NewAPIError(apierror.ErrBadRequest, "request body is not valid JSON", err.Error())
	}

	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(m.publicKey, CanonicalRequest(meta, canonicalBody), sig) {
		span.SetStatus(codes.Error, "signature verification failed")
		return MutationContext{}, apierror.NewAPIError(apierror.ErrUnauthorized, "invalid request signature", nil)
	}

	fresh, err := m.nonces.Consume(ctx, meta.Nonce)
	if err != nil {
		return MutationContext{}, apierror.Wrap(apierror.ErrInternalServer, "nonce store unavailable", err)
	}
	if !fresh {
		return MutationContext{}, apierror.NewAPIError(apierror.ErrReplayDetected, "nonce has already been used", nil)
	}

	sum := sha256.Sum256(canonicalBody)
	return MutationContext{
		Scope:    Scope(meta.Method, meta.Path, meta.IdempotencyKey),
		BodyHash: hex.EncodeToString(sum[:]),
	}, nil
}

func idempotencyConflict(scope string) error {
	return apierror.NewAPIError(apierror.ErrConflict,
		"idempotency key was already used with a different payload", map[string]string{"scope": scope})
}

// ApplyIdempotency runs factory at most once per scope. A repeat with the same body returns a
// fresh copy of the cached response; a different body is a conflict. Factory errors are not cached.
func ApplyIdempotency[T any](ctx context.Context, m *SecurityManager, mctx MutationContext, factory func() (T, error)) (T, error) {
	var zero T

	unlock, err := m.idempotency.Lock(ctx, mctx.Scope)
	if err != nil {
		return zero, apierror.Wrap(apierror.ErrInternalServer, "could not lock idempotency scope", err)
	}
	defer unlock()

	rec, found, err := m.idempotency.Get(ctx, mctx.Scope)
	if err != nil {
		return zero, apierror.Wrap(apierror.ErrInternalServer, "idempotency store unavailable", err)
	}
	if found {
		if rec.BodyHash != mctx.BodyHash {
			return zero, idempotencyConflict(mctx.Scope)
		}
		return decodeResponse[T](rec.Response)
	}

	result, err := factory()
	if err != nil {
		return zero, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return zero, apierror.Wrap(apierror.ErrInternalServer, "response cannot be cached", err)
	}
	err = m.idempotency.Put(ctx, mctx.Scope, model.IdempotencyRecord{
		BodyHash:  mctx.BodyHash,
		Response:  raw,
		CreatedAt: m.now().UTC(),
	})
	if err != nil {
		return zero, apierror.Wrap(apierror.ErrInternalServer, "idempotency store unavailable", err)
	}
	return decodeResponse[T](raw)
}

func decodeResponse[T any](raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apierror.Wrap(apierror.ErrInternalServer, "cached response is corrupt", err)
	}
	return out, nil
}
