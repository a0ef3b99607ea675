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
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/qzd-finance/qzd/model"
)

// Payload is the signed portion of a ledger entry.
type Payload struct {
	Type      string                 `json:"type"`
	Amount    int64                  `json:"amount"`
	Asset     string                 `json:"asset"`
	ToAccount string                 `json:"to_account"`
	Meta      map[string]interface{} `json:"meta"`
}

// PayloadOf returns the signed payload of a ledger entry.
func PayloadOf(entry model.LedgerEntry) Payload {
	return Payload{
		Type:      entry.Type,
		Amount:    entry.Amount,
		Asset:     entry.Asset,
		ToAccount: entry.ToAccount,
		Meta:      entry.Meta,
	}
}

// CanonicalJSON re-serializes a JSON document with sorted object keys and no
// insignificant whitespace. Numbers keep their literal form. Empty input yields "null".
func CanonicalJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("invalid json: trailing data")
	}
	return marshalCanonical(value)
}

func marshalCanonical(value interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalPayload returns the canonical byte form of p.
func CanonicalPayload(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return CanonicalJSON(raw)
}

// Digest is the sha256 of the canonical payload. Validators sign this value.
func Digest(p Payload) ([]byte, error) {
	canonical, err := CanonicalPayload(p)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)
	return sum[:], nil
}

// Sign produces a hex signature over the payload digest.
func Sign(key ed25519.PrivateKey, p Payload) (string, error) {
	digest, err := Digest(p)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(key, digest)), nil
}

// VerifySignature checks a hex signature over the payload digest.
func VerifySignature(key ed25519.PublicKey, p Payload, signature string) bool {
	digest, err := Digest(p)
	if err != nil {
		return false
	}
	return verifyDigest(key, digest, signature)
}

func decodeSignature(signature string) ([]byte, error) {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return nil, err
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes", ed25519.SignatureSize)
	}
	return sig, nil
}

func entryHash(index int64, canonical []byte, previousHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|", index)
	h.Write(canonical)
	fmt.Fprintf(h, "|%s", previousHash)
	return hex.EncodeToString(h.Sum(nil))
}
