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

package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qzd-finance/qzd"
	"github.com/qzd-finance/qzd/ledger"
)

type keyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func generateKeyPair(random io.Reader) (keyPair, error) {
	pub, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return keyPair{}, err
	}
	return keyPair{PublicKey: hex.EncodeToString(pub), PrivateKey: hex.EncodeToString(priv)}, nil
}

// parsePrivateKey accepts a hex encoded 64 byte private key or 32 byte seed.
func parsePrivateKey(value string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("private key must be hex encoded: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes, got %d", ed25519.PrivateKeySize, ed25519.SeedSize, len(raw))
	}
}

func randomNonce(random io.Reader) (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(random, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// signRequest fills in the nonce when empty and signs the request.
func signRequest(key ed25519.PrivateKey, meta qzd.RequestMeta, body []byte, random io.Reader) (qzd.RequestMeta, error) {
	if meta.IdempotencyKey == "" {
		return meta, errors.New("idempotency key is required")
	}
	if meta.Nonce == "" {
		nonce, err := randomNonce(random)
		if err != nil {
			return meta, err
		}
		meta.Nonce = nonce
	}
	sig, err := qzd.SignRequest(key, meta, body)
	if err != nil {
		return meta, err
	}
	meta.Signature = sig
	return meta, nil
}

// decodeIssuancePayload reads either the GET /issuances/:id/payload response or a bare payload.
func decodeIssuancePayload(raw []byte) (ledger.Payload, error) {
	var wrapped struct {
		Payload *ledger.Payload `json:"payload"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&wrapped); err != nil {
		return ledger.Payload{}, err
	}
	if wrapped.Payload != nil {
		return *wrapped.Payload, nil
	}

	var payload ledger.Payload
	dec = json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return ledger.Payload{}, err
	}
	if payload.Type == "" {
		return ledger.Payload{}, errors.New("issuance payload has no type")
	}
	return payload, nil
}

func readInput(path string) ([]byte, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(path)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// keyCommands manages Ed25519 keys for request and issuance signing. They run without a
// configuration file.
func keyCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "generate keys and sign requests",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "generate an Ed25519 key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			pair, err := generateKeyPair(rand.Reader)
			if err != nil {
				return err
			}
			return printJSON(cmd, pair)
		},
	})

	var (
		privateKey string
		meta       qzd.RequestMeta
		bodyFile   string
	)
	sign := &cobra.Command{
		Use:   "sign",
		Short: "sign a mutation request and print its headers",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parsePrivateKey(privateKey)
			if err != nil {
				return err
			}
			body, err := readInput(bodyFile)
			if err != nil {
				return err
			}
			signed, err := signRequest(key, meta, body, rand.Reader)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				qzd.HeaderIdempotencyKey: signed.IdempotencyKey,
				qzd.HeaderNonce:          signed.Nonce,
				qzd.HeaderSignature:      signed.Signature,
			})
		},
	}
	sign.Flags().StringVar(&privateKey, "key", "", "hex encoded Ed25519 private key")
	sign.Flags().StringVar(&meta.Method, "method", "POST", "HTTP method")
	sign.Flags().StringVar(&meta.Path, "path", "", "request path, e.g. /transfers")
	sign.Flags().StringVar(&meta.IdempotencyKey, "idempotency-key", "", "Idempotency-Key header value")
	sign.Flags().StringVar(&meta.Nonce, "nonce", "", "hex nonce, random when empty")
	sign.Flags().StringVar(&bodyFile, "body", "", "file holding the JSON body, - for stdin")
	_ = sign.MarkFlagRequired("key")
	_ = sign.MarkFlagRequired("path")
	cmd.AddCommand(sign)

	var validatorKey, payloadFile string
	signIssuance := &cobra.Command{
		Use:   "sign-issuance",
		Short: "sign an issuance payload as a validator",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parsePrivateKey(validatorKey)
			if err != nil {
				return err
			}
			raw, err := readInput(payloadFile)
			if err != nil {
				return err
			}
			payload, err := decodeIssuancePayload(raw)
			if err != nil {
				return err
			}
			sig, err := ledger.Sign(key, payload)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"signature": sig})
		},
	}
	signIssuance.Flags().StringVar(&validatorKey, "key", "", "hex encoded validator private key")
	signIssuance.Flags().StringVar(&payloadFile, "payload", "-", "file holding the issuance payload, - for stdin")
	_ = signIssuance.MarkFlagRequired("key")
	cmd.AddCommand(signIssuance)

	return cmd
}
