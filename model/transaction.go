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

import (
	"encoding/json"
	"time"
)

const (
	TypeCredit     = "credit"
	TypeDebit      = "debit"
	TypeTransfer   = "transfer"
	TypeIssuance   = "issuance"
	TypeRedemption = "redemption"

	StatusPosted = "posted"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	// MetaDirection is the metadata key carrying the leg direction of a transfer.
	MetaDirection = "direction"
)

// Transaction is an immutable posting against one account. A transfer is recorded as two
// legs sharing the same TransactionID, one in each account's history.
type Transaction struct {
	TransactionID         string                 `json:"id"`
	AccountID             string                 `json:"account_id"`
	CounterpartyAccountID string                 `json:"counterparty_account_id,omitempty"`
	Type                  string                 `json:"type"`
	Amount                int64                  `json:"amount"`
	Currency              string                 `json:"currency"`
	Status                string                 `json:"status"`
	CreatedAt             time.Time              `json:"created_at"`
	MetaData              map[string]interface{} `json:"meta_data,omitempty"`
}

func (transaction *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}

// Copy returns a copy that does not share metadata with the receiver.
func (transaction Transaction) Copy() Transaction {
	transaction.MetaData = copyMetaData(transaction.MetaData)
	return transaction
}

// Direction returns the transfer leg direction recorded in metadata, or "" when absent.
func (transaction *Transaction) Direction() string {
	if transaction.MetaData == nil {
		return ""
	}
	d, _ := transaction.MetaData[MetaDirection].(string)
	return d
}

// IsOutboundTransfer reports whether the transaction is the sending leg of a transfer.
func (transaction *Transaction) IsOutboundTransfer() bool {
	return transaction.Type == TypeTransfer && transaction.Direction() == DirectionOutbound
}
