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

import "time"

const (
	VoucherIssued   = "issued"
	VoucherPending  = "pending"
	VoucherRedeemed = "redeemed"
)

// Voucher is a cash-out token. The account is debited when the voucher is issued; redeeming
// it only records that the agent paid out the cash.
type Voucher struct {
	Code          string     `json:"code"`
	AccountID     string     `json:"account_id"`
	AgentID       string     `json:"agent_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	RedeemedBy    string     `json:"redeemed_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	RedeemedAt    *time.Time `json:"redeemed_at,omitempty"`
}

// OfflineVoucher moves value between accounts without both parties being online. The sender
// is debited on creation and the recipient credited on redemption.
type OfflineVoucher struct {
	VoucherID             string     `json:"id"`
	FromAccountID         string     `json:"from_account_id"`
	ToAccountID           string     `json:"to_account_id,omitempty"`
	Amount                int64      `json:"amount"`
	Currency              string     `json:"currency"`
	Status                string     `json:"status"`
	FundingTransactionID  string     `json:"funding_transaction_id"`
	RedemptionTransaction string     `json:"redemption_transaction_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	RedeemedAt            *time.Time `json:"redeemed_at,omitempty"`
}
