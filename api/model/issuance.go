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

type CreateIssuance struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

type SignIssuance struct {
	ValidatorID string `json:"validator_id"`
	Signature   string `json:"signature"`
}

type IssueVoucher struct {
	AccountID string `json:"account_id"`
	AgentID   string `json:"agent_id"`
	Amount    string `json:"amount"`
}

type RedeemVoucher struct {
	AgentID string `json:"agent_id"`
}

type CreateOfflineVoucher struct {
	FromAccountID string `json:"from_account_id"`
	Amount        string `json:"amount"`
}

type RedeemOfflineVoucher struct {
	ToAccountID string `json:"to_account_id"`
}
