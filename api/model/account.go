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

// Amounts are decimal strings in major units, e.g. "12.50".

type CreateAccount struct {
	OwnerID        string `json:"owner_id"`
	KYCLevel       string `json:"kyc_level"`
	Currency       string `json:"currency"`
	OpeningBalance string `json:"opening_balance"`
}

type CashIn struct {
	AgentID string `json:"agent_id"`
	Amount  string `json:"amount"`
}

type Transfer struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"`
	Memo          string `json:"memo"`
}

type Credentials struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}
