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
	AccountActive = "ACTIVE"
	AccountFrozen = "FROZEN"

	KYCBasic = "BASIC"
	KYCFull  = "FULL"
)

// Account holds a wallet balance in minor units.
// Balance == OpeningBalance + sum of signed deltas of the posted transactions in its history.
type Account struct {
	AccountID      string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Status         string    `json:"status"`
	KYCLevel       string    `json:"kyc_level"`
	Currency       string    `json:"currency"`
	Balance        int64     `json:"balance"`
	OpeningBalance int64     `json:"opening_balance"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (a *Account) IsFrozen() bool {
	return a.Status == AccountFrozen
}

type User struct {
	UserID       string    `json:"id"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	AccountID    string    `json:"account_id"`
	CreatedAt    time.Time `json:"created_at"`
}
