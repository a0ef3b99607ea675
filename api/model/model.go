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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/qzd-finance/qzd"
	"github.com/qzd-finance/qzd/model"
)

// amountRule accepts a positive decimal string. Extra places round half-up.
func amountRule(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return errors.New("invalid type for amount")
	}
	if s == "" {
		return nil
	}
	minor, err := model.ParseAmount(s)
	if err != nil {
		return errors.New("must be a decimal amount such as 12.50")
	}
	if minor <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}

// openingRule is amountRule that also allows zero.
func openingRule(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	minor, err := model.ParseAmount(s)
	if err != nil {
		return errors.New("must be a decimal amount such as 12.50")
	}
	if minor < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

// minor converts a validated amount. Validation has already rejected malformed input.
func minor(value string) int64 {
	if value == "" {
		return 0
	}
	amount, _ := model.ParseAmount(value)
	return amount
}

func (a *CreateAccount) ValidateCreateAccount() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.OwnerID, validation.Required),
		validation.Field(&a.KYCLevel, validation.In(model.KYCBasic, model.KYCFull)),
		validation.Field(&a.Currency, validation.Length(3, 8)),
		validation.Field(&a.OpeningBalance, validation.By(openingRule)),
	)
}

func (c *CashIn) ValidateCashIn() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AgentID, validation.Required),
		validation.Field(&c.Amount, validation.Required, validation.By(amountRule)),
	)
}

func (t *Transfer) ValidateTransfer() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.FromAccountID, validation.Required),
		validation.Field(&t.ToAccountID, validation.Required, validation.NotIn(t.FromAccountID).Error("must differ from from_account_id")),
		validation.Field(&t.Amount, validation.Required, validation.By(amountRule)),
		validation.Field(&t.Memo, validation.Length(0, 140)),
	)
}

func (i *CreateIssuance) ValidateCreateIssuance() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.AccountID, validation.Required),
		validation.Field(&i.Amount, validation.Required, validation.By(amountRule)),
	)
}

func (s *SignIssuance) ValidateSignIssuance() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.ValidatorID, validation.Required),
		validation.Field(&s.Signature, validation.Required),
	)
}

func (v *IssueVoucher) ValidateIssueVoucher() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.AccountID, validation.Required),
		validation.Field(&v.AgentID, validation.Required),
		validation.Field(&v.Amount, validation.Required, validation.By(amountRule)),
	)
}

func (r *RedeemVoucher) ValidateRedeemVoucher() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.AgentID, validation.Required),
	)
}

func (o *CreateOfflineVoucher) ValidateCreateOfflineVoucher() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.FromAccountID, validation.Required),
		validation.Field(&o.Amount, validation.Required, validation.By(amountRule)),
	)
}

func (r *RedeemOfflineVoucher) ValidateRedeemOfflineVoucher() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ToAccountID, validation.Required),
	)
}

func (c *Credentials) ValidateCredentials() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Phone, validation.Required),
		validation.Field(&c.Password, validation.Required),
	)
}

func (a *CreateAccount) ToRequest() qzd.CreateAccountRequest {
	return qzd.CreateAccountRequest{
		OwnerID:        a.OwnerID,
		KYCLevel:       a.KYCLevel,
		Currency:       a.Currency,
		OpeningBalance: minor(a.OpeningBalance),
	}
}

func (c *CashIn) ToJob(accountID string) qzd.CashInJob {
	return qzd.CashInJob{AccountID: accountID, AgentID: c.AgentID, Amount: minor(c.Amount)}
}

func (t *Transfer) ToJob() qzd.TransferJob {
	return qzd.TransferJob{FromAccountID: t.FromAccountID, ToAccountID: t.ToAccountID, Amount: minor(t.Amount), Memo: t.Memo}
}

func (i *CreateIssuance) ToRequest() qzd.CreateIssuanceRequest {
	return qzd.CreateIssuanceRequest{AccountID: i.AccountID, Amount: minor(i.Amount)}
}

func (s *SignIssuance) ToRequest() qzd.SignIssuanceRequest {
	return qzd.SignIssuanceRequest{ValidatorID: s.ValidatorID, Signature: s.Signature}
}

func (v *IssueVoucher) ToRequest() qzd.IssueVoucherRequest {
	return qzd.IssueVoucherRequest{AccountID: v.AccountID, AgentID: v.AgentID, Amount: minor(v.Amount)}
}

func (o *CreateOfflineVoucher) ToRequest() qzd.CreateOfflineVoucherRequest {
	return qzd.CreateOfflineVoucherRequest{FromAccountID: o.FromAccountID, Amount: minor(o.Amount)}
}

func (c *Credentials) ToCredentials() qzd.Credentials {
	return qzd.Credentials{Phone: c.Phone, Password: c.Password}
}
