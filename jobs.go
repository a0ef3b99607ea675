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
	"fmt"

	"github.com/qzd-finance/qzd/model"
)

// JobKind names a money-moving job the journal can execute.
type JobKind string

const (
	JobAgentCashIn          JobKind = "agent_cash_in"
	JobTransfer             JobKind = "transfer"
	JobIssuance             JobKind = "issuance"
	JobVoucherIssue         JobKind = "voucher_issue"
	JobOfflineVoucherCreate JobKind = "offline_voucher_create"
	JobOfflineVoucherRedeem JobKind = "offline_voucher_redeem"
)

// CashInJob credits an account with cash received by an agent.
type CashInJob struct {
	AccountID string `json:"account_id"`
	AgentID   string `json:"agent_id"`
	Amount    int64  `json:"amount"`
}

// TransferJob moves funds between two accounts.
type TransferJob struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        int64  `json:"amount"`
	Memo          string `json:"memo,omitempty"`
}

// IssuanceJob mints a ready issuance request into its account.
type IssuanceJob struct {
	IssuanceID string `json:"issuance_id"`
}

// VoucherJob debits an account for a cash-out voucher. Code is fixed when the job is built
// so retries issue the same voucher.
type VoucherJob struct {
	Code      string `json:"code"`
	AccountID string `json:"account_id"`
	AgentID   string `json:"agent_id"`
	Amount    int64  `json:"amount"`
}

// OfflineVoucherJob reserves funds for an offline voucher by debiting the sender.
type OfflineVoucherJob struct {
	VoucherID     string `json:"voucher_id"`
	FromAccountID string `json:"from_account_id"`
	Amount        int64  `json:"amount"`
}

// OfflineRedeemJob credits the reserved amount of an offline voucher to a recipient.
type OfflineRedeemJob struct {
	VoucherID   string `json:"voucher_id"`
	ToAccountID string `json:"to_account_id"`
}

// Job is a tagged union: exactly the payload matching Kind is set.
type Job struct {
	Kind           JobKind            `json:"kind"`
	CashIn         *CashInJob         `json:"cash_in,omitempty"`
	Transfer       *TransferJob       `json:"transfer,omitempty"`
	Issuance       *IssuanceJob       `json:"issuance,omitempty"`
	Voucher        *VoucherJob        `json:"voucher,omitempty"`
	OfflineVoucher *OfflineVoucherJob `json:"offline_voucher,omitempty"`
	OfflineRedeem  *OfflineRedeemJob  `json:"offline_redeem,omitempty"`
}

// NewCashInJob and the constructors below build a Job of the matching kind.
func NewCashInJob(j CashInJob) Job { return Job{Kind: JobAgentCashIn, CashIn: &j} }
func NewTransferJob(j TransferJob) Job { return Job{Kind: JobTransfer, Transfer: &j} }
func NewIssuanceJob(j IssuanceJob) Job { return Job{Kind: JobIssuance, Issuance: &j} }
func NewVoucherJob(j VoucherJob) Job { return Job{Kind: JobVoucherIssue, Voucher: &j} }
func NewOfflineVoucherJob(j OfflineVoucherJob) Job {
	return Job{Kind: JobOfflineVoucherCreate, OfflineVoucher: &j}
}
func NewOfflineRedeemJob(j OfflineRedeemJob) Job {
	return Job{Kind: JobOfflineVoucherRedeem, OfflineRedeem: &j}
}

// Validate checks that the payload matching Kind is present.
func (j Job) Validate() error {
	var ok bool
	switch j.Kind {
	case JobAgentCashIn:
		ok = j.CashIn != nil
	case JobTransfer:
		ok = j.Transfer != nil
	case JobIssuance:
		ok = j.Issuance != nil
	case JobVoucherIssue:
		ok = j.Voucher != nil
	case JobOfflineVoucherCreate:
		ok = j.OfflineVoucher != nil
	case JobOfflineVoucherRedeem:
		ok = j.OfflineRedeem != nil
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if !ok {
		return fmt.Errorf("job %s has no payload", j.Kind)
	}
	return nil
}

// Snapshot returns an immutable copy of the job inputs for the dead-letter queue.
func (j Job) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{"kind": string(j.Kind)}
	switch j.Kind {
	case JobAgentCashIn:
		snap["account_id"] = j.CashIn.AccountID
		snap["agent_id"] = j.CashIn.AgentID
		snap["amount"] = model.FormatAmount(j.CashIn.Amount)
	case JobTransfer:
		snap["from_account_id"] = j.Transfer.FromAccountID
		snap["to_account_id"] = j.Transfer.ToAccountID
		snap["amount"] = model.FormatAmount(j.Transfer.Amount)
		if j.Transfer.Memo != "" {
			snap["memo"] = j.Transfer.Memo
		}
	case JobIssuance:
		snap["issuance_id"] = j.Issuance.IssuanceID
	case JobVoucherIssue:
		snap["code"] = j.Voucher.Code
		snap["account_id"] = j.Voucher.AccountID
		snap["agent_id"] = j.Voucher.AgentID
		snap["amount"] = model.FormatAmount(j.Voucher.Amount)
	case JobOfflineVoucherCreate:
		snap["voucher_id"] = j.OfflineVoucher.VoucherID
		snap["from_account_id"] = j.OfflineVoucher.FromAccountID
		snap["amount"] = model.FormatAmount(j.OfflineVoucher.Amount)
	case JobOfflineVoucherRedeem:
		snap["voucher_id"] = j.OfflineRedeem.VoucherID
		snap["to_account_id"] = j.OfflineRedeem.ToAccountID
	}
	return snap
}
