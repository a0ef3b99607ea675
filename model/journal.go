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

type JournalStatus string

const (
	JournalPending JournalStatus = "pending"
	JournalPosted  JournalStatus = "posted"
	JournalFailed  JournalStatus = "failed"
)

// ExecutionError is the normalized form of an error raised while executing a journaled job.
type ExecutionError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// JournalRecord tracks a single idempotency scope through the journal protocol.
type JournalRecord struct {
	Scope         string          `json:"scope"`
	BodyHash      string          `json:"body_hash"`
	TransactionID string          `json:"transaction_id"`
	JobKind       string          `json:"job_kind"`
	Status        JournalStatus   `json:"status"`
	Attempts      int             `json:"attempts"`
	Response      *Transaction    `json:"response,omitempty"`
	LastError     *ExecutionError `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Copy returns a deep copy of the record.
func (r JournalRecord) Copy() JournalRecord {
	if r.Response != nil {
		resp := r.Response.Copy()
		r.Response = &resp
	}
	if r.LastError != nil {
		e := *r.LastError
		r.LastError = &e
	}
	return r
}

// DeadLetterRecord is a failed journal execution waiting for a retry.
type DeadLetterRecord struct {
	Scope         string                 `json:"scope"`
	TransactionID string                 `json:"transaction_id"`
	JobKind       string                 `json:"job_kind"`
	FailedAt      time.Time              `json:"failed_at"`
	Attempts      int                    `json:"attempts"`
	Error         ExecutionError         `json:"error"`
	Snapshot      map[string]interface{} `json:"snapshot"`
}

func (d DeadLetterRecord) Copy() DeadLetterRecord {
	d.Snapshot = copyMetaData(d.Snapshot)
	return d
}

// IdempotencyRecord caches the serialized response of a completed scope.
type IdempotencyRecord struct {
	BodyHash  string    `json:"body_hash"`
	Response  []byte    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}
