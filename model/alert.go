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
	SeverityHigh   = "high"
	SeverityMedium = "medium"

	RuleStructuring     = "structuring"
	RuleVelocity        = "velocity"
	RuleNewAccountBurst = "new_account_burst"
	RuleBalanceMismatch = "balance_mismatch"
)

type Alert struct {
	AlertID      string                 `json:"id"`
	Severity     string                 `json:"severity"`
	Rule         string                 `json:"rule"`
	TS           time.Time              `json:"ts"`
	Details      map[string]interface{} `json:"details"`
	Acknowledged bool                   `json:"acknowledged"`
	DedupeKey    string                 `json:"dedupe_key"`
}

func (a Alert) Copy() Alert {
	a.Details = copyMetaData(a.Details)
	return a
}
