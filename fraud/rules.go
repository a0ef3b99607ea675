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

package fraud

import (
	"time"

	"github.com/qzd-finance/qzd/config"
)

// Rules holds the rule constants. Amounts are minor units.
type Rules struct {
	StructuringThreshold int64
	StructuringMargin    int64
	StructuringCount     int
	StructuringWindow    time.Duration
	VelocityCount        int
	VelocityWindow       time.Duration
	BurstCount           int
	BurstWindow          time.Duration
}

// DefaultRules returns the built-in windows and thresholds.
func DefaultRules() Rules {
	return Rules{
		StructuringThreshold: 10000,
		StructuringMargin:    500,
		StructuringCount:     3,
		StructuringWindow:    15 * time.Minute,
		VelocityCount:        5,
		VelocityWindow:       2 * time.Minute,
		BurstCount:           5,
		BurstWindow:          5 * time.Minute,
	}
}

// RulesFromConfig overlays the non-zero fields of cnf on DefaultRules.
func RulesFromConfig(cnf config.FraudConfig) Rules {
	r := DefaultRules()
	if cnf.StructuringThreshold > 0 {
		r.StructuringThreshold = cnf.StructuringThreshold
	}
	if cnf.StructuringMargin > 0 {
		r.StructuringMargin = cnf.StructuringMargin
	}
	if cnf.StructuringCount > 0 {
		r.StructuringCount = cnf.StructuringCount
	}
	if cnf.StructuringWindowMinutes > 0 {
		r.StructuringWindow = time.Duration(cnf.StructuringWindowMinutes) * time.Minute
	}
	if cnf.VelocityCount > 0 {
		r.VelocityCount = cnf.VelocityCount
	}
	if cnf.VelocityWindowMinutes > 0 {
		r.VelocityWindow = time.Duration(cnf.VelocityWindowMinutes) * time.Minute
	}
	if cnf.BurstCount > 0 {
		r.BurstCount = cnf.BurstCount
	}
	if cnf.BurstWindowMinutes > 0 {
		r.BurstWindow = time.Duration(cnf.BurstWindowMinutes) * time.Minute
	}
	return r
}

// isStructuringAmount reports whether amount falls in [threshold-margin, threshold).
func (r Rules) isStructuringAmount(amount int64) bool {
	return amount >= r.StructuringThreshold-r.StructuringMargin && amount < r.StructuringThreshold
}

type event struct {
	at     time.Time
	amount int64
}

// window is a time ordered event list.
type window []event

// evict drops events older than size relative to now.
func (w window) evict(now time.Time, size time.Duration) window {
	i := 0
	for i < len(w) && now.Sub(w[i].at) > size {
		i++
	}
	if i == 0 {
		return w
	}
	return append(window(nil), w[i:]...)
}

func (w window) total() int64 {
	var sum int64
	for _, e := range w {
		sum += e.amount
	}
	return sum
}

func dedupeKey(rule, scope string) string {
	return rule + ":" + scope
}
