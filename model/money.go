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
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// AmountPlaces is the number of decimal places kept for monetary amounts (minor units are cents).
	AmountPlaces = 2
	// RatePlaces is the number of decimal places kept for FX rates.
	RatePlaces = 4
)

var half = decimal.New(5, -1)

// ParseAmount converts a decimal string such as "25.005" into minor units, rounding half-up.
func ParseAmount(value string) (int64, error) {
	return parseScaled(value, AmountPlaces)
}

// FormatAmount renders minor units as a decimal string with two places.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -AmountPlaces).StringFixed(AmountPlaces)
}

// ParseRate converts an FX rate string into units of 1/10000, rounding half-up.
func ParseRate(value string) (int64, error) {
	return parseScaled(value, RatePlaces)
}

// FormatRate renders a scaled FX rate with four places.
func FormatRate(scaled int64) string {
	return decimal.New(scaled, -RatePlaces).StringFixed(RatePlaces)
}

// ConvertAmount applies a scaled FX rate to an amount in minor units, rounding half-up.
func ConvertAmount(minor int64, scaledRate int64) (int64, error) {
	product := decimal.New(minor, 0).Mul(decimal.New(scaledRate, -RatePlaces))
	return toInt64(roundHalfUp(product))
}

func parseScaled(value string, places int32) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return toInt64(roundHalfUp(d.Shift(places)))
}

// roundHalfUp rounds toward positive infinity on ties: floor(x + 0.5).
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Add(half).Floor()
}

func toInt64(d decimal.Decimal) (int64, error) {
	n := d.BigInt()
	if !n.IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return n.Int64(), nil
}
