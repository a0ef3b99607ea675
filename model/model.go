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

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix, e.g. txn_<uuid>.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// GenerateCode returns a short upper-case code suitable for printing on a voucher.
func GenerateCode(length int) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	if length <= 0 || length > len(raw) {
		length = len(raw)
	}
	return strings.ToUpper(raw[:length])
}

// copyMetaData returns a shallow copy of a metadata map. Values stored in metadata are
// scalars, so a shallow copy is enough to keep callers from mutating stored state.
func copyMetaData(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
