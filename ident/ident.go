// Copyright 2025 Verdin Energy
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ident generates entity ids. Ids are content-derived hashes
// salted with a random nonce, so uniqueness does not depend on any
// process-local counter and stays correct across engine instances.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const hashLen = 20

// New derives an id from the given parts plus a random nonce,
// formatted as prefix-hexdigest.
func New(prefix string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "|")))
	h.Write([]byte("|"))
	h.Write([]byte(uuid.NewString()))
	digest := hex.EncodeToString(h.Sum(nil))
	return prefix + "-" + digest[:hashLen]
}
