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

package fault_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/verdin-energy/verdin/fault"
)

func TestKindClassification(t *testing.T) {
	err := fault.Conflict(
		fault.ReasonInsufficientBalance,
		"requested %d, remaining %d",
		60000,
		30000,
	)
	require.True(t, fault.IsConflict(err))
	require.False(t, fault.IsValidation(err))
	require.Equal(t, fault.ReasonInsufficientBalance, fault.ReasonOf(err))
}

func TestWrappedClassification(t *testing.T) {
	inner := fault.NotFound("certificate %s", "grc-abc")
	wrapped := fmt.Errorf("loading candidate: %w", inner)
	require.True(t, fault.IsNotFound(wrapped))
	require.Equal(t, fault.KindNotFound, fault.KindOf(wrapped))
}

func TestForeignErrorIsUnknown(t *testing.T) {
	err := errors.New("some sqlite error")
	require.Equal(t, fault.KindUnknown, fault.KindOf(err))
	require.False(t, fault.Retryable(err))
	require.Empty(t, fault.ReasonOf(err))
}

func TestRetryable(t *testing.T) {
	require.True(t, fault.Retryable(fault.LockTimeout("certificate %s", "x")))
	require.True(
		t,
		fault.Retryable(
			fault.ExternalDependency(errors.New("io"), "chain append"),
		),
	)
	require.False(
		t,
		fault.Retryable(fault.Conflict(fault.ReasonDuplicatePeriod, "dup")),
	)
	require.False(
		t,
		fault.Retryable(fault.Validation("", "amount must be positive")),
	)
}

func TestErrorString(t *testing.T) {
	err := fault.ExternalDependency(errors.New("badger closed"), "chain append")
	require.Contains(t, err.Error(), "chain append")
	require.Contains(t, err.Error(), "badger closed")
	require.ErrorContains(
		t,
		fault.Conflict(fault.ReasonDuplicatePeriod, "facility f1"),
		fault.ReasonDuplicatePeriod,
	)
}
