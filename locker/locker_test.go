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

package locker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verdin-energy/verdin/fault"
	"github.com/verdin-energy/verdin/locker"
)

func TestLockRelease(t *testing.T) {
	l := locker.New(time.Second)
	release, err := l.Lock(context.Background(), "cert-1")
	require.NoError(t, err)
	release()
	// Re-acquire after release
	release2, err := l.Lock(context.Background(), "cert-1")
	require.NoError(t, err)
	release2()
}

func TestLockTimeout(t *testing.T) {
	l := locker.New(50 * time.Millisecond)
	release, err := l.Lock(context.Background(), "cert-1")
	require.NoError(t, err)
	defer release()
	_, err = l.Lock(context.Background(), "cert-1")
	require.Error(t, err)
	require.True(t, fault.IsLockTimeout(err))
	require.True(t, fault.Retryable(err))
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	l := locker.New(50 * time.Millisecond)
	release1, err := l.Lock(context.Background(), "cert-1")
	require.NoError(t, err)
	defer release1()
	release2, err := l.Lock(context.Background(), "cert-2")
	require.NoError(t, err)
	release2()
}

func TestContextCancellation(t *testing.T) {
	l := locker.New(5 * time.Second)
	release, err := l.Lock(context.Background(), "cert-1")
	require.NoError(t, err)
	defer release()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = l.Lock(ctx, "cert-1")
	require.True(t, fault.IsLockTimeout(err))
}

func TestMutualExclusion(t *testing.T) {
	l := locker.New(5 * time.Second)
	var counter int
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(context.Background(), "cert-1")
			if err != nil {
				t.Error(err)
				return
			}
			counter++
			release()
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}
