// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package abort

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose_TimeoutCause(t *testing.T) {
	s := Compose(context.Background(), 10*time.Millisecond)
	defer s.Cleanup()

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scope did not time out")
	}
	assert.Equal(t, CauseTimeout, s.Cause())
	assert.ErrorIs(t, context.Cause(s.Context()), ErrTimeout)
}

func TestCompose_ExternalCause(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := Compose(parent, time.Hour)
	defer s.Cleanup()

	cancel()
	<-s.Context().Done()
	assert.Equal(t, CauseExternal, s.Cause())
}

func TestCompose_ExternalWinsWhenBothFired(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := Compose(parent, time.Millisecond)
	defer s.Cleanup()

	<-s.Context().Done()
	cancel()
	assert.Equal(t, CauseExternal, s.Cause())
}

func TestCleanup_IdempotentAndStopsTimer(t *testing.T) {
	s := Compose(context.Background(), 20*time.Millisecond)
	assert.Equal(t, CauseNone, s.Cause())

	s.Cleanup()
	s.Cleanup()

	require.Error(t, s.Context().Err())
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, CauseNone, s.Cause())
}

func TestCompose_Defaults(t *testing.T) {
	s := Compose(context.Background(), 0)
	defer s.Cleanup()

	assert.NoError(t, s.Context().Err())
	assert.Equal(t, "none", s.Cause().String())
}
