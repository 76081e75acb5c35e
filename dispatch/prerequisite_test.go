package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblod/contact-data-dispatcher-service/pkg/retry"
)

func fastBackoff() retry.Config {
	return retry.Config{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestPrerequisite_SatisfiedImmediately(t *testing.T) {
	check := func(context.Context) (bool, error) { return true, nil }
	p := NewPrerequisite(check, fastBackoff(), nil, nil)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, p.Satisfied, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, p.Wait(ctx))
}

func TestPrerequisite_PollsUntilSatisfied(t *testing.T) {
	var checks atomic.Int64
	check := func(context.Context) (bool, error) {
		return checks.Add(1) >= 3, nil
	}
	p := NewPrerequisite(check, fastBackoff(), nil, nil)

	require.NoError(t, p.Start(context.Background()))
	assert.False(t, p.Satisfied())

	require.Eventually(t, p.Satisfied, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, checks.Load(), int64(3))
}

func TestPrerequisite_KeepsPollingThroughCheckErrors(t *testing.T) {
	var checks atomic.Int64
	check := func(context.Context) (bool, error) {
		if checks.Add(1) < 3 {
			return false, fmt.Errorf("store unreachable")
		}
		return true, nil
	}
	p := NewPrerequisite(check, fastBackoff(), nil, nil)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, p.Satisfied, time.Second, time.Millisecond)
}

func TestPrerequisite_WaitRespectsContext(t *testing.T) {
	check := func(context.Context) (bool, error) { return false, nil }
	p := NewPrerequisite(check, fastBackoff(), nil, nil)
	require.NoError(t, p.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Wait(ctx))
}

func TestPrerequisite_StartTwiceFails(t *testing.T) {
	check := func(context.Context) (bool, error) { return true, nil }
	p := NewPrerequisite(check, fastBackoff(), nil, nil)

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))
}
