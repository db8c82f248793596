package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/results-harvester/internal/results"
)

func TestCacheGetSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(time.Hour)

	_, found, err := c.Get(ctx, "23XZ1A0501")
	require.NoError(t, err)
	require.False(t, found)

	rec := results.ResultRecord{Identifier: "23XZ1A0501", Name: "ANANYA REDDY"}
	require.NoError(t, c.Set(ctx, rec))
	got, found, err := c.Get(ctx, "23XZ1A0501")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rec, got)
}

func TestCacheExpires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(20 * time.Millisecond)
	require.NoError(t, c.Set(ctx, results.ResultRecord{Identifier: "23XZ1A0501", Name: "X"}))
	require.Eventually(t, func() bool {
		_, found, _ := c.Get(ctx, "23XZ1A0501")
		return !found
	}, time.Second, 10*time.Millisecond)
}

func TestCacheStateSurvivesExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(10 * time.Millisecond)
	require.NoError(t, c.SetState(ctx, "watcher:last", "R22 results"))
	time.Sleep(30 * time.Millisecond)
	v, found, err := c.GetState(ctx, "watcher:last")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "R22 results", v)
}

func TestNoopDropsRecordsKeepsState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewNoop()
	require.NoError(t, c.Set(ctx, results.ResultRecord{Identifier: "X"}))
	_, found, err := c.Get(ctx, "X")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.SetState(ctx, "watcher:last", "R22 results"))
	v, found, err := c.GetState(ctx, "watcher:last")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "R22 results", v)
}
