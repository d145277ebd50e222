package bootcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCleanup_ReleasesInReverseOrderOnce(t *testing.T) {
	SetLogger(zaptest.NewLogger(t))
	t.Cleanup(func() { SetLogger(nil) })

	var order []string
	c := newCleanup()
	for _, name := range []string{"detach", "mkdir", "mount"} {
		c.Push(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	assert.Equal(t, 3, c.Pending())

	require.NoError(t, c.Release(context.Background()))
	require.NoError(t, c.Release(context.Background()))

	assert.Equal(t, []string{"mount", "mkdir", "detach"}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestCleanup_ContinuesPastFailures(t *testing.T) {
	busy := errors.New("device or resource busy")

	var ran []string
	c := newCleanup()
	c.Push("detach", func(context.Context) error {
		ran = append(ran, "detach")
		return nil
	})
	c.Push("umount", func(context.Context) error {
		ran = append(ran, "umount")
		return busy
	})

	err := c.Release(context.Background())
	require.ErrorIs(t, err, busy)
	assert.Contains(t, err.Error(), "umount")
	assert.Equal(t, []string{"umount", "detach"}, ran)

	require.NoError(t, c.Release(context.Background()), "failed actions are not retried")
}

func TestCleanup_RunsAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr error
	c := newCleanup()
	c.Push("detach", func(ctx context.Context) error {
		sawErr = ctx.Err()
		return nil
	})

	require.NoError(t, c.Release(ctx))
	assert.NoError(t, sawErr)
	assert.Equal(t, 0, c.Pending())
}

func TestCleanup_LaterPushesStillRelease(t *testing.T) {
	var n int
	c := newCleanup()
	c.Push("a", func(context.Context) error { n++; return nil })
	require.NoError(t, c.Release(context.Background()))

	c.Push("b", func(context.Context) error { n++; return nil })
	assert.Equal(t, 1, c.Pending())
	require.NoError(t, c.Release(context.Background()))
	assert.Equal(t, 2, n)
}
