//go:build unix

package ghwdog_test

import (
	"context"
	"syscall"
	"testing"

	"github.com/gordian-engine/gwdog/ghwdog"
	"github.com/gordian-engine/gwdog/ghwdog/ghwdogtest"
	"github.com/gordian-engine/gwdog/internal/gtest"
	"github.com/stretchr/testify/require"
)

// Not parallel: the signal is delivered to the whole test process.
func TestBridge_HandleSignals_sigterm(t *testing.T) {
	f := newFixture()
	b := f.Bridge(t, nil)
	require.NoError(t, b.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := b.HandleSignals(ctx)
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	require.Equal(t, -15, gtest.ReceiveSoon(t, f.Exiter.C))
	require.Equal(t, []byte("kV"), f.Opener.Dev.Written())
	require.Equal(t, 1, f.Opener.Dev.Closes())

	b.Kick()
	require.Equal(t, []byte("kV"), f.Opener.Dev.Written())
}

func TestBridge_HandleSignals_stop(t *testing.T) {
	t.Parallel()

	e := ghwdogtest.NewExiter()
	b := ghwdog.NewNopBridge(gtest.NewLogger(t), ghwdog.WithExit(e.Exit))

	ctx, cancel := context.WithCancel(context.Background())
	stop := b.HandleSignals(ctx)

	// Canceling the context and stopping, in either order and repeatedly, is fine.
	cancel()
	stop()
	stop()

	gtest.NotSendingSoon(t, e.C)
	require.Empty(t, e.Codes())
}
