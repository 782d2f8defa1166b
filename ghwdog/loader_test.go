package ghwdog_test

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/gordian-engine/gwdog/ghwdog"
	"github.com/stretchr/testify/require"
)

func TestModprobeLoader(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		truePath, err := exec.LookPath("true")
		if err != nil {
			t.Skip("no true binary on PATH")
		}

		l := ghwdog.ModprobeLoader{Path: truePath}
		require.NoError(t, l.Load(context.Background(), "softdog"))
	})

	t.Run("command fails", func(t *testing.T) {
		t.Parallel()

		falsePath, err := exec.LookPath("false")
		if err != nil {
			t.Skip("no false binary on PATH")
		}

		l := ghwdog.ModprobeLoader{Path: falsePath}
		err = l.Load(context.Background(), "softdog")
		require.ErrorContains(t, err, "softdog")

		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
	})

	t.Run("missing binary", func(t *testing.T) {
		t.Parallel()

		l := ghwdog.ModprobeLoader{Path: filepath.Join(t.TempDir(), "modprobe")}
		require.Error(t, l.Load(context.Background(), "softdog"))
	})
}
