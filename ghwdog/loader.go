package ghwdog

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// DefaultModprobePath is the modprobe binary used by [ModprobeLoader]
// when its Path field is empty.
const DefaultModprobePath = "/sbin/modprobe"

// ModuleLoader loads the kernel module providing the watchdog device.
type ModuleLoader interface {
	Load(ctx context.Context, module string) error
}

// ModprobeLoader loads kernel modules by running modprobe.
type ModprobeLoader struct {
	// Path to the modprobe binary.
	// If empty, DefaultModprobePath is used.
	Path string
}

func (l ModprobeLoader) Load(ctx context.Context, module string) error {
	path := l.Path
	if path == "" {
		path = DefaultModprobePath
	}

	out, err := exec.CommandContext(ctx, path, module).CombinedOutput()
	if err != nil {
		out = bytes.TrimSpace(out)
		if len(out) == 0 {
			return fmt.Errorf("%s %s: %w", path, module, err)
		}
		return fmt.Errorf("%s %s: %w (output: %s)", path, module, err, out)
	}

	return nil
}
