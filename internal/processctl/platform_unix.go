//go:build unix

package processctl

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

func platformCapabilities() Capabilities {
	return Capabilities{Available: true, Method: MethodSignal}
}

// applyProcAttrs places the encoder in its own process group so signals can
// be delivered to the whole tree at once.
func applyProcAttrs(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &unix.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func terminateTree(h *Handle, force bool) {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	// Negative pid addresses the process group created at spawn.
	if err := unix.Kill(-h.pid, sig); err != nil {
		_ = unix.Kill(h.pid, sig)
	}
}
