//go:build !unix && !windows

package processctl

import "os/exec"

func platformCapabilities() Capabilities {
	return Capabilities{Available: false, Method: MethodNone}
}

func applyProcAttrs(cmd *exec.Cmd) {}

func terminateTree(h *Handle, force bool) {
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}
