//go:build windows

package processctl

import "os/exec"

func platformCapabilities() Capabilities {
	// gopsutil drives NtSuspendProcess/NtResumeProcess on Windows.
	return Capabilities{Available: true, Method: MethodPlatformAPI}
}

func applyProcAttrs(cmd *exec.Cmd) {}

func terminateTree(h *Handle, force bool) {
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}
