// Package processctl wraps external encoder subprocess lifecycle: spawning
// into a manageable process group, whole-tree suspend/resume, and
// termination. Suspension must cover every helper process the encoder forks;
// stopping only the parent leaves children consuming CPU.
package processctl

import (
	"context"
	"log/slog"
	"os/exec"
	"sort"

	"github.com/shirou/gopsutil/v4/process"

	"telecine/internal/logging"
)

var commandContext = exec.CommandContext

// Method identifies how suspend/resume is delivered on this platform.
type Method string

const (
	MethodSignal      Method = "signal"
	MethodPlatformAPI Method = "platform-api"
	MethodNone        Method = "none"
)

// Capabilities reports whether pause is supported so callers can degrade
// gracefully instead of presenting a stuck progress bar.
type Capabilities struct {
	Available bool   `json:"available"`
	Method    Method `json:"method"`
}

// Handle tracks one spawned encoder process.
type Handle struct {
	cmd *exec.Cmd
	pid int
}

// PID returns the root process id.
func (h *Handle) PID() int {
	if h == nil {
		return 0
	}
	return h.pid
}

// Wait blocks until the process exits and returns its exit error, if any.
func (h *Handle) Wait() error {
	if h == nil || h.cmd == nil {
		return nil
	}
	return h.cmd.Wait()
}

// Controller manages encoder subprocesses.
type Controller struct {
	logger *slog.Logger
}

// New constructs a Controller. logger may be nil.
func New(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{logger: logging.WithComponent(logger, "processctl")}
}

// Command builds an exec.Cmd bound to ctx. Split out so tests can intercept
// process creation.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	return commandContext(ctx, name, args...)
}

// Start applies platform process-group attributes and launches the command.
func (c *Controller) Start(cmd *exec.Cmd) (*Handle, error) {
	applyProcAttrs(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Handle{cmd: cmd, pid: cmd.Process.Pid}, nil
}

// Capabilities reports platform pause support.
func (c *Controller) Capabilities() Capabilities {
	return platformCapabilities()
}

// Suspend stops the entire process tree rooted at the handle. Children are
// suspended before the root so helpers quiesce first. On partial failure the
// already-suspended processes are resumed and false is returned; the caller
// must not report the item as paused.
func (c *Controller) Suspend(h *Handle) bool {
	if h == nil || h.pid <= 0 || !platformCapabilities().Available {
		return false
	}
	tree, err := processTree(int32(h.pid))
	if err != nil || len(tree) == 0 {
		c.logger.Warn("suspend: process tree unavailable", logging.Int("pid", h.PID()), logging.Error(err))
		return false
	}
	suspended := make([]*process.Process, 0, len(tree))
	for i := len(tree) - 1; i >= 0; i-- {
		if err := tree[i].Suspend(); err != nil {
			c.logger.Warn("suspend failed, rolling back", logging.Int("pid", int(tree[i].Pid)), logging.Error(err))
			for _, proc := range suspended {
				_ = proc.Resume()
			}
			return false
		}
		suspended = append(suspended, tree[i])
	}
	return true
}

// Resume continues a suspended process tree, root first.
func (c *Controller) Resume(h *Handle) bool {
	if h == nil || h.pid <= 0 || !platformCapabilities().Available {
		return false
	}
	tree, err := processTree(int32(h.pid))
	if err != nil || len(tree) == 0 {
		c.logger.Warn("resume: process tree unavailable", logging.Int("pid", h.PID()), logging.Error(err))
		return false
	}
	ok := true
	for _, proc := range tree {
		if err := proc.Resume(); err != nil {
			c.logger.Warn("resume failed", logging.Int("pid", int(proc.Pid)), logging.Error(err))
			ok = false
		}
	}
	return ok
}

// Terminate stops the process tree. With force it kills outright; otherwise a
// graceful termination request is delivered first. Errors are swallowed: the
// process may already be gone, which is the desired end state.
func (c *Controller) Terminate(h *Handle, force bool) {
	if h == nil || h.pid <= 0 {
		return
	}
	// A suspended tree cannot handle a termination signal; wake it first.
	_ = c.Resume(h)
	terminateTree(h, force)
}

// processTree returns the root process followed by all descendants,
// breadth-first, so index order is parent-before-child.
func processTree(pid int32) ([]*process.Process, error) {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	tree := []*process.Process{root}
	queue := []*process.Process{root}
	seen := map[int32]struct{}{pid: {}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := current.Children()
		if err != nil {
			continue // leaf or already-gone process
		}
		sort.Slice(children, func(i, j int) bool { return children[i].Pid < children[j].Pid })
		for _, child := range children {
			if _, ok := seen[child.Pid]; ok {
				continue
			}
			seen[child.Pid] = struct{}{}
			tree = append(tree, child)
			queue = append(queue, child)
		}
	}
	return tree, nil
}
