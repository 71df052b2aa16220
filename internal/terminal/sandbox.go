package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/shellgate/shellgate/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// LaunchPlan is the fully-resolved exec recipe the PTY adapter runs. The
// sandboxed and unsandboxed paths both produce one, so everything above
// the launcher is indifferent to which produced it.
type LaunchPlan struct {
	Command string
	Args    []string
	Env     []string
}

// Launcher decides and applies process isolation before exec.
//
// Linux uses bwrap (bubblewrap), macOS uses sandbox-exec. If the host
// lacks the capability the Prepare call fails with ErrSandboxUnavailable
// before anything spawns; it never falls back to unsandboxed execution.
type Launcher struct {
	log      *logging.Logger
	goos     string
	lookPath func(string) (string, error)
}

// NewLauncher creates a launcher for the current platform.
func NewLauncher(log *logging.Logger) *Launcher {
	return &Launcher{
		log:      log,
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
	}
}

// Prepare wraps plan with an isolation boundary when sandboxed is set.
// The working directory stays read-write inside the sandbox; system
// paths are read-only.
func (l *Launcher) Prepare(plan LaunchPlan, workingDir string, sandboxed bool) (LaunchPlan, error) {
	if !sandboxed {
		return plan, nil
	}

	switch l.goos {
	case "linux":
		return l.wrapBwrap(plan, workingDir)
	case "darwin":
		return l.wrapSandboxExec(plan, workingDir)
	default:
		return LaunchPlan{}, fmt.Errorf("no sandbox backend for %s: %w", l.goos, ErrSandboxUnavailable)
	}
}

func (l *Launcher) wrapBwrap(plan LaunchPlan, workingDir string) (LaunchPlan, error) {
	bwrap, err := l.lookPath("bwrap")
	if err != nil {
		return LaunchPlan{}, fmt.Errorf("bwrap not found: %w", ErrSandboxUnavailable)
	}

	home := homeDir()
	args := []string{
		"--ro-bind", "/", "/",
		"--bind", home, home,
		"--bind", workingDir, workingDir,
		"--bind", "/tmp", "/tmp",
		"--dev", "/dev",
		"--proc", "/proc",
		// Keep the network namespace: the wrapped program still needs
		// API access.
		"--unshare-user",
		"--unshare-ipc",
		"--unshare-pid",
		"--unshare-uts",
		"--unshare-cgroup",
		"--die-with-parent",
		"--chdir", workingDir,
		"--",
		plan.Command,
	}
	args = append(args, plan.Args...)

	l.log.Debug("prepared bwrap sandbox",
		zap.String("command", plan.Command),
		zap.String("working_dir", workingDir),
	)

	return LaunchPlan{Command: bwrap, Args: args, Env: plan.Env}, nil
}

func (l *Launcher) wrapSandboxExec(plan LaunchPlan, workingDir string) (LaunchPlan, error) {
	sandboxExec, err := l.lookPath("sandbox-exec")
	if err != nil {
		return LaunchPlan{}, fmt.Errorf("sandbox-exec not found: %w", ErrSandboxUnavailable)
	}

	profile := seatbeltProfile(workingDir, homeDir())
	args := append([]string{"-p", profile, plan.Command}, plan.Args...)

	l.log.Debug("prepared sandbox-exec sandbox",
		zap.String("command", plan.Command),
		zap.String("working_dir", workingDir),
	)

	return LaunchPlan{Command: sandboxExec, Args: args, Env: plan.Env}, nil
}

// seatbeltProfile denies writes to system directories while keeping the
// home directory, working directory, temp space, and network usable.
func seatbeltProfile(workingDir, home string) string {
	return fmt.Sprintf(`(version 1)
(allow default)
(deny file-write*
    (subpath "/System")
    (subpath "/usr")
    (subpath "/bin")
    (subpath "/sbin")
    (subpath "/Library")
    (subpath "/private/var")
)
(allow file-write*
    (subpath %q)
    (subpath %q)
    (subpath "/tmp")
    (subpath "/private/tmp")
)
(allow network*)
(allow process-fork)
(allow process-exec)
`, home, workingDir)
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return filepath.Join("/home", os.Getenv("USER"))
}
