package terminal

import (
	"os/exec"
	"testing"

	"github.com/shellgate/shellgate/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLauncher(goos string, lookPath func(string) (string, error)) *Launcher {
	return &Launcher{log: logging.NewNop(), goos: goos, lookPath: lookPath}
}

func TestPrepareUnsandboxedPassthrough(t *testing.T) {
	launcher := testLauncher("linux", func(string) (string, error) {
		t.Fatal("lookPath must not be called for unsandboxed sessions")
		return "", nil
	})

	plan := LaunchPlan{Command: "/bin/sh", Args: []string{"-l"}, Env: []string{"TERM=xterm"}}
	got, err := launcher.Prepare(plan, "/tmp", false)
	require.NoError(t, err)
	assert.Equal(t, plan, got)
}

func TestPrepareBwrap(t *testing.T) {
	launcher := testLauncher("linux", func(name string) (string, error) {
		assert.Equal(t, "bwrap", name)
		return "/usr/bin/bwrap", nil
	})

	plan := LaunchPlan{Command: "/bin/sh", Args: []string{"-l"}, Env: []string{"TERM=xterm"}}
	got, err := launcher.Prepare(plan, "/srv/work", true)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/bwrap", got.Command)
	assert.Equal(t, plan.Env, got.Env)

	// The wrapped command comes after the -- separator.
	sep := -1
	for i, arg := range got.Args {
		if arg == "--" {
			sep = i
			break
		}
	}
	require.GreaterOrEqual(t, sep, 0, "missing -- separator")
	assert.Equal(t, []string{"/bin/sh", "-l"}, got.Args[sep+1:])

	assert.Contains(t, got.Args, "--die-with-parent")
	assert.Contains(t, got.Args, "--unshare-pid")
	assert.NotContains(t, got.Args, "--unshare-net")
	assert.Contains(t, got.Args, "--chdir")
	assert.Contains(t, got.Args, "/srv/work")
}

func TestPrepareBwrapMissing(t *testing.T) {
	launcher := testLauncher("linux", func(string) (string, error) {
		return "", exec.ErrNotFound
	})

	_, err := launcher.Prepare(LaunchPlan{Command: "/bin/sh"}, "/tmp", true)
	assert.ErrorIs(t, err, ErrSandboxUnavailable)
}

func TestPrepareSandboxExec(t *testing.T) {
	launcher := testLauncher("darwin", func(name string) (string, error) {
		assert.Equal(t, "sandbox-exec", name)
		return "/usr/bin/sandbox-exec", nil
	})

	got, err := launcher.Prepare(LaunchPlan{Command: "/bin/zsh", Args: []string{"-l"}}, "/Users/dev/proj", true)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/sandbox-exec", got.Command)
	require.GreaterOrEqual(t, len(got.Args), 4)
	assert.Equal(t, "-p", got.Args[0])
	assert.Contains(t, got.Args[1], "(version 1)")
	assert.Contains(t, got.Args[1], "/Users/dev/proj")
	assert.Equal(t, []string{"/bin/zsh", "-l"}, got.Args[2:])
}

func TestPrepareSandboxExecMissing(t *testing.T) {
	launcher := testLauncher("darwin", func(string) (string, error) {
		return "", exec.ErrNotFound
	})

	_, err := launcher.Prepare(LaunchPlan{Command: "/bin/zsh"}, "/tmp", true)
	assert.ErrorIs(t, err, ErrSandboxUnavailable)
}

func TestPrepareUnsupportedPlatform(t *testing.T) {
	launcher := testLauncher("windows", func(string) (string, error) {
		return "C:\\bwrap.exe", nil
	})

	_, err := launcher.Prepare(LaunchPlan{Command: "cmd"}, "C:\\", true)
	assert.ErrorIs(t, err, ErrSandboxUnavailable)
}
