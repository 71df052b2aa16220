package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shellgate/shellgate/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeProfiles(t, `
claude:
  command: claude
  args: ["--continue"]
  working_dir: /work
  env:
    API_BASE: http://localhost:4000
htop:
  command: /usr/bin/htop
`)

	store := NewStore(logging.NewNop())
	require.NoError(t, store.LoadFile(path))

	def, ok := store.Get("claude")
	require.True(t, ok)
	assert.Equal(t, "claude", def.Command)
	assert.Equal(t, []string{"--continue"}, def.Args)
	assert.Equal(t, "/work", def.WorkingDir)
	assert.Equal(t, map[string]string{"API_BASE": "http://localhost:4000"}, def.Env)

	def, ok = store.Get("htop")
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/htop", def.Command)

	assert.Equal(t, []string{"claude", "htop"}, store.List())
}

func TestLoadFileMerges(t *testing.T) {
	store := NewStore(logging.NewNop())
	require.NoError(t, store.Register("keep", Definition{Command: "/bin/true"}))
	require.NoError(t, store.Register("replace", Definition{Command: "/bin/old"}))

	path := writeProfiles(t, `
replace:
  command: /bin/new
`)
	require.NoError(t, store.LoadFile(path))

	def, ok := store.Get("keep")
	require.True(t, ok)
	assert.Equal(t, "/bin/true", def.Command)

	def, ok = store.Get("replace")
	require.True(t, ok)
	assert.Equal(t, "/bin/new", def.Command)
}

func TestLoadFileErrors(t *testing.T) {
	store := NewStore(logging.NewNop())

	assert.Error(t, store.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))

	bad := writeProfiles(t, "claude: [not, a, mapping")
	assert.Error(t, store.LoadFile(bad))
}

func TestRegisterValidation(t *testing.T) {
	store := NewStore(logging.NewNop())

	assert.Error(t, store.Register("", Definition{Command: "/bin/sh"}))
	assert.Error(t, store.Register("noop", Definition{}))

	require.NoError(t, store.Register("sh", Definition{Command: "/bin/sh"}))
	_, ok := store.Get("sh")
	assert.True(t, ok)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}
