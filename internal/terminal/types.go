package terminal

import (
	"time"

	"github.com/shellgate/shellgate/internal/shared/id"
)

// Kind discriminates how a session's command was chosen.
type Kind string

const (
	// KindProfile runs the command resolved from a profile alias.
	KindProfile Kind = "profile"
	// KindShell runs an interactive shell.
	KindShell Kind = "shell"
)

// Status is a session lifecycle state. Transitions are monotonic:
// Starting -> Running -> Terminated.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusTerminated Status = "terminated"
)

// Size holds terminal dimensions.
type Size struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// DefaultSize is used when a creation request omits dimensions.
var DefaultSize = Size{Cols: 80, Rows: 24}

// Summary is the public representation of a session.
type Summary struct {
	ID          id.SessionID `json:"id"`
	Kind        Kind         `json:"kind"`
	Reference   string       `json:"reference"`
	WorkingDir  string       `json:"working_dir"`
	State       Status       `json:"state"`
	ExitCode    *int         `json:"exit_code,omitempty"`
	Cols        uint16       `json:"cols"`
	Rows        uint16       `json:"rows"`
	ClientCount int          `json:"client_count"`
	Sandboxed   bool         `json:"sandboxed"`
	PID         int          `json:"pid,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// OutputKind discriminates events delivered to attached gateways.
type OutputKind int

const (
	// OutputData carries raw PTY output bytes.
	OutputData OutputKind = iota
	// OutputState announces a session state change.
	OutputState
	// OutputResize announces new session-wide dimensions.
	OutputResize
)

// Output is one event on a gateway subscription.
type Output struct {
	Kind OutputKind

	// Data is set for OutputData.
	Data []byte

	// State and ExitCode are set for OutputState.
	State    Status
	ExitCode *int

	// Size is set for OutputResize.
	Size Size
}

// input is one entry on a session's serialized input queue. Exactly one
// of the fields is meaningful.
type input struct {
	data   []byte
	resize *Size
	signal int
}

// ProfileSpec is what the profile store resolves an alias to.
type ProfileSpec struct {
	Command    string
	Args       []string
	WorkingDir string
	Env        map[string]string
}

// ProfileResolver is the narrow profile-store contract the registry
// consumes. The second return reports whether the alias exists.
type ProfileResolver interface {
	ResolveProfile(alias string) (ProfileSpec, bool)
}
