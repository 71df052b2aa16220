package ws

import "github.com/shellgate/shellgate/internal/terminal"

// Client control message types.
const (
	clientResize = "resize"
	clientSignal = "signal"
)

// Server control message types.
const (
	serverConnected    = "connected"
	serverStateChanged = "state_changed"
	serverResized      = "resized"
	serverError        = "error"
)

// ClientMessage is a JSON control frame from the viewer. Raw terminal
// input travels as binary frames, not as control messages.
type ClientMessage struct {
	Type   string `json:"type"`
	Cols   uint16 `json:"cols,omitempty"`
	Rows   uint16 `json:"rows,omitempty"`
	Signal int    `json:"signal,omitempty"`
}

// ServerMessage is a JSON control frame to the viewer.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Cols      uint16 `json:"cols,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
	Message   string `json:"message,omitempty"`
}

func connectedMessage(sessionID string) ServerMessage {
	return ServerMessage{Type: serverConnected, SessionID: sessionID}
}

func stateMessage(state terminal.Status, exitCode *int) ServerMessage {
	return ServerMessage{Type: serverStateChanged, State: string(state), ExitCode: exitCode}
}

func resizedMessage(size terminal.Size) ServerMessage {
	return ServerMessage{Type: serverResized, Cols: size.Cols, Rows: size.Rows}
}

func errorMessage(message string) ServerMessage {
	return ServerMessage{Type: serverError, Message: message}
}
