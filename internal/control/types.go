package control

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/loglens/loglens/internal/engine"
	"github.com/loglens/loglens/internal/marker"
)

const (
	// SocketFileName is the filename of the control socket within the runtime dir.
	SocketFileName = "control.sock"

	// Action names supported by the control protocol.
	ActionStatus  = "status"
	ActionHistory = "history"
	ActionMarkers = "markers"
	ActionReset   = "reset"
	ActionScan    = "scan"
	ActionReload  = "reload"

	// Response statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents a control API request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Status is the engine state reported by the status action.
type Status = engine.Status

// HistoryResult carries the recent evaluation log.
type HistoryResult struct {
	Entries []engine.Evaluation `json:"entries"`
}

// MarkersResult lists the elements carrying markers.
type MarkersResult struct {
	Entries []marker.Entry `json:"entries"`
}

// ResetResult reports how many markers a reset removed.
type ResetResult struct {
	Cleared int `json:"cleared"`
}

// ScanResult reports an on-demand scan cycle.
type ScanResult = engine.CycleReport

// DefaultSocketPath returns the expected location of the loglens control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv("LOGLENS_CONTROL_SOCKET"); env != "" {
		return env, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	base := runtimeDir
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "loglens", SocketFileName), nil
}
