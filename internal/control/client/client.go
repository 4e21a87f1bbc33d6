package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/loglens/loglens/internal/control"
	"github.com/loglens/loglens/internal/engine"
	"github.com/loglens/loglens/internal/marker"
)

const (
	// defaultTimeout is used when the caller does not provide a context deadline.
	defaultTimeout = 3 * time.Second
)

// Client talks to a running `loglens watch` over its control socket.
type Client struct {
	socketPath string
}

type (
	// Status mirrors the engine state returned by the watcher.
	Status = control.Status
	// Evaluation mirrors one evaluation history entry.
	Evaluation = engine.Evaluation
	// MarkerEntry mirrors one marked element.
	MarkerEntry = marker.Entry
	// ScanResult reports an on-demand scan cycle.
	ScanResult = control.ScanResult
)

// New creates a client that connects to the provided socket path. When path is
// empty, the default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// Status retrieves the engine state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.do(ctx, control.Request{Action: control.ActionStatus}, &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// History retrieves the recent evaluation log, oldest first.
func (c *Client) History(ctx context.Context) ([]Evaluation, error) {
	var result control.HistoryResult
	if err := c.do(ctx, control.Request{Action: control.ActionHistory}, &result); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// Markers lists the elements currently carrying markers.
func (c *Client) Markers(ctx context.Context) ([]MarkerEntry, error) {
	var result control.MarkersResult
	if err := c.do(ctx, control.Request{Action: control.ActionMarkers}, &result); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// ResetKey clears every marker of one element.
func (c *Client) ResetKey(ctx context.Context, key string) (int, error) {
	if key == "" {
		return 0, errors.New("element key cannot be empty")
	}
	return c.reset(ctx, map[string]any{"key": key})
}

// ResetSelector clears the markers of every element matching selector.
func (c *Client) ResetSelector(ctx context.Context, selector string) (int, error) {
	if selector == "" {
		return 0, errors.New("selector cannot be empty")
	}
	return c.reset(ctx, map[string]any{"selector": selector})
}

func (c *Client) reset(ctx context.Context, params map[string]any) (int, error) {
	var result control.ResetResult
	if err := c.do(ctx, control.Request{Action: control.ActionReset, Params: params}, &result); err != nil {
		return 0, err
	}
	return result.Cleared, nil
}

// Scan runs one scan cycle immediately.
func (c *Client) Scan(ctx context.Context) (ScanResult, error) {
	var result ScanResult
	if err := c.do(ctx, control.Request{Action: control.ActionScan}, &result); err != nil {
		return ScanResult{}, err
	}
	return result, nil
}

// Reload asks the watcher to reload its configuration.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionReload}, nil)
}

func (c *Client) do(ctx context.Context, req control.Request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != control.StatusOK {
		if resp.Error == "" {
			resp.Error = "unknown control error"
		}
		return errors.New(resp.Error)
	}
	if out == nil || resp.Data == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
