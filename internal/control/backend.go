package control

import (
	"context"

	"github.com/loglens/loglens/internal/engine"
	"github.com/loglens/loglens/internal/loop"
	"github.com/loglens/loglens/internal/marker"
)

// Backend is the engine surface exposed over the socket.
type Backend interface {
	Status(ctx context.Context) (Status, error)
	History(ctx context.Context) ([]engine.Evaluation, error)
	Markers(ctx context.Context) ([]marker.Entry, error)
	// Reset clears the markers of the element with key, or of every element
	// matching selector when key is empty.
	Reset(ctx context.Context, key, selector string) (int, error)
	Scan(ctx context.Context) (engine.CycleReport, error)
}

// LoopBackend runs every engine call on the engine's loop.
type LoopBackend struct {
	Loop   *loop.Loop
	Engine *engine.Engine
}

var _ Backend = LoopBackend{}

// Status implements Backend.
func (b LoopBackend) Status(ctx context.Context) (Status, error) {
	var st Status
	err := b.Loop.Call(ctx, func() error {
		st = b.Engine.Status()
		return nil
	})
	return st, err
}

// History implements Backend.
func (b LoopBackend) History(ctx context.Context) ([]engine.Evaluation, error) {
	var out []engine.Evaluation
	err := b.Loop.Call(ctx, func() error {
		out = b.Engine.History()
		return nil
	})
	return out, err
}

// Markers implements Backend.
func (b LoopBackend) Markers(ctx context.Context) ([]marker.Entry, error) {
	var out []marker.Entry
	err := b.Loop.Call(ctx, func() error {
		out = b.Engine.Markers().Snapshot()
		return nil
	})
	return out, err
}

// Reset implements Backend.
func (b LoopBackend) Reset(ctx context.Context, key, selector string) (int, error) {
	var n int
	err := b.Loop.Call(ctx, func() error {
		if key != "" {
			n = b.Engine.Reset(key)
			return nil
		}
		var err error
		n, err = b.Engine.ResetMatching(selector)
		return err
	})
	return n, err
}

// Scan implements Backend.
func (b LoopBackend) Scan(ctx context.Context) (engine.CycleReport, error) {
	var report engine.CycleReport
	err := b.Loop.Call(ctx, func() error {
		report = b.Engine.RunCycle()
		return nil
	})
	return report, err
}
