// Package dom defines the document model the scan engine works against. A
// backend may be an in-memory tree (htmldoc) or a live browser page
// (browser); the engine only ever sees these interfaces.
//
// Implementations are not safe for concurrent use. Every call is expected on
// the engine's loop goroutine.
package dom

import "errors"

// ErrDetached is returned when an operation targets an element that is no
// longer part of its document.
var ErrDetached = errors.New("dom: element detached")

// Gesture names accepted by Element.OnGesture.
const (
	GestureDoubleClick    = "dblclick"
	GestureAuxiliaryClick = "auxclick"
)

// Document is one rendered document: the top page or a frame's content.
type Document interface {
	// URL is the document's address including its fragment.
	URL() string
	// QueryAll returns the elements matching a CSS selector group in
	// document order.
	QueryAll(selector string) ([]Element, error)
	// Frames lists the frame elements directly contained in the document.
	Frames() ([]Frame, error)
}

// Frame is a nested browsing context.
type Frame interface {
	// Src is the frame's src attribute as written in the markup.
	Src() string
	// Document returns the frame's content document. It fails when the
	// frame is not accessible, for example cross-origin.
	Document() (Document, error)
}

// Element is a node the engine can read, annotate and observe.
type Element interface {
	// Key is a stable identity for the element's lifetime. Backends
	// without native identity assign a synthetic one.
	Key() string
	// Text is the element's rendered text. Missing text is "".
	Text() string
	InnerHTML() (string, error)
	SetInnerHTML(markup string) error
	// Connected reports whether the element is still attached to its
	// document.
	Connected() bool
	// Contains reports whether other is the element itself or one of its
	// descendants.
	Contains(other Element) bool
	// OnGesture attaches fn to a pointer gesture unless a handler is
	// already attached. It reports whether fn was attached.
	OnGesture(gesture string, fn func()) (bool, error)
	// Observe watches the element's subtree for child-list changes.
	// Notifications arrive asynchronously on a later loop turn.
	Observe(fn func([]Mutation)) (stop func(), err error)
}

// Mutation describes one observed change.
type Mutation struct {
	// Target is the element whose children changed.
	Target Element
}

// Dispatcher schedules a callback on a later turn of the engine's loop.
type Dispatcher interface {
	Post(fn func()) bool
}

// Scope is implemented by elements that can resolve containment for many
// element keys in a single backend call.
type Scope interface {
	// Within returns the keys that name the element itself or one of its
	// descendants. Unknown keys are dropped.
	Within(keys []string) ([]string, error)
}
