package htmldoc

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/loglens/loglens/internal/dom"
)

// Element wraps one element node of a Document. The same node always yields
// the same *Element.
type Element struct {
	doc      *Document
	node     *html.Node
	key      string
	gestures map[string]func()
}

var _ dom.Element = (*Element)(nil)

// Key implements dom.Element.
func (e *Element) Key() string { return e.key }

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.node }

// Attr returns the named attribute or "".
func (e *Element) Attr(name string) string { return attr(e.node, name) }

// Text implements dom.Element.
func (e *Element) Text() string {
	return htmlquery.InnerText(e.node)
}

// InnerHTML implements dom.Element.
func (e *Element) InnerHTML() (string, error) {
	var buf bytes.Buffer
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render %s: %w", e.key, err)
		}
	}
	return buf.String(), nil
}

// SetInnerHTML implements dom.Element. Observers of the element or any of
// its ancestors receive one record targeting the element.
func (e *Element) SetInnerHTML(markup string) error {
	if !e.Connected() {
		return fmt.Errorf("%w: %s", dom.ErrDetached, e.key)
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), e.node)
	if err != nil {
		return fmt.Errorf("parse fragment for %s: %w", e.key, err)
	}
	for c := e.node.FirstChild; c != nil; {
		next := c.NextSibling
		e.node.RemoveChild(c)
		c = next
	}
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	e.doc.record(e)
	return nil
}

// AppendHTML parses markup in the element's context and appends the result,
// the way a host table adds rows.
func (e *Element) AppendHTML(markup string) error {
	if !e.Connected() {
		return fmt.Errorf("%w: %s", dom.ErrDetached, e.key)
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), e.node)
	if err != nil {
		return fmt.Errorf("parse fragment for %s: %w", e.key, err)
	}
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	e.doc.record(e)
	return nil
}

// Remove detaches the element from its parent.
func (e *Element) Remove() {
	parent := e.node.Parent
	if parent == nil {
		return
	}
	parent.RemoveChild(e.node)
	if parent.Type == html.ElementNode {
		e.doc.record(e.doc.wrap(parent))
	}
}

// Connected implements dom.Element.
func (e *Element) Connected() bool {
	return isInclusiveAncestor(e.doc.root, e.node)
}

// Contains implements dom.Element.
func (e *Element) Contains(other dom.Element) bool {
	o, ok := other.(*Element)
	if !ok || o.doc != e.doc {
		return false
	}
	return isInclusiveAncestor(e.node, o.node)
}

// OnGesture implements dom.Element.
func (e *Element) OnGesture(gesture string, fn func()) (bool, error) {
	if !e.Connected() {
		return false, fmt.Errorf("%w: %s", dom.ErrDetached, e.key)
	}
	if e.gestures == nil {
		e.gestures = make(map[string]func())
	}
	if _, ok := e.gestures[gesture]; ok {
		return false, nil
	}
	e.gestures[gesture] = fn
	return true, nil
}

// Fire invokes the handler attached for gesture and reports whether there
// was one.
func (e *Element) Fire(gesture string) bool {
	fn, ok := e.gestures[gesture]
	if !ok {
		return false
	}
	fn()
	return true
}

// Observe implements dom.Element.
func (e *Element) Observe(fn func([]dom.Mutation)) (func(), error) {
	if !e.Connected() {
		return nil, fmt.Errorf("%w: %s", dom.ErrDetached, e.key)
	}
	return e.doc.observe(e.node, fn), nil
}

func (e *Element) String() string {
	return fmt.Sprintf("<%s %s>", e.node.Data, e.key)
}
