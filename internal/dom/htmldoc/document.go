// Package htmldoc is an in-memory dom backend built on golang.org/x/net/html.
// It serves static annotation runs and gives tests a document whose content
// can be replaced the way a host widget re-renders its cells.
package htmldoc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/loglens/loglens/internal/dom"
)

var keySeq atomic.Uint64

// ErrFrameNotLoaded is returned for a frame whose content was never attached.
var ErrFrameNotLoaded = errors.New("htmldoc: frame content not loaded")

// Document is an in-memory document tree.
type Document struct {
	url        string
	root       *html.Node
	dispatcher dom.Dispatcher

	elements  map[*html.Node]*Element
	frames    map[*html.Node]*Document
	observers []*observer
	flushing  bool
}

type observer struct {
	root    *html.Node
	fn      func([]dom.Mutation)
	records []dom.Mutation
	stopped bool
}

// Parse reads an HTML document. Mutation notifications are delivered through
// dispatcher; a nil dispatcher delivers them when Flush is called.
func Parse(url string, r io.Reader, dispatcher dom.Dispatcher) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return New(url, root, dispatcher), nil
}

// ParseString is Parse over an in-memory string.
func ParseString(url, markup string, dispatcher dom.Dispatcher) (*Document, error) {
	return Parse(url, strings.NewReader(markup), dispatcher)
}

// New wraps an already parsed tree.
func New(url string, root *html.Node, dispatcher dom.Dispatcher) *Document {
	return &Document{
		url:        url,
		root:       root,
		dispatcher: dispatcher,
		elements:   make(map[*html.Node]*Element),
		frames:     make(map[*html.Node]*Document),
	}
}

// URL implements dom.Document.
func (d *Document) URL() string { return d.url }

// SetURL changes the document address, for example after an in-page fragment
// navigation.
func (d *Document) SetURL(url string) { d.url = url }

// Root returns the underlying document node.
func (d *Document) Root() *html.Node { return d.root }

// QueryAll implements dom.Document.
func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", selector, err)
	}
	nodes := cascadia.QueryAll(d.root, sel)
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

// Query returns the first element matching selector, or nil.
func (d *Document) Query(selector string) (*Element, error) {
	els, err := d.QueryAll(selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0].(*Element), nil
}

// Frames implements dom.Document.
func (d *Document) Frames() ([]dom.Frame, error) {
	nodes, err := htmlquery.QueryAll(d.root, "//iframe")
	if err != nil {
		return nil, fmt.Errorf("find frames: %w", err)
	}
	out := make([]dom.Frame, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Frame{node: n, owner: d})
	}
	return out, nil
}

// AttachFrame sets the content document of the iframe element.
func (d *Document) AttachFrame(iframe *Element, content *Document) error {
	if iframe == nil || iframe.doc != d {
		return errors.New("htmldoc: frame element belongs to another document")
	}
	if iframe.node.DataAtom.String() != "iframe" {
		return fmt.Errorf("htmldoc: <%s> is not an iframe", iframe.node.Data)
	}
	d.frames[iframe.node] = content
	return nil
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// Flush delivers queued mutation records synchronously. It is what the
// dispatcher runs on the next turn.
func (d *Document) Flush() {
	d.flushing = false
	observers := append([]*observer(nil), d.observers...)
	for _, obs := range observers {
		if obs.stopped || len(obs.records) == 0 {
			continue
		}
		records := obs.records
		obs.records = nil
		obs.fn(records)
	}
}

func (d *Document) wrap(n *html.Node) *Element {
	if el, ok := d.elements[n]; ok {
		return el
	}
	el := &Element{
		doc:  d,
		node: n,
		key:  fmt.Sprintf("el-%d", keySeq.Add(1)),
	}
	d.elements[n] = el
	return el
}

func (d *Document) observe(root *html.Node, fn func([]dom.Mutation)) func() {
	obs := &observer{root: root, fn: fn}
	d.observers = append(d.observers, obs)
	return func() {
		obs.stopped = true
		for i, o := range d.observers {
			if o == obs {
				d.observers = append(d.observers[:i], d.observers[i+1:]...)
				break
			}
		}
	}
}

func (d *Document) record(target *Element) {
	queued := false
	for _, obs := range d.observers {
		if obs.stopped || !isInclusiveAncestor(obs.root, target.node) {
			continue
		}
		obs.records = append(obs.records, dom.Mutation{Target: target})
		queued = true
	}
	if !queued || d.flushing || d.dispatcher == nil {
		return
	}
	d.flushing = d.dispatcher.Post(d.Flush)
}

// Frame is an iframe inside a Document.
type Frame struct {
	node  *html.Node
	owner *Document
}

// Src implements dom.Frame.
func (f *Frame) Src() string {
	return attr(f.node, "src")
}

// Element returns the iframe element itself.
func (f *Frame) Element() *Element {
	return f.owner.wrap(f.node)
}

// Document implements dom.Frame.
func (f *Frame) Document() (dom.Document, error) {
	content, ok := f.owner.frames[f.node]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFrameNotLoaded, f.Src())
	}
	return content, nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func isInclusiveAncestor(ancestor, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}
