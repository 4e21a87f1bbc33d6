package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"

	"github.com/loglens/loglens/internal/dom"
	"github.com/loglens/loglens/internal/util"
)

type evaluator func(method string, args []interface{}) ([]byte, error)

// Page exposes a live Chrome tab through the dom interfaces. Every method
// must be called on the dispatcher's loop.
type Page struct {
	eval       evaluator
	session    string
	dispatcher dom.Dispatcher
	logger     *util.Logger

	observers map[string]func([]dom.Mutation)
	gestures  map[string]map[string]func()
}

// NewPage binds page. Calls made through the returned Page use ctx.
func NewPage(ctx context.Context, page *rod.Page, dispatcher dom.Dispatcher, logger *util.Logger) *Page {
	p := newPage(nil, dispatcher, logger)
	bound := page.Context(ctx)
	p.eval = func(method string, args []interface{}) ([]byte, error) {
		res, err := bound.Evaluate(rod.Eval(callJS, p.session, method, args))
		if err != nil {
			return nil, err
		}
		return res.Value.MarshalJSON()
	}
	return p
}

func newPage(eval evaluator, dispatcher dom.Dispatcher, logger *util.Logger) *Page {
	if logger == nil {
		logger = util.Nop()
	}
	return &Page{
		eval:       eval,
		session:    uuid.NewString()[:8],
		dispatcher: dispatcher,
		logger:     logger.Named("browser"),
		observers:  make(map[string]func([]dom.Mutation)),
		gestures:   make(map[string]map[string]func()),
	}
}

func (p *Page) call(method string, args ...interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}
	raw, err := p.eval(method, args)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", method, err)
	}
	return decodeResult(method, raw)
}

func (p *Page) callInto(out interface{}, method string, args ...interface{}) error {
	raw, err := p.call(method, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	return nil
}

// Document returns the top document.
func (p *Page) Document() *Document {
	return &Document{page: p, key: "top"}
}

// Poll drains queued in-page notifications and runs the matching observer
// and gesture callbacks.
func (p *Page) Poll() error {
	var events []event
	if err := p.callInto(&events, "drain"); err != nil {
		return err
	}
	for _, ev := range events {
		switch ev.Kind {
		case "mutation":
			fn, ok := p.observers[ev.Observer]
			if !ok {
				continue
			}
			records := make([]dom.Mutation, 0, len(ev.Targets))
			for _, key := range ev.Targets {
				records = append(records, dom.Mutation{Target: &Element{page: p, key: key}})
			}
			fn(records)
		case "gesture":
			if fn, ok := p.gestures[ev.Key][ev.Gesture]; ok {
				fn()
			}
		default:
			p.logger.Debugf("unknown page event %q", ev.Kind)
		}
	}
	return nil
}

// RunPoller posts Poll to the dispatcher every interval until ctx is done.
func (p *Page) RunPoller(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ok := p.dispatcher.Post(func() {
				if err := p.Poll(); err != nil && !errors.Is(err, context.Canceled) {
					p.logger.Warnf("poll page events: %v", err)
				}
			})
			if !ok {
				return ctx.Err()
			}
		}
	}
}

// Document is the top page or a same-origin frame's content.
type Document struct {
	page *Page
	key  string
}

var _ dom.Document = (*Document)(nil)

// URL implements dom.Document.
func (d *Document) URL() string {
	var url string
	if err := d.page.callInto(&url, "url", d.key); err != nil {
		d.page.logger.Debugf("read url of %s: %v", d.key, err)
		return ""
	}
	return url
}

// QueryAll implements dom.Document.
func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	var keys []string
	if err := d.page.callInto(&keys, "queryAll", d.key, selector); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]dom.Element, 0, len(keys))
	for _, key := range keys {
		out = append(out, &Element{page: d.page, key: key})
	}
	return out, nil
}

// Frames implements dom.Document.
func (d *Document) Frames() ([]dom.Frame, error) {
	var frames []struct {
		Key string `json:"key"`
		Src string `json:"src"`
	}
	if err := d.page.callInto(&frames, "frames", d.key); err != nil {
		return nil, err
	}
	out := make([]dom.Frame, 0, len(frames))
	for _, f := range frames {
		out = append(out, &Frame{page: d.page, key: f.Key, src: f.Src})
	}
	return out, nil
}

// Frame is an iframe element of a Document.
type Frame struct {
	page *Page
	key  string
	src  string
}

// Src implements dom.Frame.
func (f *Frame) Src() string { return f.src }

// Document implements dom.Frame.
func (f *Frame) Document() (dom.Document, error) {
	var key string
	if err := f.page.callInto(&key, "frameDocument", f.key); err != nil {
		return nil, fmt.Errorf("frame %q: %w", f.src, err)
	}
	return &Document{page: f.page, key: key}, nil
}

// Element is a page element addressed by its synthetic key.
type Element struct {
	page *Page
	key  string
}

var (
	_ dom.Element = (*Element)(nil)
	_ dom.Scope   = (*Element)(nil)
)

// Key implements dom.Element.
func (e *Element) Key() string { return e.key }

// Text implements dom.Element.
func (e *Element) Text() string {
	var text string
	if err := e.page.callInto(&text, "text", e.key); err != nil {
		return ""
	}
	return text
}

// InnerHTML implements dom.Element.
func (e *Element) InnerHTML() (string, error) {
	var markup string
	if err := e.page.callInto(&markup, "innerHTML", e.key); err != nil {
		return "", err
	}
	return markup, nil
}

// SetInnerHTML implements dom.Element.
func (e *Element) SetInnerHTML(markup string) error {
	_, err := e.page.call("setInnerHTML", e.key, markup)
	return err
}

// Connected implements dom.Element.
func (e *Element) Connected() bool {
	var ok bool
	if err := e.page.callInto(&ok, "connected", e.key); err != nil {
		return false
	}
	return ok
}

// Contains implements dom.Element.
func (e *Element) Contains(other dom.Element) bool {
	o, ok := other.(*Element)
	if !ok || o.page != e.page {
		return false
	}
	var contains bool
	if err := e.page.callInto(&contains, "contains", e.key, o.key); err != nil {
		return false
	}
	return contains
}

// Within implements dom.Scope.
func (e *Element) Within(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var inside []string
	if err := e.page.callInto(&inside, "within", e.key, keys); err != nil {
		return nil, err
	}
	return inside, nil
}

// OnGesture implements dom.Element.
func (e *Element) OnGesture(gesture string, fn func()) (bool, error) {
	var attached bool
	if err := e.page.callInto(&attached, "onGesture", e.key, gesture); err != nil {
		return false, err
	}
	if !attached {
		return false, nil
	}
	handlers := e.page.gestures[e.key]
	if handlers == nil {
		handlers = make(map[string]func())
		e.page.gestures[e.key] = handlers
	}
	handlers[gesture] = fn
	return true, nil
}

// Observe implements dom.Element.
func (e *Element) Observe(fn func([]dom.Mutation)) (func(), error) {
	id := uuid.NewString()
	if _, err := e.page.call("observe", e.key, id); err != nil {
		return nil, err
	}
	e.page.observers[id] = fn
	return func() {
		delete(e.page.observers, id)
		if _, err := e.page.call("unobserve", id); err != nil {
			e.page.logger.Debugf("unobserve %s: %v", e.key, err)
		}
	}, nil
}

func (e *Element) String() string { return e.key }
