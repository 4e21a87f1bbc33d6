package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/loglens/loglens/internal/dom"
)

// KeyAttribute carries the synthetic element key in the page.
const KeyAttribute = "data-loglens-key"

// ErrFrameInaccessible is returned for frames whose content document cannot
// be reached from the top page, typically because they are cross-origin.
var ErrFrameInaccessible = errors.New("browser: frame inaccessible")

// runtimeJS is installed once per page load as window.__loglens. Elements are
// addressed by key; documents by "top" or a generated key. Mutation and
// gesture notifications are queued in the page until drained.
const runtimeJS = `function (session) {
	let seq = 0;
	const els = new Map();
	const docs = new Map([['top', document]]);
	const observers = new Map();
	let pending = [];
	const keyOf = (el) => {
		let k = el.getAttribute('` + KeyAttribute + `');
		if (!k || els.get(k) !== el) {
			k = session + '-' + (++seq);
			el.setAttribute('` + KeyAttribute + `', k);
			els.set(k, el);
		}
		return k;
	};
	const targetKey = (node) => {
		const el = node.nodeType === 1 ? node : node.parentElement;
		return el ? keyOf(el) : '';
	};
	const docKeyOf = (d) => {
		for (const [k, v] of docs) { if (v === d) return k; }
		const k = 'doc-' + session + '-' + (++seq);
		docs.set(k, d);
		return k;
	};
	const el = (k) => {
		const e = els.get(k);
		if (!e || !e.isConnected) throw new Error('detached');
		return e;
	};
	const doc = (k) => {
		const d = docs.get(k);
		if (!d || !d.defaultView) throw new Error('detached');
		return d;
	};
	return {
		url: (d) => doc(d).location.href,
		queryAll: (d, sel) => Array.from(doc(d).querySelectorAll(sel), keyOf),
		frames: (d) => Array.from(doc(d).querySelectorAll('iframe, frame'), (f) => ({key: keyOf(f), src: f.getAttribute('src') || ''})),
		frameDocument: (k) => {
			const f = el(k);
			let d = null;
			try { d = f.contentDocument; } catch (e) { d = null; }
			if (!d) throw new Error('inaccessible');
			return docKeyOf(d);
		},
		text: (k) => el(k).textContent || '',
		innerHTML: (k) => el(k).innerHTML,
		setInnerHTML: (k, html) => { el(k).innerHTML = html; return true; },
		connected: (k) => { const e = els.get(k); return !!e && e.isConnected; },
		contains: (a, b) => { const x = els.get(a), y = els.get(b); return !!x && !!y && x.contains(y); },
		within: (a, keys) => {
			const x = els.get(a);
			if (!x) return [];
			return keys.filter((k) => { const y = els.get(k); return !!y && x.contains(y); });
		},
		onGesture: (k, g) => {
			const e = el(k);
			const flag = '__loglens_' + g;
			if (e[flag]) return false;
			e[flag] = true;
			e.addEventListener(g, () => pending.push({kind: 'gesture', key: k, gesture: g}));
			return true;
		},
		observe: (k, id) => {
			const mo = new MutationObserver((records) => {
				const targets = records.map((r) => targetKey(r.target)).filter((t) => t !== '');
				pending.push({kind: 'mutation', observer: id, targets: targets});
			});
			mo.observe(el(k), {childList: true, subtree: true, characterData: true});
			observers.set(id, mo);
			return true;
		},
		unobserve: (id) => {
			const mo = observers.get(id);
			if (mo) { mo.disconnect(); observers.delete(id); }
			return true;
		},
		drain: () => { const out = pending; pending = []; return out; },
	};
}`

// callJS dispatches one runtime method. Failures are returned as values so
// they survive the protocol round trip with their message intact.
const callJS = `(session, method, args) => {
	if (!window.__loglens || window.__loglens.session !== session) {
		window.__loglens = Object.assign((` + runtimeJS + `)(session), {session: session});
	}
	try {
		return {ok: window.__loglens[method](...args)};
	} catch (e) {
		return {err: String((e && e.message) || e)};
	}
}`

type callResult struct {
	OK  json.RawMessage `json:"ok"`
	Err string          `json:"err"`
}

func decodeResult(method string, raw []byte) (json.RawMessage, error) {
	var res callResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}
	switch {
	case res.Err == "":
		return res.OK, nil
	case res.Err == "detached":
		return nil, dom.ErrDetached
	case res.Err == "inaccessible":
		return nil, ErrFrameInaccessible
	default:
		return nil, fmt.Errorf("%s: %s", method, strings.TrimSpace(res.Err))
	}
}

// event is one queued in-page notification.
type event struct {
	Kind     string   `json:"kind"`
	Observer string   `json:"observer,omitempty"`
	Targets  []string `json:"targets,omitempty"`
	Key      string   `json:"key,omitempty"`
	Gesture  string   `json:"gesture,omitempty"`
}
