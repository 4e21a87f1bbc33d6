package engine

import (
	"net/url"
	"strings"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/dom"
	"github.com/loglens/loglens/internal/util"
)

// CollectDocuments returns top followed by the content documents of its
// frames, depth first, down to frames.MaxDepth levels of nesting. With
// SameOriginOnly set, frames whose origin differs from the top document are
// skipped. Frame failures are logged and never fail the collection.
func CollectDocuments(top dom.Document, frames config.FramesConfig, logger *util.Logger) []dom.Document {
	docs := []dom.Document{top}
	origin := originOf(top.URL())
	collectFrames(top, origin, frames, 1, logger, &docs)
	return docs
}

func collectFrames(doc dom.Document, origin string, opts config.FramesConfig, depth int, logger *util.Logger, out *[]dom.Document) {
	if depth > opts.MaxDepth {
		return
	}
	frames, err := doc.Frames()
	if err != nil {
		logger.Debugf("enumerate frames of %s: %v", doc.URL(), err)
		return
	}
	for _, frame := range frames {
		src := frame.Src()
		if opts.SameOriginOnly && !inheritsOrigin(src) && originOf(resolve(doc.URL(), src)) != origin {
			logger.Debugf("skipping cross-origin frame %q", src)
			continue
		}
		child, err := frame.Document()
		if err != nil {
			logger.Debugf("frame %q inaccessible: %v", src, err)
			continue
		}
		if opts.SameOriginOnly && !inheritsOrigin(child.URL()) && originOf(child.URL()) != origin {
			logger.Debugf("skipping frame %q navigated to %s", src, child.URL())
			continue
		}
		*out = append(*out, child)
		collectFrames(child, origin, opts, depth+1, logger, out)
	}
}

// inheritsOrigin reports whether a frame address takes its parent's origin.
func inheritsOrigin(src string) bool {
	src = strings.TrimSpace(src)
	return src == "" || strings.HasPrefix(src, "about:")
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
