package rules

import (
	"bytes"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ButtonClass marks the link wrapper inserted by ButtonAction.
const ButtonClass = "loglens-button"

const buttonStyle = "height: 15px; cursor: pointer;"

var fragmentContext = &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}

func element(tag atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag.String(), DataAtom: tag}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func render(nodes ...*html.Node) (string, error) {
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func parseFragment(markup string) ([]*html.Node, error) {
	return html.ParseFragment(strings.NewReader(markup), fragmentContext)
}

func linkMarkup(href, label string) string {
	a := element(atom.A, "href", href, "target", "blank")
	a.AppendChild(text(label))
	out, _ := render(a)
	return out
}

func buttonMarkup(href, label, title, original string) (string, error) {
	a := element(atom.A, "class", ButtonClass, "href", href, "target", "blank")
	button := element(atom.Button, "type", "button", "style", buttonStyle)
	if title != "" {
		button.Attr = append(button.Attr, html.Attribute{Key: "title", Val: title})
	}
	button.AppendChild(text(label))
	a.AppendChild(button)

	span := element(atom.Span)
	nodes, err := parseFragment(original)
	if err != nil {
		return "", err
	}
	for _, n := range nodes {
		span.AppendChild(n)
	}
	return render(a, span)
}

// unwrapButton recovers the original content and its text from markup
// produced by buttonMarkup. Other markup is returned unchanged with no text.
func unwrapButton(markup string) (original, label string, err error) {
	nodes, err := parseFragment(markup)
	if err != nil {
		return "", "", err
	}
	if len(nodes) != 2 || !isButtonWrapper(nodes[0]) || nodes[1].DataAtom != atom.Span {
		return markup, "", nil
	}
	span := nodes[1]
	var children []*html.Node
	for c := span.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	original, err = render(children...)
	if err != nil {
		return "", "", err
	}
	return original, strings.TrimSpace(htmlquery.InnerText(span)), nil
}

func isButtonWrapper(n *html.Node) bool {
	if n.Type != html.ElementNode || n.DataAtom != atom.A {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, cls := range strings.Fields(a.Val) {
				if cls == ButtonClass {
					return true
				}
			}
		}
	}
	return false
}

// sameMarkup compares two fragments after a parse/render round trip so that
// serializer differences do not count as changes.
func sameMarkup(a, b string) (bool, error) {
	if a == b {
		return true, nil
	}
	na, err := normalize(a)
	if err != nil {
		return false, err
	}
	nb, err := normalize(b)
	if err != nil {
		return false, err
	}
	return na == nb, nil
}

func normalize(markup string) (string, error) {
	nodes, err := parseFragment(markup)
	if err != nil {
		return "", err
	}
	return render(nodes...)
}
