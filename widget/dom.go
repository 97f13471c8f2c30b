package widget

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func classes(n *html.Node) []string {
	return strings.Fields(getAttr(n, "class"))
}

func hasClass(n *html.Node, want string) bool {
	for _, c := range classes(n) {
		if c == want {
			return true
		}
	}
	return false
}

func addClass(n *html.Node, cls ...string) {
	cur := classes(n)
	for _, c := range cls {
		if c != "" && !hasClass(n, c) {
			cur = append(cur, c)
		}
	}
	setAttr(n, "class", strings.Join(cur, " "))
}

func removeClass(n *html.Node, cls string) {
	cur := classes(n)
	out := cur[:0]
	for _, c := range cur {
		if c != cls {
			out = append(out, c)
		}
	}
	setAttr(n, "class", strings.Join(out, " "))
}

// element builds a detached element node; attrs are key/value pairs.
func element(tag string, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// queryFirst returns the first node in document order matching sel.
func queryFirst(root *html.Node, sel string) *html.Node {
	if root == nil {
		return nil
	}
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil
	}
	return s.MatchFirst(root)
}
