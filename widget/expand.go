package widget

import "golang.org/x/net/html"

// expandScript performs Expand in the browser.
const expandScript = `document.addEventListener("click",function(e){` +
	`var b=e.target.closest&&e.target.closest("[data-filter-expand]");if(!b)return;` +
	`var g=b.getAttribute("data-filter-expand");` +
	`document.querySelectorAll('[data-filter-group="'+g+'"]').forEach(function(l){` +
	`l.classList.remove("is-collapsed");l.classList.add("is-expanded")});b.remove()});`

// Expand activates an expand control: every list rendered with it switches
// from collapsed to expanded and the control is removed. It reports false
// if control is not an attached expand control.
func Expand(doc *html.Node, control *html.Node) bool {
	if control == nil || control.Parent == nil || !hasAttr(control, expandAttr) {
		return false
	}
	group := getAttr(control, expandAttr)
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, ListClass) && getAttr(n, groupAttr) == group {
			removeClass(n, CollapsedClass)
			addClass(n, ExpandedClass)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(doc)
	control.Parent.RemoveChild(control)
	return true
}

// ExpandAll activates every expand control in doc and returns how many
// there were.
func ExpandAll(doc *html.Node) int {
	var controls []*html.Node
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.ElementNode && hasAttr(n, expandAttr) {
			controls = append(controls, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(doc)
	count := 0
	for _, c := range controls {
		if Expand(doc, c) {
			count++
		}
	}
	return count
}
