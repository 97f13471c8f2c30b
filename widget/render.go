package widget

import (
	"regexp"
	"strconv"

	"golang.org/x/net/html"
)

// Classes and attributes of the generated markup.
const (
	ListClass      = "filter-widget__list"
	ItemClass      = "filter-block__item"
	LinkClass      = "filter-block"
	ImageClass     = "filter-block__img"
	LabelClass     = "filter-block__label"
	ExpandClass    = "filter-widget__expand"
	CollapsedClass = "is-collapsed"
	ExpandedClass  = "is-expanded"

	groupAttr  = "data-filter-group"
	expandAttr = "data-filter-expand"
	assetAttr  = "data-filter-widget"
)

// RenderOptions is the presentation half of a Config, resolved for one group.
type RenderOptions struct {
	TargetSelector string
	ImageMap       map[string]string
	LabelMap       map[string]string
	LabelFormatter func(Option) string
	BrandLast      bool
	// BrandPattern defaults to DefaultBrandPattern.
	BrandPattern *regexp.Regexp
	AutoExpand   bool
	ExpanderText string
	Title        string
	TitleTag     string
	TitleClass   string
	// Stylesheet is the CSS injected once per document. Empty means the
	// built-in collapse rules.
	Stylesheet string
}

// Rendered points at the nodes one Render call inserted.
type Rendered struct {
	Group   string
	Heading *html.Node
	Lists   []*html.Node
	Control *html.Node
}

var defaultBrandRe = regexp.MustCompile(DefaultBrandPattern)

// Render replaces the element matched by ro.TargetSelector with lists of
// options. It returns nil without touching doc when the target is missing
// or detached.
func Render(doc *html.Node, options []Option, ro RenderOptions) *Rendered {
	target := queryFirst(doc, ro.TargetSelector)
	if target == nil || target.Parent == nil {
		return nil
	}
	parent, next := target.Parent, target.NextSibling
	base := classes(target)
	parent.RemoveChild(target)
	insert := func(n *html.Node) { parent.InsertBefore(n, next) }

	for _, asset := range pageAssets(doc, ro.Stylesheet) {
		insert(asset)
	}

	out := &Rendered{Group: nextGroupID(doc)}
	if ro.Title != "" {
		tag := firstNonEmpty(ro.TitleTag, DefaultTitleTag)
		out.Heading = element(tag, "class", firstNonEmpty(ro.TitleClass, DefaultTitleClass))
		out.Heading.AppendChild(textNode(ro.Title))
		insert(out.Heading)
	}

	state := CollapsedClass
	if ro.AutoExpand {
		state = ExpandedClass
	}
	newList := func(kind string) *html.Node {
		ul := element("ul")
		addClass(ul, base...)
		addClass(ul, ListClass, ListClass+"--"+kind, state)
		setAttr(ul, groupAttr, out.Group)
		out.Lists = append(out.Lists, ul)
		return ul
	}

	if ro.BrandLast {
		brandRe := ro.BrandPattern
		if brandRe == nil {
			brandRe = defaultBrandRe
		}
		general, brand := newList("general"), newList("brand")
		for _, opt := range options {
			if brandRe.MatchString(opt.URL) {
				brand.AppendChild(renderItem(opt, ro))
			} else {
				general.AppendChild(renderItem(opt, ro))
			}
		}
	} else {
		all := newList("all")
		for _, opt := range options {
			all.AppendChild(renderItem(opt, ro))
		}
	}
	for _, ul := range out.Lists {
		insert(ul)
	}

	if !ro.AutoExpand {
		out.Control = element("button", "type", "button", "class", ExpandClass, expandAttr, out.Group)
		out.Control.AppendChild(textNode(firstNonEmpty(ro.ExpanderText, DefaultExpanderText)))
		insert(out.Control)
	}
	return out
}

func renderItem(opt Option, ro RenderOptions) *html.Node {
	li := element("li", "class", ItemClass)
	a := element("a", "href", opt.URL, "rel", "nofollow", "class", LinkClass, "title", opt.Name)
	li.AppendChild(a)

	src := opt.ImageURL
	if mapped, ok := ro.ImageMap[opt.Name]; ok {
		src = mapped
	}
	if src != "" {
		img := element("img", "src", src, "alt", opt.Name, "class", ImageClass)
		if w, h, ok := inlineImageSize(src); ok {
			setAttr(img, "width", strconv.Itoa(w))
			setAttr(img, "height", strconv.Itoa(h))
		}
		a.AppendChild(img)
		return li
	}
	span := element("span", "class", LabelClass)
	span.AppendChild(textNode(label(opt, ro)))
	a.AppendChild(span)
	return li
}

func label(opt Option, ro RenderOptions) string {
	if ro.LabelFormatter != nil {
		return ro.LabelFormatter(opt)
	}
	if text, ok := ro.LabelMap[opt.Name]; ok {
		return text
	}
	return opt.Name
}

// nextGroupID numbers renders within a document so an expand control only
// opens the lists it was rendered with.
func nextGroupID(doc *html.Node) string {
	highest := 0
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if v, err := strconv.Atoi(getAttr(n, groupAttr)); err == nil && v > highest {
				highest = v
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(doc)
	return strconv.Itoa(highest + 1)
}

// pageAssets returns the style and script elements the widget needs, or
// nothing when an earlier render already inserted them.
func pageAssets(doc *html.Node, css string) []*html.Node {
	if queryFirst(doc, "["+assetAttr+"]") != nil {
		return nil
	}
	if css == "" {
		css = defaultCSS
	}
	style := element("style", assetAttr, "style")
	style.AppendChild(textNode(css))
	script := element("script", assetAttr, "script")
	script.AppendChild(textNode(expandScript))
	return []*html.Node{style, script}
}
