package widget

import (
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Markup hooks consumed in source documents.
const (
	// AllLists as the only source selector scans every ul/ol in the document.
	AllLists = "all"

	sectionTitleClass = "filter__section-title"
	countSelector     = ".filter__count"
	titleSelector     = ".filter__title"
	fakeHrefAttr      = "data-fake-href"
)

// Parse extracts options from doc. Containers are resolved per selector in
// configuration order; items are visited in document order. Relative link
// targets are resolved against base when base is non-nil.
func Parse(doc *html.Node, selectors []string, hideZeroCount bool, base *url.URL) []Option {
	if doc == nil {
		return nil
	}
	root := goquery.NewDocumentFromNode(doc)
	var options []Option
	for _, container := range sourceContainers(root, selectors) {
		container.Children().Each(func(_ int, item *goquery.Selection) {
			if opt, ok := parseItem(item, hideZeroCount, base); ok {
				options = append(options, opt)
			}
		})
	}
	return options
}

// ParseHTML parses r as an HTML document and extracts options from it.
func ParseHTML(r io.Reader, selectors []string, hideZeroCount bool, base *url.URL) ([]Option, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return Parse(doc, selectors, hideZeroCount, base), nil
}

func wantsAllLists(selectors []string) bool {
	for _, s := range selectors {
		if strings.TrimSpace(s) == AllLists {
			return true
		}
	}
	return false
}

func sourceContainers(root *goquery.Document, selectors []string) []*goquery.Selection {
	if wantsAllLists(selectors) {
		var out []*goquery.Selection
		root.Find("ul, ol").Each(func(_ int, s *goquery.Selection) {
			out = append(out, s)
		})
		return out
	}
	var out []*goquery.Selection
	for _, sel := range selectors {
		matcher, err := compileSelector(sel)
		if err != nil {
			continue
		}
		root.FindMatcher(matcher).Each(func(_ int, s *goquery.Selection) {
			out = append(out, s)
		})
	}
	return out
}

func parseItem(item *goquery.Selection, hideZeroCount bool, base *url.URL) (Option, bool) {
	if item.HasClass(sectionTitleClass) {
		return Option{}, false
	}
	anchor := item.Find("a").First()
	if anchor.Length() == 0 {
		return Option{}, false
	}
	if hideZeroCount {
		if count := item.Find(countSelector).First(); count.Length() > 0 {
			if n, ok := parseLeadingInt(count.Text()); ok && n <= 0 {
				return Option{}, false
			}
		}
	}

	name := strings.TrimSpace(anchor.Text())
	if title := item.Find(titleSelector).First(); title.Length() > 0 {
		name = strings.TrimSpace(title.Text())
	}

	raw, ok := anchor.Attr(fakeHrefAttr)
	if !ok || strings.TrimSpace(raw) == "" {
		raw, _ = anchor.Attr("href")
	}
	return NewOption(name, absoluteURL(base, strings.TrimSpace(raw)), "")
}

// parseLeadingInt mirrors parseInt(s, 10): leading whitespace, optional
// sign, then digits up to the first non-digit.
func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if errors.Is(err, strconv.ErrRange) {
		// Atoi returns the clamped value; the sign is what filtering needs.
		return n, true
	}
	if err != nil {
		return 0, false
	}
	return n, true
}

// absoluteURL resolves raw against the origin of base, so relative links
// mean the same thing on every page of the site. Anything it cannot
// resolve is returned unchanged.
func absoluteURL(base *url.URL, raw string) string {
	if raw == "" || base == nil || base.Host == "" {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	origin := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
	return origin.ResolveReference(ref).String()
}
