// Package widget rebuilds catalog filter links found in an HTML document
// into compact, optionally grouped lists rendered in place of a target
// element.
//
// A run is parse -> match -> render: Parse extracts Options from the source
// lists, each Group keeps the options its Matcher accepts, and Render
// replaces the group's target with the generated markup. Init validates a
// Config and performs a run against a Page, reporting every error through
// the configured logger instead of panicking.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"golang.org/x/net/html"
)

// Page is the live document a run renders into.
type Page struct {
	Doc *html.Node
	URL *url.URL
	// Header carries the visitor's request headers; credentials among them
	// are forwarded to same-origin catalog fetches.
	Header http.Header
}

// Report summarises a run.
type Report struct {
	// Skipped is set when RunOn excluded the page.
	Skipped  bool
	Options  []Option
	Rendered []*Rendered
	// Empty and Missing list target selectors of groups that rendered
	// nothing: no matching option, or no target element.
	Empty   []string
	Missing []string
}

// Init runs the widget on page. The returned error has already been logged.
func Init(ctx context.Context, cfg *Config, page *Page) error {
	_, err := Run(ctx, cfg, page)
	return err
}

// Run is Init with a report of what was rendered.
func Run(ctx context.Context, cfg *Config, page *Page) (rep *Report, err error) {
	logger := log.Default()
	if cfg != nil && cfg.Logger != nil {
		logger = cfg.Logger
	}
	defer func() {
		if r := recover(); r != nil {
			rep, err = nil, fmt.Errorf("filterwidget: recovered: %v", r)
		}
		if err != nil {
			logger.Printf("WIDGET ERR %v", err)
		}
	}()

	plan, err := cfg.plan()
	if err != nil {
		return nil, err
	}
	if page == nil || page.Doc == nil {
		return nil, configErr("page", "document required")
	}
	if !cfg.RunOn.Allows(pagePath(page.URL)) {
		return &Report{Skipped: true}, nil
	}
	stylesheet, warnings, err := BuildStylesheet(cfg.Styles)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Printf("WIDGET styles: %s", w)
	}

	source := page.Doc
	if cfg.CatalogURL != "" {
		source, err = fetchCatalog(ctx, cfg, page)
		if err != nil {
			return nil, err
		}
	}

	rep = &Report{Options: Parse(source, cfg.SourceSelectors, cfg.HideOutOfStock, page.URL)}

	// Caller-supplied behaviour runs before the document is touched.
	subsets := make([][]Option, len(plan.groups))
	for i, g := range plan.groups {
		for _, opt := range rep.Options {
			if g.match(opt) {
				subsets[i] = append(subsets[i], opt)
			}
		}
	}
	formatter := precomputeLabels(cfg.LabelFormatter, rep.Options)

	for i, g := range plan.groups {
		if len(subsets[i]) == 0 {
			rep.Empty = append(rep.Empty, g.target)
			continue
		}
		r := Render(page.Doc, subsets[i], RenderOptions{
			TargetSelector: g.target,
			ImageMap:       cfg.ImageMap,
			LabelMap:       cfg.LabelMap,
			LabelFormatter: formatter,
			BrandLast:      g.brandLast,
			BrandPattern:   plan.brand,
			AutoExpand:     cfg.AutoExpand,
			ExpanderText:   cfg.ExpanderText,
			Title:          g.title,
			TitleTag:       g.titleTag,
			TitleClass:     g.titleClass,
			Stylesheet:     stylesheet,
		})
		if r == nil {
			logger.Printf("WIDGET target %q not found, group skipped", g.target)
			rep.Missing = append(rep.Missing, g.target)
			continue
		}
		rep.Rendered = append(rep.Rendered, r)
	}
	return rep, nil
}

func pagePath(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func precomputeLabels(fn func(Option) string, options []Option) func(Option) string {
	if fn == nil {
		return nil
	}
	labels := make(map[Option]string, len(options))
	for _, opt := range options {
		labels[opt] = fn(opt)
	}
	return func(o Option) string { return labels[o] }
}

func fetchCatalog(ctx context.Context, cfg *Config, page *Page) (*html.Node, error) {
	target, err := url.Parse(cfg.CatalogURL)
	if err != nil {
		return nil, fmt.Errorf("%w: catalogUrl %q: %v", ErrFetch, cfg.CatalogURL, err)
	}
	if page.URL != nil {
		target = page.URL.ResolveReference(target)
	}
	if !target.IsAbs() {
		return nil, fmt.Errorf("%w: catalogUrl %q is not absolute and the page has no URL", ErrFetch, cfg.CatalogURL)
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = &HTTPFetcher{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	doc, err := fetcher.Fetch(ctx, target.String(), requestHeaders(page.URL, target, page.Header))
	if err != nil {
		if !errors.Is(err, ErrFetch) {
			err = fmt.Errorf("%w: %v", ErrFetch, err)
		}
		return nil, err
	}
	return doc, nil
}
