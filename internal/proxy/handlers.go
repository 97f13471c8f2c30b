package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"filterwidget/widget"
)

// Values of the X-Filter-Widget response header.
const (
	statusPassthrough = "passthrough"
	statusSkipped     = "skipped"
	statusError       = "error"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(s.cfg.IndexHTML)))
	io.WriteString(w, s.cfg.IndexHTML)
}

// handleRender fetches the page named by ?url=, applies the widget
// configured for its host and returns the rewritten HTML. A failing widget
// leaves the page as fetched.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	target, err := targetURL(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	site := s.sites.Find(target.String())
	upstream := upstreamHeaders(site, visitorHeaders(r))
	if data, cached, ok := s.cache.Select(target.String(), upstream); ok {
		copyHeader(w.Header(), cached)
		w.Header().Set("X-Filter-Widget-Cache", "hit")
		s.writeHTML(w, data)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.FetchTimeout)
	defer cancel()
	fetcher := s.fetcherFor(site)
	doc, err := fetcher.Fetch(ctx, target.String(), upstream)
	if err != nil {
		s.logger.Printf("UPSTREAM ERR %s: %v", target, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	status := statusPassthrough
	if site != nil && site.Widget != nil {
		rep, err := s.applyWidget(ctx, site, fetcher, doc, target, upstream)
		switch {
		case err != nil:
			status = statusError
		case rep.Skipped:
			status = statusSkipped
		default:
			status = "rendered=" + strconv.Itoa(len(rep.Rendered))
		}
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Filter-Widget", status)
	if status != statusError {
		s.cache.Store(target.String(), upstream, buf.Bytes(), http.Header{"X-Filter-Widget": {status}})
	}
	s.writeHTML(w, buf.Bytes())
}

type optionsResult struct {
	URL        string          `json:"url"`
	Mode       string          `json:"mode,omitempty"`
	Configured bool            `json:"configured"`
	Skipped    bool            `json:"skipped,omitempty"`
	Options    []widget.Option `json:"options"`
	Rendered   int             `json:"rendered"`
	Empty      []string        `json:"empty,omitempty"`
	Missing    []string        `json:"missing,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// handleOptions reports what the widget would parse and render for a page.
// Unconfigured hosts are parsed with ?sel= (default every list) and
// ?hideZero=1.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	target, err := targetURL(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.FetchTimeout)
	defer cancel()
	site := s.sites.Find(target.String())
	fetcher := s.fetcherFor(site)
	upstream := upstreamHeaders(site, visitorHeaders(r))
	doc, err := fetcher.Fetch(ctx, target.String(), upstream)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	res := optionsResult{URL: target.String(), Options: []widget.Option{}}
	if site != nil {
		res.Mode = site.Mode
	}
	if site != nil && site.Widget != nil {
		res.Configured = true
		rep, err := s.applyWidget(ctx, site, fetcher, doc, target, upstream)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Skipped = rep.Skipped
			if rep.Options != nil {
				res.Options = rep.Options
			}
			res.Rendered = len(rep.Rendered)
			res.Empty = rep.Empty
			res.Missing = rep.Missing
		}
	} else {
		q := r.URL.Query()
		selectors := []string{widget.AllLists}
		if raw := strings.TrimSpace(q.Get("sel")); raw != "" {
			selectors = strings.Split(raw, ",")
		}
		if opts := widget.Parse(doc, selectors, q.Get("hideZero") == "1", target); opts != nil {
			res.Options = opts
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong\n")
}

// applyWidget runs a copy of the site's widget against doc so the shared
// configuration never sees per-request wiring.
func (s *Server) applyWidget(ctx context.Context, site *SiteConfig, fetcher widget.Fetcher, doc *html.Node, target *url.URL, hdr http.Header) (*widget.Report, error) {
	cfg := *site.Widget
	cfg.Logger = s.logger
	cfg.Fetcher = fetcher
	return widget.Run(ctx, &cfg, &widget.Page{Doc: doc, URL: target, Header: hdr})
}

func (s *Server) fetcherFor(site *SiteConfig) widget.Fetcher {
	if site != nil && site.Mode == ModeJS {
		if s.browser != nil {
			return s.browser
		}
		s.logger.Printf("SITE js mode requested but no browser configured, using http")
	}
	return s.fetcher
}

// upstreamHeaders layers the site's fixed headers over the visitor's.
// Visitor credentials belong to this server's origin and only reach hosts
// whose site config opts in.
func upstreamHeaders(site *SiteConfig, hdr http.Header) http.Header {
	header := cloneHeader(hdr)
	if site == nil || !site.ForwardCredentials {
		for _, k := range credentialHeaders {
			header.Del(k)
		}
	}
	if site != nil {
		for k, v := range site.Headers {
			header.Set(k, v)
		}
	}
	return header
}

func (s *Server) writeHTML(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
