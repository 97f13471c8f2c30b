package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	out := http.Header{}
	if h != nil {
		copyHeader(out, h)
	}
	return out
}

var credentialHeaders = []string{"Cookie", "Authorization"}

// visitorHeaders picks the request headers forwarded upstream. Query
// parameters ua and lang override the visitor's own values.
func visitorHeaders(r *http.Request) http.Header {
	q := r.URL.Query()
	hdr := http.Header{}
	if ua := firstNonEmpty(q.Get("ua"), r.Header.Get("User-Agent")); ua != "" {
		hdr.Set("User-Agent", ua)
	}
	if lang := firstNonEmpty(q.Get("lang"), r.Header.Get("Accept-Language")); lang != "" {
		hdr.Set("Accept-Language", lang)
	}
	for _, k := range credentialHeaders {
		for _, v := range r.Header.Values(k) {
			hdr.Add(k, v)
		}
	}
	return hdr
}

// targetURL reads and checks the url query parameter. Scheme-less values
// are taken as http.
func targetURL(r *http.Request) (*url.URL, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		return nil, fmt.Errorf("missing url")
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", raw)
	}
	return u, nil
}
