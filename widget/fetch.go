package widget

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// DefaultUserAgent is sent when the caller supplies none.
const DefaultUserAgent = "Mozilla/5.0 (compatible; filterwidget/1.0)"

// Fetcher retrieves a catalog document. Implementations must honour ctx;
// no timeout is applied beyond it.
type Fetcher interface {
	Fetch(ctx context.Context, target string, hdr http.Header) (*html.Node, error)
}

// HTTPFetcher fetches catalogs with a plain GET.
type HTTPFetcher struct {
	// Client defaults to a client without a timeout.
	Client *http.Client
}

// Fetch implements Fetcher. Any non-2xx status is a *StatusError.
func (f *HTTPFetcher) Fetch(ctx context.Context, target string, hdr http.Header) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	// Asking explicitly disables transparent decompression in net/http.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	client := f.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: target, Status: resp.StatusCode}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer body.Close()
	doc, err := html.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrFetch, err)
	}
	return doc, nil
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		// Servers send either zlib-wrapped or raw deflate under this name.
		br := bufio.NewReader(resp.Body)
		if h, err := br.Peek(2); err == nil && h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0 {
			return zlib.NewReader(br)
		}
		return flate.NewReader(br), nil
	}
	return io.NopCloser(resp.Body), nil
}

// credentialHeaders are forwarded to same-origin catalog requests only.
var credentialHeaders = []string{"Cookie", "Authorization"}

// requestHeaders builds the headers for a catalog request made from page:
// the user agent and language always, credentials only for same origin.
func requestHeaders(page *url.URL, target *url.URL, src http.Header) http.Header {
	hdr := http.Header{}
	for _, k := range []string{"User-Agent", "Accept-Language"} {
		if v := src.Get(k); v != "" {
			hdr.Set(k, v)
		}
	}
	if page != nil && sameOrigin(page, target) {
		for _, k := range credentialHeaders {
			for _, v := range src.Values(k) {
				hdr.Add(k, v)
			}
		}
		hdr.Set("Referer", page.String())
	}
	return hdr
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
