package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"filterwidget/widget"
)

const shopPage = `<!DOCTYPE html><html><head><title>shop</title></head><body>
<ul class="filters">
  <li><a href="/catalog?brand=canon">Canon</a><span class="filter__count">4</span></li>
  <li><a href="/catalog?color=red">Red</a><span class="filter__count">0</span></li>
</ul>
<div id="target" class="frontBrands"></div>
</body></html>`

type upstream struct {
	*httptest.Server
	hits    atomic.Int32
	cookies atomic.Value
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.cookies.Store(r.Header.Get("Cookie") + "|" + r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/", "/sale":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, shopPage)
		case "/broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) host(t *testing.T) string {
	t.Helper()
	parsed, err := url.Parse(u.URL)
	if err != nil {
		t.Fatal(err)
	}
	return parsed.Hostname()
}

func writeSite(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestServer(t *testing.T, sitesDir string, clock *testClock) (*Server, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	if clock == nil {
		clock = &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	}
	s := New(Config{
		SitesDir: sitesDir,
		CacheTTL: time.Minute,
		Logger:   log.New(&logs, "", 0),
		Clock:    clock.Now,
	})
	return s, &logs
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func renderPath(pageURL string) string {
	return "/render?url=" + url.QueryEscape(pageURL)
}

func TestRenderAppliesSiteWidget(t *testing.T) {
	up := newUpstream(t)
	dir := t.TempDir()
	writeSite(t, dir, up.host(t)+".json", `{
  "mode": "http",
  "widget": {"sourceSelectors": [".filters"], "targetSelector": "#target", "hideOutOfStock": true, "title": "Brands"}
}`)
	s, _ := newTestServer(t, dir, nil)

	rec := get(t, s, renderPath(up.URL+"/"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Filter-Widget"); got != "rendered=1" {
		t.Fatalf("X-Filter-Widget = %q", got)
	}
	body := rec.Body.String()
	if strings.Contains(body, `id="target"`) {
		t.Fatal("target element should be replaced")
	}
	if !strings.Contains(body, widget.ItemClass) || !strings.Contains(body, "Brands") {
		t.Fatalf("widget markup missing:\n%s", body)
	}
	if !strings.Contains(body, up.URL+"/catalog?brand=canon") {
		t.Fatal("option urls should be absolute")
	}
	if strings.Count(body, `class="filter-block__item"`) != 1 {
		t.Fatalf("zero-count option should be hidden:\n%s", body)
	}
}

func TestRenderPassesThroughUnconfiguredHost(t *testing.T) {
	up := newUpstream(t)
	s, _ := newTestServer(t, t.TempDir(), nil)

	rec := get(t, s, renderPath(up.URL+"/"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := rec.Header().Get("X-Filter-Widget"); got != statusPassthrough {
		t.Fatalf("X-Filter-Widget = %q", got)
	}
	if !strings.Contains(rec.Body.String(), `id="target"`) {
		t.Fatal("page should be untouched")
	}
}

func TestRenderRunOnSkipsOtherPaths(t *testing.T) {
	up := newUpstream(t)
	dir := t.TempDir()
	writeSite(t, dir, up.host(t)+".yaml", `
widget:
  sourceSelectors: [".filters"]
  targetSelector: "#target"
`)
	s, _ := newTestServer(t, dir, nil)

	rec := get(t, s, renderPath(up.URL+"/sale"))
	if got := rec.Header().Get("X-Filter-Widget"); got != statusSkipped {
		t.Fatalf("X-Filter-Widget = %q", got)
	}
	if !strings.Contains(rec.Body.String(), `id="target"`) {
		t.Fatal("skipped page should be untouched")
	}
}

func TestRenderWidgetFailureLeavesPage(t *testing.T) {
	up := newUpstream(t)
	dir := t.TempDir()
	writeSite(t, dir, up.host(t)+".json", `{"widget": {
  "sourceSelectors": [".filters"], "targetSelector": "#target", "catalogUrl": "/missing-catalog"}}`)
	s, logs := newTestServer(t, dir, nil)

	rec := get(t, s, renderPath(up.URL+"/"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := rec.Header().Get("X-Filter-Widget"); got != statusError {
		t.Fatalf("X-Filter-Widget = %q", got)
	}
	if !strings.Contains(rec.Body.String(), `id="target"`) {
		t.Fatal("page should be untouched after a failed run")
	}
	if !strings.Contains(logs.String(), "WIDGET ERR") {
		t.Fatalf("failure not logged:\n%s", logs.String())
	}
	if s.cache.Len() != 0 {
		t.Fatal("failed renders must not be cached")
	}
}

func TestRenderUpstreamErrors(t *testing.T) {
	up := newUpstream(t)
	s, _ := newTestServer(t, t.TempDir(), nil)

	cases := []struct {
		name string
		path string
		want int
	}{
		{"missing url", "/render", http.StatusBadRequest},
		{"bad url", "/render?url=" + url.QueryEscape("http://"), http.StatusBadRequest},
		{"upstream 500", renderPath(up.URL + "/broken"), http.StatusBadGateway},
		{"upstream 404", renderPath(up.URL + "/nope"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if rec := get(t, s, tc.path); rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRenderForwardsCredentialsOnlyOnOptIn(t *testing.T) {
	up := newUpstream(t)
	render := func(s *Server) string {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, renderPath(up.URL+"/"), nil)
		req.Header.Set("Cookie", "proxy_session=secret")
		req.Header.Set("Authorization", "Basic eA==")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d", rec.Code)
		}
		got, _ := up.cookies.Load().(string)
		return got
	}

	unconfigured, _ := newTestServer(t, t.TempDir(), nil)
	if got := render(unconfigured); got != "|" {
		t.Fatalf("unconfigured host received credentials %q", got)
	}

	dir := t.TempDir()
	writeSite(t, dir, up.host(t)+".json", `{"mode": "http"}`)
	configured, _ := newTestServer(t, dir, nil)
	if got := render(configured); got != "|" {
		t.Fatalf("host without forwardCredentials received %q", got)
	}

	optIn := t.TempDir()
	writeSite(t, optIn, up.host(t)+".json", `{"forwardCredentials": true}`)
	trusted, _ := newTestServer(t, optIn, nil)
	if got := render(trusted); got != "proxy_session=secret|Basic eA==" {
		t.Fatalf("opted-in host received %q", got)
	}
	if trusted.cache.Len() != 0 {
		t.Fatal("credentialed renders must not be cached")
	}
}

func TestRenderCachesUntilTTL(t *testing.T) {
	up := newUpstream(t)
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s, _ := newTestServer(t, t.TempDir(), clock)
	path := renderPath(up.URL + "/")

	first := get(t, s, path)
	second := get(t, s, path)
	if up.hits.Load() != 1 {
		t.Fatalf("upstream hits = %d, want 1", up.hits.Load())
	}
	if second.Header().Get("X-Filter-Widget-Cache") != "hit" {
		t.Fatal("second response should come from cache")
	}
	if second.Header().Get("X-Filter-Widget") != statusPassthrough {
		t.Fatal("cached response should keep widget status")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatal("cached body differs")
	}

	clock.now = clock.now.Add(2 * time.Minute)
	get(t, s, path)
	if up.hits.Load() != 2 {
		t.Fatalf("upstream hits = %d after expiry, want 2", up.hits.Load())
	}
}

func TestOptionsEndpoint(t *testing.T) {
	up := newUpstream(t)
	s, _ := newTestServer(t, t.TempDir(), nil)

	rec := get(t, s, "/options?hideZero=1&sel=.filters&url="+url.QueryEscape(up.URL+"/"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res optionsResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []widget.Option{{Name: "Canon", URL: up.URL + "/catalog?brand=canon"}}
	if diff := cmp.Diff(want, res.Options); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
	if res.Configured {
		t.Fatal("host has no site config")
	}
}

func TestOptionsEndpointConfiguredHost(t *testing.T) {
	up := newUpstream(t)
	dir := t.TempDir()
	writeSite(t, dir, up.host(t)+".json", `{"widget": {
  "sourceSelectors": [".filters"],
  "groups": [{"targetSelector": "#target", "match": "brand="}, {"targetSelector": "#gone"}]}}`)
	s, _ := newTestServer(t, dir, nil)

	rec := get(t, s, "/options?url="+url.QueryEscape(up.URL+"/"))
	var res optionsResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Configured || res.Rendered != 1 || len(res.Options) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if diff := cmp.Diff([]string{"#gone"}, res.Missing); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestPingAndIndex(t *testing.T) {
	s, _ := newTestServer(t, t.TempDir(), nil)
	if rec := get(t, s, "/ping"); rec.Body.String() != "pong\n" {
		t.Fatalf("ping body %q", rec.Body.String())
	}
	if rec := get(t, s, "/"); !strings.Contains(rec.Body.String(), `action="/render"`) {
		t.Fatal("index should link the render form")
	}
	if rec := get(t, s, "/nowhere"); rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestFetcherForFallsBackWithoutBrowser(t *testing.T) {
	s, logs := newTestServer(t, t.TempDir(), nil)
	if got := s.fetcherFor(&SiteConfig{Mode: ModeJS}); got != s.fetcher {
		t.Fatal("js mode without browser should use the http fetcher")
	}
	if !strings.Contains(logs.String(), "no browser") {
		t.Fatal("fallback should be logged")
	}
	browser := &widget.HTTPFetcher{}
	s.browser = browser
	if got := s.fetcherFor(&SiteConfig{Mode: ModeJS}); got != widget.Fetcher(browser) {
		t.Fatal("js mode should use the browser")
	}
}
