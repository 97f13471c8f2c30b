package proxy

import (
	"errors"
	"io"
	"log"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"filterwidget/widget"
)

func quietStore(dir string) *siteConfigStore {
	return newSiteConfigStore(dir, log.New(io.Discard, "", 0))
}

func TestSiteConfigJSONAndYAMLAgree(t *testing.T) {
	t.Parallel()
	jsonDir, yamlDir := t.TempDir(), t.TempDir()
	writeSite(t, jsonDir, "shop.example.json", `{
  "mode": "JS",
  "headers": {"X-Shop": "1"},
  "forwardCredentials": true,
  "widget": {
    "sourceSelectors": [".filters"],
    "groups": [{"targetSelector": "#brands", "match": {"pattern": "brand="}, "title": "Brands"}],
    "imageMap": {"Canon": "/img/canon.png"},
    "runOn": "all"
  }
}`)
	writeSite(t, yamlDir, "shop.example.yaml", `
mode: js
headers:
  X-Shop: "1"
forwardCredentials: true
widget:
  sourceSelectors: [".filters"]
  groups:
    - targetSelector: "#brands"
      match:
        pattern: brand=
      title: Brands
  imageMap:
    Canon: /img/canon.png
  runOn: all
`)
	fromJSON := quietStore(jsonDir).Find("https://shop.example/")
	fromYAML := quietStore(yamlDir).Find("https://shop.example/")
	if fromJSON == nil || fromYAML == nil {
		t.Fatalf("configs not found: json=%v yaml=%v", fromJSON, fromYAML)
	}
	if !fromJSON.ForwardCredentials {
		t.Fatal("forwardCredentials not decoded")
	}
	if fromJSON.Mode != ModeJS {
		t.Fatalf("mode = %q, want normalised %q", fromJSON.Mode, ModeJS)
	}
	ignore := cmp.Options{
		cmpopts.IgnoreFields(widget.Config{}, "LabelFormatter", "Logger", "Fetcher"),
		cmpopts.IgnoreFields(widget.Matcher{}, "Func"),
	}
	if diff := cmp.Diff(fromJSON, fromYAML, ignore); diff != "" {
		t.Fatalf("json and yaml differ (-json +yaml):\n%s", diff)
	}
}

func TestSiteConfigParentDomain(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSite(t, dir, "example.com.json", `{"mode": "http"}`)
	store := quietStore(dir)

	cases := []struct {
		target string
		found  bool
	}{
		{"https://example.com/", true},
		{"https://www.shop.example.com:8443/catalog", true},
		{"https://EXAMPLE.com/", true},
		{"https://example.org/", false},
		{"not a url", false},
	}
	for _, tc := range cases {
		if got := store.Find(tc.target); (got != nil) != tc.found {
			t.Errorf("Find(%q) = %v, want found=%v", tc.target, got, tc.found)
		}
	}
}

func TestSiteConfigCachesMisses(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := quietStore(dir)
	if store.Find("https://late.example/") != nil {
		t.Fatal("no config expected yet")
	}
	writeSite(t, dir, "late.example.json", `{}`)
	if store.Find("https://late.example/") != nil {
		t.Fatal("misses are cached for the store lifetime")
	}
	if quietStore(dir).Find("https://late.example/") == nil {
		t.Fatal("a fresh store should see the new file")
	}
}

func TestSiteConfigRejectsInvalid(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		file string
		body string
	}{
		{"unknown mode", "json", `{"mode": "compact"}`},
		{"bad widget selector", "json", `{"widget": {"sourceSelectors": ["ul["], "targetSelector": "#t"}}`},
		{"image map type", "json", `{"widget": {"sourceSelectors": ["ul"], "targetSelector": "#t", "imageMap": ["x"]}}`},
		{"widget without target", "yaml", "widget:\n  sourceSelectors: [ul]\n"},
		{"broken yaml", "yaml", "widget: [\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeSite(t, dir, "bad.example."+tc.file, tc.body)
			store := quietStore(dir)
			_, err := store.load("bad.example")
			if !errors.Is(err, widget.ErrConfig) {
				t.Fatalf("load error = %v, want ErrConfig", err)
			}
			if store.Find("https://bad.example/") != nil {
				t.Fatal("invalid config must not be served")
			}
		})
	}
}
