// Command filterdebug prints the filter options found in a page, or the
// page rewritten by a widget configuration.
//
//	filterdebug [-sel .filters,.brands] [-hide-zero] https://shop.example/
//	filterdebug -config shop.yaml -render page.html
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"

	"filterwidget/internal/proxy"
	"filterwidget/widget"
)

func main() {
	selFlag := flag.String("sel", widget.AllLists, "comma separated source selectors")
	hideZero := flag.Bool("hide-zero", false, "skip options with a zero count")
	configFlag := flag.String("config", "", "widget config file (.json, .yaml or .yml)")
	renderFlag := flag.Bool("render", false, "print the rewritten page instead of the options (needs -config)")
	baseFlag := flag.String("base", "", "page URL used to resolve relative links when reading a file")
	jsFlag := flag.Bool("js", false, "load the page in headless Chrome")
	timeout := flag.Duration("timeout", 30*time.Second, "fetch timeout")
	flag.Parse()

	src := "https://example.com/"
	if flag.NArg() > 0 {
		src = flag.Arg(0)
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var fetcher widget.Fetcher = &widget.HTTPFetcher{}
	if *jsFlag {
		b := proxy.NewBrowserFetcher(logger)
		defer b.Close()
		fetcher = b
	}

	doc, pageURL, err := load(ctx, fetcher, src, *baseFlag)
	if err != nil {
		logger.Fatal(err)
	}

	if *configFlag == "" {
		if *renderFlag {
			logger.Fatal("-render needs -config")
		}
		opts := widget.Parse(doc, strings.Split(*selFlag, ","), *hideZero, pageURL)
		printJSON(opts)
		return
	}

	cfg, err := readConfig(*configFlag)
	if err != nil {
		logger.Fatal(err)
	}
	cfg.Logger = logger
	cfg.Fetcher = fetcher
	rep, err := widget.Run(ctx, cfg, &widget.Page{Doc: doc, URL: pageURL})
	if err != nil {
		os.Exit(1)
	}
	if *renderFlag {
		if err := html.Render(os.Stdout, doc); err != nil {
			logger.Fatal(err)
		}
		fmt.Println()
		return
	}
	printJSON(map[string]any{
		"skipped":  rep.Skipped,
		"options":  rep.Options,
		"rendered": len(rep.Rendered),
		"empty":    rep.Empty,
		"missing":  rep.Missing,
	})
}

// load fetches src when it is a URL and parses it as a file otherwise.
func load(ctx context.Context, fetcher widget.Fetcher, src, base string) (*html.Node, *url.URL, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		u, err := url.Parse(src)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("fetch %s", src)
		doc, err := fetcher.Fetch(ctx, src, nil)
		return doc, u, err
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	doc, err := html.Parse(f)
	if err != nil {
		return nil, nil, err
	}
	var u *url.URL
	if base != "" {
		if u, err = url.Parse(base); err != nil {
			return nil, nil, err
		}
	}
	return doc, u, nil
}

func readConfig(path string) (*widget.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return widget.DecodeYAML(data)
	}
	return widget.DecodeJSON(data)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal(err)
	}
}
