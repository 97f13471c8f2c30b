package proxy

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/net/html"

	"filterwidget/widget"
)

const (
	defaultBrowserTimeout = 25 * time.Second
	defaultNetworkIdle    = 500 * time.Millisecond
)

// BrowserFetcher renders pages in headless Chrome so catalogs built by
// scripts can be parsed. It implements widget.Fetcher.
type BrowserFetcher struct {
	allocator context.Context
	cancel    context.CancelFunc
	logger    *log.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// Timeout caps one fetch on top of the caller's context.
	Timeout time.Duration
	// NetworkIdle is how long the page must stay without requests before
	// its DOM is captured. Zero captures right after the body is ready.
	NetworkIdle time.Duration
	// WaitSelector, when set, must be visible before capture.
	WaitSelector string
}

// NewBrowserFetcher prepares a Chrome allocator. One browser process is
// started by the first Fetch and shared by later ones, each in its own tab;
// it is restarted if it exits.
func NewBrowserFetcher(logger *log.Logger) *BrowserFetcher {
	if logger == nil {
		logger = log.Default()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("safebrowsing-disable-auto-update", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &BrowserFetcher{
		allocator:   allocCtx,
		cancel:      cancel,
		logger:      logger,
		Timeout:     defaultBrowserTimeout,
		NetworkIdle: defaultNetworkIdle,
	}
}

func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCtx, b.browserCancel = nil, nil
	}
	b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

// browser returns the shared browser context, starting Chrome when there is
// none or the previous process went away.
func (b *BrowserFetcher) browser() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil && b.browserCtx.Err() == nil {
		return b.browserCtx, nil
	}
	if err := b.allocator.Err(); err != nil {
		return nil, fmt.Errorf("%w: js fetch: browser closed", widget.ErrFetch)
	}
	ctx, cancel := chromedp.NewContext(b.allocator)
	// An empty Run launches the process.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: js fetch: start browser: %v", widget.ErrFetch, err)
	}
	b.logger.Printf("JS browser started")
	b.browserCtx, b.browserCancel = ctx, cancel
	return ctx, nil
}

// Fetch navigates to target and returns the DOM as scripts left it.
func (b *BrowserFetcher) Fetch(ctx context.Context, target string, hdr http.Header) (*html.Node, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("%w: js fetch: empty target url", widget.ErrFetch)
	}
	browserCtx, err := b.browser()
	if err != nil {
		return nil, err
	}
	taskCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()

	if ctx != nil {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithCancel(taskCtx)
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-taskCtx.Done():
			}
		}()
		defer cancel()
	}
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, b.Timeout)
		defer cancel()
	}

	requestHeaders := cloneHeader(hdr)
	var htmlContent string

	var mu sync.Mutex
	activeRequests := 0
	lastActivity := time.Now()
	mainRequestID := network.RequestID("")
	mainStatus := 0

	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		mu.Lock()
		defer mu.Unlock()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			activeRequests++
			lastActivity = time.Now()
			if e.Type == network.ResourceTypeDocument && mainRequestID == "" {
				mainRequestID = e.RequestID
			}
		case *network.EventLoadingFinished:
			if activeRequests > 0 {
				activeRequests--
			}
			lastActivity = time.Now()
		case *network.EventLoadingFailed:
			if activeRequests > 0 {
				activeRequests--
			}
			lastActivity = time.Now()
		case *network.EventResponseReceived:
			if e.RequestID == mainRequestID && e.Response != nil {
				mainStatus = int(e.Response.Status)
			}
		}
	})

	actions := []chromedp.Action{
		network.Enable(),
	}
	if ua := requestHeaders.Get("User-Agent"); ua != "" {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(ua).Do(ctx)
		}))
		requestHeaders.Del("User-Agent")
	}
	if extra := extraHeaders(requestHeaders); len(extra) > 0 {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetExtraHTTPHeaders(extra).Do(ctx)
		}))
	}

	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if sel := strings.TrimSpace(b.WaitSelector); sel != "" {
		actions = append(actions, chromedp.WaitVisible(sel, chromedp.ByQuery))
	}
	if b.NetworkIdle > 0 {
		idle := b.NetworkIdle
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				mu.Lock()
				active := activeRequests
				elapsed := time.Since(lastActivity)
				mu.Unlock()
				if active == 0 && elapsed >= idle {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		}))
	}
	actions = append(actions, chromedp.OuterHTML("html", &htmlContent, chromedp.ByQuery))

	start := time.Now()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		b.logger.Printf("JS ERR %s: %v", target, err)
		return nil, fmt.Errorf("%w: js fetch %s: %v", widget.ErrFetch, target, err)
	}

	mu.Lock()
	status := mainStatus
	mu.Unlock()
	b.logger.Printf("JS %s status=%d bytes=%d in %s", target, status, len(htmlContent), time.Since(start).Round(time.Millisecond))
	if status != 0 && (status < 200 || status > 299) {
		return nil, &widget.StatusError{URL: target, Status: status}
	}
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("%w: js fetch %s: parse: %v", widget.ErrFetch, target, err)
	}
	return doc, nil
}

// extraHeaders converts the headers Chrome does not manage itself.
func extraHeaders(h http.Header) network.Headers {
	extra := network.Headers{}
	for k, vs := range h {
		name := http.CanonicalHeaderKey(k)
		switch name {
		case "Content-Length", "Accept-Encoding", "Connection":
			continue
		}
		if len(vs) == 0 {
			continue
		}
		sep := ", "
		if name == "Cookie" {
			sep = "; "
		}
		extra[name] = strings.Join(vs, sep)
	}
	return extra
}
