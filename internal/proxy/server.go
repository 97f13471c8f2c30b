package proxy

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"filterwidget/widget"
)

const defaultIndexHTML = `<!DOCTYPE html>
<html><body>
<h1>Filter Widget Server</h1>
<form action="/render" method="get">
<h3>Render a page with its filter widget</h3>
URL: <input name="url" size="60"><br>
<button type="submit">Render</button>
</form>
<form action="/options" method="get">
<h3>Show parsed filter options</h3>
URL: <input name="url" size="60"><br>
<button type="submit">Inspect</button>
</form>
</body></html>`

const (
	defaultSitesDir     = "config/sites"
	defaultCacheTTL     = 5 * time.Minute
	defaultFetchTimeout = 30 * time.Second
)

// Config describes server wiring and runtime behaviour.
type Config struct {
	IndexHTML string
	SitesDir  string
	// CacheTTL bounds how long a rendered page is served from memory.
	// Zero disables the cache.
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	Logger       *log.Logger
	Clock        func() time.Time
	// Fetcher loads upstream pages and catalogs for sites in "http" mode.
	Fetcher widget.Fetcher
	// Browser serves sites in "js" mode. Without it such sites fall back
	// to Fetcher.
	Browser widget.Fetcher
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		IndexHTML:    defaultIndexHTML,
		Logger:       log.Default(),
		Clock:        time.Now,
		SitesDir:     strings.TrimSpace(os.Getenv("FW_SITES_DIR")),
		CacheTTL:     defaultCacheTTL,
		FetchTimeout: defaultFetchTimeout,
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	if raw := strings.TrimSpace(os.Getenv("FW_CACHE_TTL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
			cfg.CacheTTL = d
		} else {
			cfg.Logger.Printf("FW_CACHE_TTL=%q ignored: want a duration", raw)
		}
	}
	if raw := strings.TrimSpace(os.Getenv("FW_FETCH_TIMEOUT")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.FetchTimeout = d
		}
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("FW_CHROME"))) {
	case "1", "on", "true", "yes":
		cfg.Browser = NewBrowserFetcher(cfg.Logger)
	}
	return cfg
}

// Server exposes the HTTP handlers implementing the proxy behaviour.
type Server struct {
	cfg     Config
	mux     *http.ServeMux
	handler http.Handler
	logger  *log.Logger
	cache   *pageCache
	sites   *siteConfigStore
	fetcher widget.Fetcher
	browser widget.Fetcher
	clock   func() time.Time
}

// New wires a new proxy server with the provided configuration.
func New(cfg Config) *Server {
	if cfg.IndexHTML == "" {
		cfg.IndexHTML = defaultIndexHTML
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = &widget.HTTPFetcher{}
	}
	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		logger:  cfg.Logger,
		cache:   newPageCache(cfg.Clock, cfg.CacheTTL),
		sites:   newSiteConfigStore(cfg.SitesDir, cfg.Logger),
		fetcher: cfg.Fetcher,
		browser: cfg.Browser,
		clock:   cfg.Clock,
	}
	s.registerRoutes()
	s.handler = withLogging(s.logger, s.mux)
	return s
}

// NewServer builds a server from the environment.
func NewServer() *Server {
	return New(DefaultConfig())
}

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases the headless browser, if any.
func (s *Server) Close() {
	if c, ok := s.browser.(interface{ Close() }); ok {
		c.Close()
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/render", s.handleRender)
	s.mux.HandleFunc("/options", s.handleOptions)
	s.mux.HandleFunc("/ping", s.handlePing)
}
