package main

import (
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"filterwidget/internal/proxy"
)

func main() {
	addrFlag := flag.String("addr", ":8081", "listen address, e.g. :80 or 0.0.0.0:8081")
	sitesFlag := flag.String("sites", "", "directory with per-host site configs (overrides FW_SITES_DIR)")
	ttlFlag := flag.Duration("cache-ttl", -1, "rendered page cache lifetime, 0 disables (overrides FW_CACHE_TTL)")
	chromeFlag := flag.Bool("chrome", false, "enable headless Chrome for sites in js mode (same as FW_CHROME=1)")
	flag.Parse()

	addr := *addrFlag
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg := proxy.DefaultConfig()
	if *sitesFlag != "" {
		cfg.SitesDir = *sitesFlag
	}
	if *ttlFlag >= 0 {
		cfg.CacheTTL = *ttlFlag
	}
	if *chromeFlag && cfg.Browser == nil {
		cfg.Browser = proxy.NewBrowserFetcher(cfg.Logger)
	}
	handler := proxy.New(cfg)
	defer handler.Close()

	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		// Upstream and catalog fetches may take a while in js mode.
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(os.Stdout, "HTTPERR ", log.LstdFlags|log.Lmicroseconds),
		ConnState: func(c net.Conn, s http.ConnState) {
			log.Printf("CONN %s %s", s.String(), c.RemoteAddr())
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Listen error on %s: %v", addr, err)
	}

	log.Printf("Listening on %s (sites=%s cache=%s js=%v)", addr, cfg.SitesDir, cfg.CacheTTL, cfg.Browser != nil)
	if err := srv.Serve(ln); err != nil {
		log.Printf("serve: %v", err)
	}
}
