package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"filterwidget/widget"
)

// Site fetch modes.
const (
	ModeHTTP = "http"
	ModeJS   = "js"
)

// SiteConfig is the per-host configuration stored in
// <SitesDir>/<host>.json, .yaml or .yml.
type SiteConfig struct {
	Mode    string            `json:"mode" yaml:"mode"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// ForwardCredentials passes the visitor's Cookie and Authorization
	// headers to the host. They are dropped otherwise.
	ForwardCredentials bool `json:"forwardCredentials,omitempty" yaml:"forwardCredentials,omitempty"`
	// Widget is applied to every page of the host. Nil passes pages through.
	Widget *widget.Config `json:"widget,omitempty" yaml:"widget,omitempty"`
}

type siteConfigStore struct {
	dir    string
	logger *log.Logger
	mu     sync.RWMutex
	cache  map[string]*SiteConfig
}

func newSiteConfigStore(dir string, logger *log.Logger) *siteConfigStore {
	if logger == nil {
		logger = log.Default()
	}
	return &siteConfigStore{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]*SiteConfig),
	}
}

// Find returns the configuration for target's host, trying parent domains
// label by label. Misses are cached as well.
func (s *siteConfigStore) Find(target string) *SiteConfig {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	s.mu.RLock()
	if cfg, ok := s.cache[host]; ok {
		s.mu.RUnlock()
		return cfg
	}
	s.mu.RUnlock()

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		cfg, err := s.load(candidate)
		if err != nil {
			s.logger.Printf("SITE %s: %v", candidate, err)
			continue
		}
		if cfg != nil {
			s.mu.Lock()
			s.cache[host] = cfg
			s.mu.Unlock()
			return cfg
		}
	}
	s.mu.Lock()
	s.cache[host] = nil
	s.mu.Unlock()
	return nil
}

func (s *siteConfigStore) load(host string) (*SiteConfig, error) {
	if s.dir == "" {
		return nil, nil
	}
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(s.dir, host+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var cfg *SiteConfig
		if ext == ".json" {
			cfg, err = decodeSiteJSON(data)
		} else {
			cfg, err = decodeSiteYAML(data)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		return cfg, nil
	}
	return nil, nil
}

// siteFile defers widget decoding so widget.DecodeJSON can report field
// level configuration errors.
type siteFile struct {
	Mode               string            `json:"mode"`
	Headers            map[string]string `json:"headers"`
	ForwardCredentials bool              `json:"forwardCredentials"`
	Widget             json.RawMessage   `json:"widget"`
}

func decodeSiteJSON(data []byte) (*SiteConfig, error) {
	var raw siteFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", widget.ErrConfig, err)
	}
	cfg := &SiteConfig{Mode: raw.Mode, Headers: raw.Headers, ForwardCredentials: raw.ForwardCredentials}
	if len(raw.Widget) > 0 && string(raw.Widget) != "null" {
		w, err := widget.DecodeJSON(raw.Widget)
		if err != nil {
			return nil, err
		}
		cfg.Widget = w
	}
	return finishSite(cfg)
}

func decodeSiteYAML(data []byte) (*SiteConfig, error) {
	var cfg SiteConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", widget.ErrConfig, err)
	}
	return finishSite(&cfg)
}

func finishSite(cfg *SiteConfig) (*SiteConfig, error) {
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeHTTP
	case ModeHTTP, ModeJS:
	default:
		return nil, fmt.Errorf("%w: mode %q: want %q or %q", widget.ErrConfig, cfg.Mode, ModeHTTP, ModeJS)
	}
	if cfg.Widget != nil {
		if err := cfg.Widget.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
