package widget

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

const (
	DefaultExpanderText = "Show all"
	DefaultTitleTag     = "h3"
	DefaultTitleClass   = "filter-widget__title"
	// DefaultBrandPattern marks brand facet links, e.g. /catalog/f/brand=canon.
	DefaultBrandPattern = `(?i)brand[=_/-]`
)

// tagName accepts any element name an HTML document can hold.
var tagName = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Config drives one Init call.
type Config struct {
	SourceSelectors []string          `json:"sourceSelectors" yaml:"sourceSelectors"`
	TargetSelector  string            `json:"targetSelector,omitempty" yaml:"targetSelector,omitempty"`
	Groups          []Group           `json:"groups,omitempty" yaml:"groups,omitempty"`
	HideOutOfStock  bool              `json:"hideOutOfStock,omitempty" yaml:"hideOutOfStock,omitempty"`
	ImageMap        map[string]string `json:"imageMap,omitempty" yaml:"imageMap,omitempty"`
	LabelMap        map[string]string `json:"labelMap,omitempty" yaml:"labelMap,omitempty"`
	CatalogURL      string            `json:"catalogUrl,omitempty" yaml:"catalogUrl,omitempty"`
	AutoExpand      bool              `json:"autoExpand,omitempty" yaml:"autoExpand,omitempty"`
	BrandLast       bool              `json:"brandLast,omitempty" yaml:"brandLast,omitempty"`
	BrandPattern    string            `json:"brandPattern,omitempty" yaml:"brandPattern,omitempty"`
	ExpanderText    string            `json:"expanderText,omitempty" yaml:"expanderText,omitempty"`
	Title           string            `json:"title,omitempty" yaml:"title,omitempty"`
	TitleTag        string            `json:"titleTag,omitempty" yaml:"titleTag,omitempty"`
	TitleClass      string            `json:"titleClass,omitempty" yaml:"titleClass,omitempty"`
	RunOn           RunOn             `json:"runOn,omitempty" yaml:"runOn,omitempty"`
	// Styles is extra CSS appended to the injected widget stylesheet.
	Styles string `json:"styles,omitempty" yaml:"styles,omitempty"`

	// LabelFormatter wins over LabelMap when set.
	LabelFormatter func(Option) string `json:"-" yaml:"-"`
	// Logger receives every reported error. Defaults to log.Default().
	Logger *log.Logger `json:"-" yaml:"-"`
	// Fetcher retrieves CatalogURL. Defaults to an HTTPFetcher.
	Fetcher Fetcher `json:"-" yaml:"-"`
}

// Group renders a subset of the parsed options into its own target.
type Group struct {
	TargetSelector string  `json:"targetSelector" yaml:"targetSelector"`
	Match          Matcher `json:"match,omitempty" yaml:"match,omitempty"`
	BrandLast      *bool   `json:"brandLast,omitempty" yaml:"brandLast,omitempty"`
	Title          string  `json:"title,omitempty" yaml:"title,omitempty"`
	TitleTag       string  `json:"titleTag,omitempty" yaml:"titleTag,omitempty"`
	TitleClass     string  `json:"titleClass,omitempty" yaml:"titleClass,omitempty"`
}

// Matcher selects options for a Group. Func beats Pattern beats Contains;
// the zero Matcher accepts everything. Pattern and Contains are tested
// against both the option URL and its name.
type Matcher struct {
	Contains string            `json:"contains,omitempty" yaml:"contains,omitempty"`
	Pattern  string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Func     func(Option) bool `json:"-" yaml:"-"`
}

// MatchContains, MatchPattern and MatchFunc build the three matcher variants.
func MatchContains(s string) Matcher         { return Matcher{Contains: s} }
func MatchPattern(expr string) Matcher       { return Matcher{Pattern: expr} }
func MatchFunc(fn func(Option) bool) Matcher { return Matcher{Func: fn} }

type matcherJSON Matcher

// UnmarshalJSON accepts a bare string as a substring matcher.
func (m *Matcher) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = Matcher{Contains: s}
		return nil
	}
	var raw matcherJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = Matcher(raw)
	return nil
}

// UnmarshalYAML accepts a bare scalar as a substring matcher.
func (m *Matcher) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*m = Matcher{Contains: value.Value}
		return nil
	}
	var raw matcherJSON
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*m = Matcher(raw)
	return nil
}

// RunOn restricts the pages Init acts on. The zero value means the home
// page only.
type RunOn struct {
	All   bool
	Paths []string
}

const (
	runOnHome = "home"
	runOnAll  = "all"
)

func RunOnHome() RunOn                 { return RunOn{} }
func RunOnAll() RunOn                  { return RunOn{All: true} }
func RunOnPaths(paths ...string) RunOn { return RunOn{Paths: paths} }

// Allows reports whether the widget should run on a page with the given path.
func (r RunOn) Allows(path string) bool {
	if r.All {
		return true
	}
	if len(r.Paths) == 0 {
		return path == "/"
	}
	for _, p := range r.Paths {
		if p == path {
			return true
		}
	}
	return false
}

func (r *RunOn) set(values []string) {
	*r = RunOn{}
	if len(values) == 1 {
		switch strings.TrimSpace(values[0]) {
		case runOnHome, "":
			return
		case runOnAll:
			r.All = true
			return
		}
	}
	r.Paths = values
}

func (r RunOn) MarshalJSON() ([]byte, error) {
	switch {
	case r.All:
		return json.Marshal(runOnAll)
	case len(r.Paths) == 0:
		return json.Marshal(runOnHome)
	}
	return json.Marshal(r.Paths)
}

// UnmarshalJSON accepts "home", "all", a single path or a list of paths.
// null and "" mean home.
func (r *RunOn) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		*r = RunOnHome()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		r.set([]string{s})
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("runOn: want string or list of strings: %w", err)
	}
	r.set(list)
	return nil
}

func (r *RunOn) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*r = RunOnHome()
			return nil
		}
		r.set([]string{value.Value})
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		r.set(list)
		return nil
	}
	return fmt.Errorf("runOn: want string or list of strings")
}

// DecodeJSON reads a widget configuration from JSON. Type mismatches, such
// as a non-string imageMap value, are reported as configuration errors.
func DecodeJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return nil, configErr(te.Field, "want %s, got %s", te.Type, te.Value)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &cfg, nil
}

// DecodeYAML reads a widget configuration from YAML.
func DecodeYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &cfg, nil
}

// Validate checks cfg without touching any document.
func (c *Config) Validate() error {
	_, err := c.plan()
	return err
}

type groupPlan struct {
	target     string
	match      func(Option) bool
	brandLast  bool
	title      string
	titleTag   string
	titleClass string
}

type runPlan struct {
	groups []groupPlan
	brand  *regexp.Regexp
}

func (c *Config) plan() (*runPlan, error) {
	if c == nil {
		return nil, configErr("config", "config object required")
	}
	if len(c.SourceSelectors) == 0 {
		return nil, configErr("sourceSelectors", "must be a non-empty list")
	}
	if !wantsAllLists(c.SourceSelectors) {
		for _, sel := range c.SourceSelectors {
			if _, err := compileSelector(sel); err != nil {
				return nil, configErr("sourceSelectors", "%q: %v", sel, err)
			}
		}
	}
	if strings.TrimSpace(c.TargetSelector) == "" && len(c.Groups) == 0 {
		return nil, configErr("targetSelector", "targetSelector or groups required")
	}
	for _, p := range c.RunOn.Paths {
		if strings.TrimSpace(p) == "" {
			return nil, configErr("runOn", "empty path in list")
		}
	}
	for name, src := range c.ImageMap {
		if name == "" || strings.TrimSpace(src) == "" {
			return nil, configErr("imageMap", "entry %q must map a name to an image url", name)
		}
	}

	p := &runPlan{}
	expr := c.BrandPattern
	if expr == "" {
		expr = DefaultBrandPattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, configErr("brandPattern", "%v", err)
	}
	p.brand = re

	if len(c.Groups) == 0 {
		g := Group{TargetSelector: c.TargetSelector, Title: c.Title, TitleTag: c.TitleTag, TitleClass: c.TitleClass}
		gp, err := c.planGroup("targetSelector", g)
		if err != nil {
			return nil, err
		}
		p.groups = append(p.groups, gp)
		return p, nil
	}
	for i, g := range c.Groups {
		gp, err := c.planGroup(fmt.Sprintf("groups[%d]", i), g)
		if err != nil {
			return nil, err
		}
		p.groups = append(p.groups, gp)
	}
	return p, nil
}

func (c *Config) planGroup(field string, g Group) (groupPlan, error) {
	if strings.TrimSpace(g.TargetSelector) == "" {
		return groupPlan{}, configErr(field, "targetSelector required")
	}
	if _, err := compileSelector(g.TargetSelector); err != nil {
		return groupPlan{}, configErr(field, "targetSelector %q: %v", g.TargetSelector, err)
	}
	match, err := g.Match.compile()
	if err != nil {
		return groupPlan{}, configErr(field+".match", "%v", err)
	}
	gp := groupPlan{
		target:     g.TargetSelector,
		match:      match,
		brandLast:  c.BrandLast,
		title:      g.Title,
		titleTag:   strings.ToLower(firstNonEmpty(g.TitleTag, c.TitleTag, DefaultTitleTag)),
		titleClass: firstNonEmpty(g.TitleClass, c.TitleClass, DefaultTitleClass),
	}
	if g.BrandLast != nil {
		gp.brandLast = *g.BrandLast
	}
	if !tagName.MatchString(gp.titleTag) {
		return groupPlan{}, configErr(field+".titleTag", "invalid tag name %q", gp.titleTag)
	}
	return gp, nil
}

func (m Matcher) compile() (func(Option) bool, error) {
	switch {
	case m.Func != nil:
		return m.Func, nil
	case m.Pattern != "":
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			return nil, err
		}
		return func(o Option) bool { return re.MatchString(o.URL) || re.MatchString(o.Name) }, nil
	case m.Contains != "":
		s := m.Contains
		return func(o Option) bool { return strings.Contains(o.URL, s) || strings.Contains(o.Name, s) }, nil
	}
	return func(Option) bool { return true }, nil
}

func compileSelector(sel string) (cascadia.Selector, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return nil, errors.New("empty selector")
	}
	return cascadia.Compile(sel)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
