package widget

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

const defaultCSS = `.filter-widget__list{list-style:none;margin:0;padding:0;display:flex;flex-wrap:wrap;gap:.5em}
.filter-widget__list.is-collapsed{max-height:5.5em;overflow:hidden}
.filter-widget__list.is-expanded{max-height:none;overflow:visible}
.filter-block__img{max-height:2.5em;width:auto}`

// BuildStylesheet appends extra to the built-in widget CSS. Rules whose
// selectors cascadia cannot compile are dropped; each drop is returned as
// a warning. Unparsable CSS is an error.
func BuildStylesheet(extra string) (string, []string, error) {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return defaultCSS, nil, nil
	}
	sheet, err := parser.Parse(extra)
	if err != nil {
		return defaultCSS, nil, configErr("styles", "%v", err)
	}
	var b strings.Builder
	b.WriteString(defaultCSS)
	var warnings []string
	for _, rule := range sheet.Rules {
		if rule == nil {
			continue
		}
		if rule.Kind == cssast.QualifiedRule {
			if bad := invalidSelector(rule.Selectors); bad != "" {
				warnings = append(warnings, fmt.Sprintf("dropped rule with selector %q", bad))
				continue
			}
		} else if rule.EmbedsRules() {
			kept := make([]*cssast.Rule, 0, len(rule.Rules))
			for _, child := range rule.Rules {
				if child.Kind == cssast.QualifiedRule {
					if bad := invalidSelector(child.Selectors); bad != "" {
						warnings = append(warnings, fmt.Sprintf("dropped rule with selector %q", bad))
						continue
					}
				}
				kept = append(kept, child)
			}
			rule.Rules = kept
		}
		b.WriteString("\n")
		b.WriteString(rule.String())
	}
	return b.String(), warnings, nil
}

func invalidSelector(selectors []string) string {
	for _, sel := range selectors {
		if _, err := cascadia.ParseGroupWithPseudoElements(sel); err != nil {
			return sel
		}
	}
	return ""
}
