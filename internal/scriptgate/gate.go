// Package scriptgate renders third-party scripts as inert markup until the
// visitor has consented to the script's category, and reactivates them once
// consent arrives.
package scriptgate

import (
	"html"
	"regexp"
	"sort"
	"strings"

	"consentgate/internal/events"
)

// Marker attributes stamped onto neutralized script tags. The reactivation
// sweep keys off these to restore the original element.
const (
	AttrCategory = "data-cg-category"
	AttrScriptID = "data-cg-script-id"
)

// ScriptType classifies registered markup for the rewrite step.
type ScriptType string

const (
	TypeExternal ScriptType = "external"
	TypeInline   ScriptType = "inline"
	TypeRaw      ScriptType = "raw"
)

// ConsentChecker answers whether the current visitor consented to a category.
type ConsentChecker interface {
	HasConsentFor(category string) bool
}

// Provider maps well-known script URLs to a consent category.
type Provider struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Patterns []string `json:"patterns"`
	Enabled  bool     `json:"enabled"`
}

// Script is a registered piece of markup gated behind a category.
type Script struct {
	ID         string            `json:"id"`
	Category   string            `json:"category"`
	Markup     string            `json:"-"`
	Provider   string            `json:"provider,omitempty"`
	Attributes map[string]string `json:"-"`
	Type       ScriptType        `json:"-"`
}

var (
	externalScriptRe = regexp.MustCompile(`(?i)<script[^>]*src=["']`)
	inlineScriptRe   = regexp.MustCompile(`(?i)<script[^>]*>`)
	openTagRe        = regexp.MustCompile(`(?i)<script([^>]*)>`)
)

// Gate decides which registered scripts render live and which render inert.
type Gate struct {
	consent   ConsentChecker
	events    *events.Dispatcher
	autoBlock bool

	providers   map[string]*Provider
	scripts     map[string]*Script
	scriptOrder []string
}

// New builds a Gate with the stock provider table preloaded. autoBlock
// controls whether ShouldBlock matches URLs at all.
func New(consent ConsentChecker, dispatcher *events.Dispatcher, autoBlock bool) *Gate {
	g := &Gate{
		consent:   consent,
		events:    dispatcher,
		autoBlock: autoBlock,
		providers: make(map[string]*Provider),
		scripts:   make(map[string]*Script),
	}
	g.registerDefaultProviders()
	return g
}

func (g *Gate) registerDefaultProviders() {
	defaults := []Provider{
		{Name: "google_analytics", Category: "analytics", Patterns: []string{"google-analytics.com/analytics.js", "googletagmanager.com/gtag/js", "ga.js"}},
		{Name: "google_tag_manager", Category: "analytics", Patterns: []string{"googletagmanager.com/gtm.js"}},
		{Name: "google_ads", Category: "advertising", Patterns: []string{"googleadservices.com", "googlesyndication.com", "googleads.g.doubleclick.net", "pagead2.googlesyndication.com"}},
		{Name: "facebook_pixel", Category: "advertising", Patterns: []string{"connect.facebook.net", "facebook.com/tr"}},
		{Name: "hotjar", Category: "analytics", Patterns: []string{"static.hotjar.com", "script.hotjar.com"}},
		{Name: "linkedin_insight", Category: "marketing", Patterns: []string{"snap.licdn.com/li.lms-analytics"}},
		{Name: "twitter_pixel", Category: "advertising", Patterns: []string{"static.ads-twitter.com", "analytics.twitter.com"}},
		{Name: "tiktok_pixel", Category: "advertising", Patterns: []string{"analytics.tiktok.com"}},
		{Name: "intercom", Category: "functional", Patterns: []string{"widget.intercom.io", "js.intercomcdn.com"}},
		{Name: "crisp", Category: "functional", Patterns: []string{"client.crisp.chat"}},
		{Name: "hubspot", Category: "marketing", Patterns: []string{"js.hs-scripts.com", "js.hsforms.net"}},
		{Name: "matomo", Category: "analytics", Patterns: []string{"matomo.js", "piwik.js"}},
		{Name: "youtube", Category: "functional", Patterns: []string{"youtube.com/iframe_api", "youtube.com/embed"}},
		{Name: "vimeo", Category: "functional", Patterns: []string{"player.vimeo.com"}},
	}
	for i := range defaults {
		p := defaults[i]
		p.Enabled = true
		g.providers[p.Name] = &p
	}
}

// RegisterProvider adds or replaces a URL-pattern provider.
func (g *Gate) RegisterProvider(name, category string, patterns []string) *Gate {
	g.providers[name] = &Provider{Name: name, Category: category, Patterns: patterns, Enabled: true}
	return g
}

// UnregisterProvider removes a provider from URL matching.
func (g *Gate) UnregisterProvider(name string) *Gate {
	delete(g.providers, name)
	return g
}

// SetProviderEnabled toggles a provider without dropping its patterns.
func (g *Gate) SetProviderEnabled(name string, enabled bool) {
	if p, ok := g.providers[name]; ok {
		p.Enabled = enabled
	}
}

// Provider returns a registered provider, or nil.
func (g *Gate) Provider(name string) *Provider {
	return g.providers[name]
}

// Providers returns all registered providers sorted by name.
func (g *Gate) Providers() []*Provider {
	out := make([]*Provider, 0, len(g.providers))
	for _, p := range g.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterScript registers gated markup under an ID. Re-registering an ID
// replaces the markup but keeps its render position.
func (g *Gate) RegisterScript(id, category, markup, provider string, attributes map[string]string) *Gate {
	if _, exists := g.scripts[id]; !exists {
		g.scriptOrder = append(g.scriptOrder, id)
	}
	g.scripts[id] = &Script{
		ID:         id,
		Category:   category,
		Markup:     markup,
		Provider:   provider,
		Attributes: attributes,
		Type:       detectScriptType(markup),
	}
	return g
}

// UnregisterScript removes a script registration.
func (g *Gate) UnregisterScript(id string) *Gate {
	if _, ok := g.scripts[id]; ok {
		delete(g.scripts, id)
		for i, sid := range g.scriptOrder {
			if sid == id {
				g.scriptOrder = append(g.scriptOrder[:i], g.scriptOrder[i+1:]...)
				break
			}
		}
	}
	return g
}

// Scripts returns registered scripts in registration order.
func (g *Gate) Scripts() []*Script {
	out := make([]*Script, 0, len(g.scriptOrder))
	for _, id := range g.scriptOrder {
		out = append(out, g.scripts[id])
	}
	return out
}

func detectScriptType(markup string) ScriptType {
	if externalScriptRe.MatchString(markup) {
		return TypeExternal
	}
	if inlineScriptRe.MatchString(markup) {
		return TypeInline
	}
	return TypeRaw
}

// RenderScript returns the markup for one registered script: verbatim when the
// category has consent, neutralized otherwise. Unknown IDs render empty.
func (g *Gate) RenderScript(id string) string {
	script, ok := g.scripts[id]
	if !ok {
		return ""
	}
	if g.consent != nil && g.consent.HasConsentFor(script.Category) {
		g.dispatch(NewLoadedEvent(script.ID, script.Category, script.Provider))
		return script.Markup
	}
	g.dispatch(NewBlockedEvent(script.ID, script.Category, script.Provider, script.Markup))
	return neutralize(script)
}

// neutralize rewrites the opening script tag to type="text/plain" and stamps
// the marker attributes so the browser parses but never executes it.
func neutralize(script *Script) string {
	markers := `type="text/plain" ` +
		AttrCategory + `="` + html.EscapeString(script.Category) + `" ` +
		AttrScriptID + `="` + html.EscapeString(script.ID) + `"`

	if script.Type == TypeRaw {
		return "<script " + markers + ">" + script.Markup + "</script>"
	}
	return openTagRe.ReplaceAllString(script.Markup, "<script "+markers+"$1>")
}

// RenderAll concatenates every registered script in registration order.
func (g *Gate) RenderAll() string {
	var b strings.Builder
	for _, id := range g.scriptOrder {
		b.WriteString(g.RenderScript(id))
	}
	return b.String()
}

// RenderByCategory concatenates the scripts registered under one category.
func (g *Gate) RenderByCategory(category string) string {
	var b strings.Builder
	for _, id := range g.scriptOrder {
		if g.scripts[id].Category == category {
			b.WriteString(g.RenderScript(id))
		}
	}
	return b.String()
}

// ShouldBlock reports whether a script URL matches an enabled provider whose
// category lacks consent. With auto-blocking off nothing is ever blocked.
// Providers are consulted in name order so a URL matching more than one
// classifies the same way on every call.
func (g *Gate) ShouldBlock(src string) bool {
	if !g.autoBlock {
		return false
	}
	lower := strings.ToLower(src)
	for _, p := range g.Providers() {
		if !p.Enabled {
			continue
		}
		for _, pattern := range p.Patterns {
			if strings.Contains(lower, strings.ToLower(pattern)) {
				return g.consent == nil || !g.consent.HasConsentFor(p.Category)
			}
		}
	}
	return false
}

// CategoryFor resolves a script URL to its provider category, or "". Matching
// follows the same name order as ShouldBlock.
func (g *Gate) CategoryFor(src string) string {
	lower := strings.ToLower(src)
	for _, p := range g.Providers() {
		for _, pattern := range p.Patterns {
			if strings.Contains(lower, strings.ToLower(pattern)) {
				return p.Category
			}
		}
	}
	return ""
}

// ClientPattern is one URL-matching rule shipped to the browser runtime.
type ClientPattern struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
	Provider string `json:"provider"`
}

// ClientConfig is the JSON-serializable blocker configuration consumed by the
// front-end runtime.
type ClientConfig struct {
	Enabled           bool            `json:"enabled"`
	Patterns          []ClientPattern `json:"patterns"`
	RegisteredScripts []*Script       `json:"registeredScripts"`
}

// ClientConfig materializes the pattern table and script registry for the
// browser side of the gate.
func (g *Gate) ClientConfig() ClientConfig {
	cfg := ClientConfig{Enabled: g.autoBlock, Patterns: []ClientPattern{}}
	for _, p := range g.Providers() {
		if !p.Enabled {
			continue
		}
		for _, pattern := range p.Patterns {
			cfg.Patterns = append(cfg.Patterns, ClientPattern{
				Pattern:  pattern,
				Category: p.Category,
				Provider: p.Name,
			})
		}
	}
	cfg.RegisteredScripts = g.Scripts()
	return cfg
}

func (g *Gate) dispatch(ev events.Event) {
	if g.events != nil {
		g.events.Dispatch(ev)
	}
}
