package scriptgate

import (
	"regexp"
	"strings"
)

var (
	neutralizedTagRe = regexp.MustCompile(`(?i)<script([^>]*\btype="text/plain"[^>]*\b` + AttrCategory + `="([^"]*)"[^>]*)>`)
	markerAttrsRe    = regexp.MustCompile(`(?i)\s*(type="text/plain"|` + AttrCategory + `="[^"]*"|` + AttrScriptID + `="[^"]*")`)
)

// Reactivate is the server-side counterpart of the browser sweep: given HTML
// containing neutralized script tags, it restores the original opening tag for
// every script whose category now has consent. Tags for categories still
// lacking consent are left untouched, so the sweep is idempotent and can run
// after every consent change.
func Reactivate(markup string, consent ConsentChecker) string {
	if consent == nil {
		return markup
	}
	return neutralizedTagRe.ReplaceAllStringFunc(markup, func(tag string) string {
		m := neutralizedTagRe.FindStringSubmatch(tag)
		if m == nil {
			return tag
		}
		category := m[2]
		if !consent.HasConsentFor(category) {
			return tag
		}
		attrs := markerAttrsRe.ReplaceAllString(m[1], "")
		attrs = strings.TrimSpace(attrs)
		if attrs == "" {
			return "<script>"
		}
		return "<script " + attrs + ">"
	})
}
