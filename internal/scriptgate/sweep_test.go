package scriptgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReactivate(t *testing.T) {
	consented := &stubConsent{granted: map[string]bool{"analytics": true}}

	t.Run("restores consented scripts and leaves the rest inert", func(t *testing.T) {
		markup := `<script type="text/plain" data-cg-category="analytics" data-cg-script-id="ga" src="https://x/ga.js"></script>` +
			`<script type="text/plain" data-cg-category="advertising" data-cg-script-id="fb" src="https://x/fb.js"></script>`

		out := Reactivate(markup, consented)

		assert.Contains(t, out, `<script src="https://x/ga.js"></script>`)
		assert.Contains(t, out, `data-cg-category="advertising"`)
	})

	t.Run("idempotent on already live markup", func(t *testing.T) {
		markup := `<script src="https://x/app.js"></script>`
		assert.Equal(t, markup, Reactivate(markup, consented))
	})

	t.Run("round trip through the gate", func(t *testing.T) {
		pending := &stubConsent{granted: map[string]bool{}}
		gate := New(pending, nil, true)
		gate.RegisterScript("ga", "analytics", `<script src="https://x/ga.js"></script>`, "", nil)

		blocked := gate.RenderScript("ga")
		assert.Contains(t, blocked, `type="text/plain"`)

		restored := Reactivate(blocked, consented)
		assert.Equal(t, `<script src="https://x/ga.js"></script>`, restored)
	})

	t.Run("nil checker is a no-op", func(t *testing.T) {
		markup := `<script type="text/plain" data-cg-category="analytics"></script>`
		assert.Equal(t, markup, Reactivate(markup, nil))
	})
}
