package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consentgate/internal/banner"
	"consentgate/internal/consent"
	"consentgate/internal/events"
	"consentgate/internal/platform/metrics"
	"consentgate/pkg/requestcontext"
)

// Handler serves the consent action endpoint and the client bootstrap. A
// fresh banner facade is composed per request so state never leaks between
// visitors.
type Handler struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	categories *consent.Registry
	store      consent.Store

	cookie     consent.CookieSettings
	bannerOpts consent.BannerOptions
	autoBlock  bool
	apiURL     string

	// extraListeners are registered on every per-request dispatcher (e.g.
	// the Kafka sink).
	extraListeners []events.Listener
	clock          consent.Clock
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithEventListener registers an additional wildcard listener on every
// request's dispatcher.
func WithEventListener(l events.Listener) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.extraListeners = append(h.extraListeners, l)
		}
	}
}

// WithHandlerClock sets the clock for testability.
func WithHandlerClock(clock consent.Clock) HandlerOption {
	return func(h *Handler) { h.clock = clock }
}

// New creates the consent Handler.
func New(
	categories *consent.Registry,
	store consent.Store,
	cookie consent.CookieSettings,
	bannerOpts consent.BannerOptions,
	autoBlock bool,
	apiURL string,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		logger:     logger,
		metrics:    m,
		categories: categories,
		store:      store,
		cookie:     cookie,
		bannerOpts: bannerOpts,
		autoBlock:  autoBlock,
		apiURL:     apiURL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register registers the public consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/consent", h.handleAction)
	r.Get("/api/consent/config", h.handleConfig)
}

// newBanner composes the per-request facade. The agent self-reports the page
// URL and referrer in the action payload; the Referer header only stands in
// for the page URL when the payload omits it.
func (h *Handler) newBanner(r *http.Request, pageURL, referrer string) (*banner.Banner, error) {
	ctx := r.Context()
	if pageURL == "" {
		pageURL = r.Referer()
	}
	return banner.New(banner.Options{
		Categories: h.categories,
		Store:      h.store,
		Cookie:     h.cookie,
		Banner:     h.bannerOpts,
		AutoBlock:  h.autoBlock,
		Logger:     h.logger,
		Clock:      h.clock,
		Request: consent.RequestInfo{
			IPAddress:  requestcontext.ClientIP(ctx),
			UserAgent:  requestcontext.UserAgent(ctx),
			PageURL:    pageURL,
			Referrer:   referrer,
			DoNotTrack: r.Header.Get("DNT") == "1",
		},
	})
}

// handleAction runs one decoded consent action. Unknown actions are a soft
// protocol error (success false, HTTP 200); storage failures are hard 5xx.
func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req banner.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid consent action body",
			"request_id", requestID,
			"error", err.Error(),
		)
		WriteJSON(w, http.StatusBadRequest, banner.Response{Success: false, Error: "invalid request body"})
		return
	}

	b, err := h.newBanner(r, req.PageURL, req.Referrer)
	if err != nil {
		h.logger.ErrorContext(ctx, "compose banner", "request_id", requestID, "error", err.Error())
		WriteError(w, err)
		return
	}
	h.attachListeners(b)

	if cookie, err := r.Cookie(h.cookie.Name); err == nil {
		if err := b.Load(ctx, cookie.Value); err != nil {
			h.logger.WarnContext(ctx, "consent token load degraded",
				"request_id", requestID,
				"error", err.Error(),
			)
		}
	}

	resp, err := b.HandleAction(ctx, req)
	if err != nil {
		h.metrics.RecordAction(req.Action, "error")
		h.logger.ErrorContext(ctx, "consent action failed",
			"request_id", requestID,
			"action", req.Action,
			"error", err.Error(),
		)
		WriteError(w, err)
		return
	}

	result := "ok"
	if !resp.Success {
		result = "rejected"
	}
	h.metrics.RecordAction(req.Action, result)

	// Server-side cookie write; the response still carries the token and
	// settings so a browser agent behind a different origin can write its
	// own copy.
	if resp.Success {
		switch req.Action {
		case banner.ActionWithdrawConsent:
			h.clearCookie(w)
		default:
			if resp.Cookie != "" {
				h.setCookie(w, resp.Cookie)
			}
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// handleConfig returns the bootstrap payload the browser runtime reads on
// page load.
func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := h.newBanner(r, "", "")
	if err != nil {
		WriteError(w, err)
		return
	}

	if cookie, err := r.Cookie(h.cookie.Name); err == nil {
		if err := b.Load(ctx, cookie.Value); err != nil {
			h.logger.WarnContext(ctx, "consent token load degraded",
				"request_id", requestcontext.RequestID(ctx),
				"error", err.Error(),
			)
		}
	}

	WriteJSON(w, http.StatusOK, b.ClientConfig(h.apiURL))
}

func (h *Handler) attachListeners(b *banner.Banner) {
	b.On(events.Wildcard, h.metricsListener(), 100)
	for _, l := range h.extraListeners {
		b.On(events.Wildcard, l, 0)
	}
}

func (h *Handler) metricsListener() events.Listener {
	return func(ev events.Event) {
		ce, ok := ev.(*consent.Event)
		if !ok {
			return
		}
		if ce.IsWithdrawn() {
			h.metrics.ConsentWithdrawn.Inc()
			return
		}
		h.metrics.RecordDecision(string(ce.Record.Method), ce.Type)
	}
}

func (h *Handler) setCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   h.cookie.ExpiryDays * 24 * 60 * 60,
		Secure:   h.cookie.Secure,
		HttpOnly: false,
		SameSite: parseSameSite(h.cookie.SameSite),
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		Secure:   h.cookie.Secure,
		SameSite: parseSameSite(h.cookie.SameSite),
	})
}

func parseSameSite(v string) http.SameSite {
	switch v {
	case "Strict":
		return http.SameSiteStrictMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
