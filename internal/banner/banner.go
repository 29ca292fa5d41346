// Package banner is the embedding facade: it composes the category registry,
// the consent manager, the script gate, and the event dispatcher for one
// request, and exposes the action protocol the browser agent speaks.
package banner

import (
	"context"
	"log/slog"

	"consentgate/internal/consent"
	"consentgate/internal/events"
	"consentgate/internal/scriptgate"
	dErrors "consentgate/pkg/domain-errors"
)

// Options configures one Banner instance. Categories, Store, and Cookie are
// mandatory; everything else has working defaults.
type Options struct {
	Categories *consent.Registry
	Store      consent.Store
	Cookie     consent.CookieSettings
	Banner     consent.BannerOptions
	Request    consent.RequestInfo
	AutoBlock  bool

	UserIdentifier string
	Clock          consent.Clock
	Logger         *slog.Logger
}

// Banner is a per-request composition root. It is not safe for concurrent
// use; construct one per incoming request.
type Banner struct {
	categories *consent.Registry
	manager    *consent.Manager
	gate       *scriptgate.Gate
	events     *events.Dispatcher
}

func New(opts Options) (*Banner, error) {
	if opts.Categories == nil || opts.Categories.Len() == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidConfig, "category registry is required")
	}
	if opts.Store == nil {
		return nil, dErrors.New(dErrors.CodeInvalidConfig, "consent store is required")
	}
	if opts.Cookie.Name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidConfig, "cookie name is required")
	}

	dispatcher := events.NewDispatcher()
	if opts.Logger != nil {
		dispatcher.On(events.Wildcard, consent.LogSubscriber(opts.Logger), 0)
	}

	var mopts []consent.ManagerOption
	if opts.Clock != nil {
		mopts = append(mopts, consent.WithClock(opts.Clock))
	}
	if opts.UserIdentifier != "" {
		mopts = append(mopts, consent.WithUserIdentifier(opts.UserIdentifier))
	}
	manager := consent.NewManager(
		opts.Categories, opts.Store, dispatcher,
		opts.Cookie, opts.Banner, opts.Request,
		mopts...,
	)

	return &Banner{
		categories: opts.Categories,
		manager:    manager,
		gate:       scriptgate.New(manager, dispatcher, opts.AutoBlock),
		events:     dispatcher,
	}, nil
}

// Load resolves the incoming cookie token. See Manager.Load for degradation
// semantics.
func (b *Banner) Load(ctx context.Context, token string) error {
	return b.manager.Load(ctx, token)
}

// Manager exposes the underlying consent manager.
func (b *Banner) Manager() *consent.Manager { return b.manager }

// Gate exposes the underlying script gate.
func (b *Banner) Gate() *scriptgate.Gate { return b.gate }

// Events exposes the dispatcher for listener registration.
func (b *Banner) Events() *events.Dispatcher { return b.events }

// On registers an event listener and returns the unsubscribe function.
func (b *Banner) On(name string, listener events.Listener, priority int) func() {
	return b.events.On(name, listener, priority)
}

// Once registers a listener removed after its first invocation.
func (b *Banner) Once(name string, listener events.Listener, priority int) func() {
	return b.events.Once(name, listener, priority)
}

func (b *Banner) HasConsent() bool                   { return b.manager.HasConsent() }
func (b *Banner) HasConsentFor(category string) bool { return b.manager.HasConsentFor(category) }
func (b *Banner) ShouldShowBanner() bool             { return b.manager.ShouldShowBanner() }

// RegisterScript registers gated markup under an ID.
func (b *Banner) RegisterScript(id, category, markup, provider string) *Banner {
	b.gate.RegisterScript(id, category, markup, provider, nil)
	return b
}

// RegisterProvider adds a URL-pattern provider to the gate.
func (b *Banner) RegisterProvider(name, category string, patterns []string) *Banner {
	b.gate.RegisterProvider(name, category, patterns)
	return b
}

// RenderScript renders one registered script, gated on consent.
func (b *Banner) RenderScript(id string) string { return b.gate.RenderScript(id) }

// RenderAllScripts renders every registered script in registration order.
func (b *Banner) RenderAllScripts() string { return b.gate.RenderAll() }

// ClientConfig is the bootstrap payload the browser runtime reads.
type ClientConfig struct {
	CookieName     string                       `json:"cookieName"`
	CookieExpiry   int                          `json:"cookieExpiry"`
	CookiePath     string                       `json:"cookiePath"`
	CookieDomain   string                       `json:"cookieDomain,omitempty"`
	CookieSecure   bool                         `json:"cookieSecure"`
	CookieSameSite string                       `json:"cookieSameSite"`
	AutoBlock      bool                         `json:"autoBlock"`
	Categories     []consent.CategoryDefinition `json:"categories"`
	Patterns       []scriptgate.ClientPattern   `json:"blockerPatterns"`
	Consent        consent.ClientState          `json:"consent"`
	ShowBanner     bool                         `json:"showBanner"`
	APIURL         string                       `json:"apiUrl,omitempty"`
}

// ClientConfig assembles the full browser bootstrap from the cookie settings,
// the category registry, the gate's pattern table, and the consent snapshot.
func (b *Banner) ClientConfig(apiURL string) ClientConfig {
	cookie := b.manager.CookieSettings()
	return ClientConfig{
		CookieName:     cookie.Name,
		CookieExpiry:   cookie.ExpiryDays,
		CookiePath:     cookie.Path,
		CookieDomain:   cookie.Domain,
		CookieSecure:   cookie.Secure,
		CookieSameSite: cookie.SameSite,
		AutoBlock:      b.gate.ClientConfig().Enabled,
		Categories:     b.categories.Definitions(),
		Patterns:       b.gate.ClientConfig().Patterns,
		Consent:        b.manager.ClientStateSnapshot(),
		ShowBanner:     b.ShouldShowBanner(),
		APIURL:         apiURL,
	}
}

// Action names accepted by HandleAction.
const (
	ActionGetConsent      = "get_consent"
	ActionGiveConsent     = "give_consent"
	ActionAcceptAll       = "accept_all"
	ActionRejectAll       = "reject_all"
	ActionWithdrawConsent = "withdraw_consent"
)

// Request is one decoded action envelope from the browser agent. PageURL and
// Referrer are self-reported by the agent, which sees both where the server
// only sees a Referer header.
type Request struct {
	Action          string          `json:"action"`
	Categories      []string        `json:"categories,omitempty"`
	Method          string          `json:"method,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	PageURL         string          `json:"page_url,omitempty"`
	Referrer        string          `json:"referrer,omitempty"`
	PreviousConsent *consent.Record `json:"previous_consent,omitempty"`
}

// Response is the action result envelope. Unknown actions are a soft error:
// Success false with an Error string, never a transport failure.
type Response struct {
	Success        bool                    `json:"success"`
	Data           any                     `json:"data,omitempty"`
	Cookie         string                  `json:"cookie,omitempty"`
	CookieSettings *consent.CookieSettings `json:"cookieSettings,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// HandleAction runs one consent action against the loaded state. Grant-family
// actions return the fresh token and cookie settings so the caller can
// persist the cookie; storage failures propagate as errors.
func (b *Banner) HandleAction(ctx context.Context, req Request) (Response, error) {
	method := consent.Method(req.Method)
	if method == "" {
		method = consent.MethodAPI
	}

	switch req.Action {
	case ActionGetConsent:
		return Response{Success: true, Data: b.manager.ClientStateSnapshot()}, nil

	case ActionGiveConsent:
		if len(req.Categories) == 0 {
			return Response{Success: false}, nil
		}
		record, err := b.manager.Grant(ctx, req.Categories, method, req.Metadata, req.PreviousConsent)
		if err != nil {
			return Response{Success: false}, err
		}
		return b.grantResponse(record), nil

	case ActionAcceptAll:
		record, err := b.manager.AcceptAll(ctx, method, req.Metadata)
		if err != nil {
			return Response{Success: false}, err
		}
		return b.grantResponse(record), nil

	case ActionRejectAll:
		record, err := b.manager.RejectAll(ctx, method, req.Metadata)
		if err != nil {
			return Response{Success: false}, err
		}
		return b.grantResponse(record), nil

	case ActionWithdrawConsent:
		if err := b.manager.Withdraw(ctx, req.Metadata, req.PreviousConsent); err != nil {
			return Response{Success: false}, err
		}
		return Response{Success: true, Data: map[string]any{"withdrawn": true}}, nil

	default:
		return Response{Success: false, Error: "Unknown action"}, nil
	}
}

func (b *Banner) grantResponse(record *consent.Record) Response {
	cookie := b.manager.CookieSettings()
	return Response{
		Success:        true,
		Data:           record,
		Cookie:         b.manager.Token(),
		CookieSettings: &cookie,
	}
}
