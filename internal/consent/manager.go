package consent

import (
	"context"
	"fmt"
	"time"

	"consentgate/internal/events"
	dErrors "consentgate/pkg/domain-errors"
	pstrings "consentgate/pkg/platform/strings"
)

// CookieSettings are the attributes the caller must reapply on every cookie
// write. The protocol never assumes a shared cookie jar between the server and
// the browser agent, so grant responses carry these alongside the token.
type CookieSettings struct {
	Name       string `json:"name"`
	ExpiryDays int    `json:"expiry"`
	Path       string `json:"path"`
	Domain     string `json:"domain"`
	Secure     bool   `json:"secure"`
	SameSite   string `json:"samesite"`
}

// BannerOptions tune when the banner is shown again.
type BannerOptions struct {
	ShowOnlyOnce      bool
	RespectDoNotTrack bool
}

// Clock is injected for testability (defaults to time.Now).
type Clock func() time.Time

// Manager owns the current consent record for one request context and applies
// every state transition. It is not safe for concurrent use; each request gets
// its own instance, and durable state lives behind the Store.
type Manager struct {
	categories *Registry
	store      Store
	events     *events.Dispatcher
	cookie     CookieSettings
	opts       BannerOptions
	request    RequestInfo

	userIdentifier string
	current        *Record
	token          string
	clock          Clock
}

// ManagerOption configures a Manager instance.
type ManagerOption func(*Manager)

// WithClock sets the clock function for testability.
func WithClock(clock Clock) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithUserIdentifier associates subsequent records with a caller-supplied
// opaque identifier (e.g. a hash of the account id).
func WithUserIdentifier(id string) ManagerOption {
	return func(m *Manager) { m.userIdentifier = id }
}

// NewManager wires a per-request state manager. Request facts (IP, UA, page,
// referrer, DNT) come from the integration layer, never from ambient state.
func NewManager(
	categories *Registry,
	store Store,
	dispatcher *events.Dispatcher,
	cookie CookieSettings,
	opts BannerOptions,
	request RequestInfo,
	mopts ...ManagerOption,
) *Manager {
	m := &Manager{
		categories: categories,
		store:      store,
		events:     dispatcher,
		cookie:     cookie,
		opts:       opts,
		request:    request,
		clock:      time.Now,
	}
	for _, opt := range mopts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Load resolves the token from the incoming cookie into the current record.
// Malformed or tampered tokens, backend read failures, and records violating
// the category invariants all degrade to "no consent" (the banner shows
// again); the error is returned for observability only and never leaves the
// manager in a half-loaded state.
func (m *Manager) Load(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	record, err := m.store.Retrieve(ctx, token)
	if err != nil {
		m.current, m.token = nil, ""
		return fmt.Errorf("load consent token: %w", err)
	}
	if record == nil {
		m.current, m.token = nil, ""
		return nil
	}
	// A stored record must still satisfy the configured universe: accepted
	// and rejected disjoint, covering every key, required keys accepted. A
	// record that fails this (crafted cookie, category config drift) must
	// not become authoritative.
	if !record.Valid(m.categories) {
		m.current, m.token = nil, ""
		return fmt.Errorf("load consent token: record violates category invariants")
	}
	m.current = record
	m.token = token
	return nil
}

// HasConsent reports whether a consent record is currently loaded.
func (m *Manager) HasConsent() bool { return m.current != nil }

// Current returns the live record, or nil.
func (m *Manager) Current() *Record { return m.current }

// Token returns the storage token backing the live record, or "".
func (m *Manager) Token() string { return m.token }

// CookieSettings returns the attributes to apply when persisting the token.
func (m *Manager) CookieSettings() CookieSettings { return m.cookie }

// HasConsentFor reports whether the given category may be used. Without a
// record this fails closed for optional categories and open only for required
// ones.
func (m *Manager) HasConsentFor(category string) bool {
	if m.current == nil {
		def, ok := m.categories.Get(category)
		return ok && def.Required
	}
	return m.current.HasCategory(category)
}

// AcceptedCategories returns the accepted set, defaulting to the required
// keys when no consent exists.
func (m *Manager) AcceptedCategories() []string {
	if m.current == nil {
		return m.categories.RequiredKeys()
	}
	return append([]string(nil), m.current.Accepted...)
}

// RejectedCategories returns the rejected set, defaulting to the optional
// keys when no consent exists.
func (m *Manager) RejectedCategories() []string {
	if m.current == nil {
		return m.categories.OptionalKeys()
	}
	return append([]string(nil), m.current.Rejected...)
}

// Grant records a consent decision for the requested categories.
//
// Required categories are force-added regardless of caller input (a
// correctable input, not an error); unknown keys are dropped; the rejected
// set is the configured universe minus accepted. Whether this is an update is
// decided by the metadata is_update flag when present, else by the presence
// of a previous record — where the peer-supplied one outranks the locally
// loaded one so both writers classify the action identically.
//
// The new record is persisted first and committed to memory only on success:
// a manager must never advertise consent that was not durably stored.
func (m *Manager) Grant(
	ctx context.Context,
	requested []string,
	method Method,
	metadata map[string]any,
	peerPrevious *Record,
) (*Record, error) {
	accepted := m.normalizeAccepted(requested)
	rejected := m.complement(accepted)

	previous := peerPrevious
	if previous == nil {
		previous = m.current
	}
	isUpdate := previous != nil
	if metadata != nil {
		if flag, ok := metadata["is_update"].(bool); ok {
			isUpdate = flag
		}
	}
	if !isUpdate {
		previous = nil
	}

	record := NewRecord(RecordParams{
		Accepted:       accepted,
		Rejected:       rejected,
		UserIdentifier: m.userIdentifier,
		Timestamp:      m.clock().UTC(),
		Method:         method,
		Previous:       previous,
		Metadata:       metadata,
		Request:        m.request,
	})

	token, err := m.persist(ctx, record)
	if err != nil {
		return nil, err
	}

	m.current = record
	m.token = token

	eventType := EventGiven
	if isUpdate {
		eventType = EventUpdated
	}
	m.events.Dispatch(&Event{Type: eventType, Record: record})

	return record, nil
}

// AcceptAll grants every configured category.
func (m *Manager) AcceptAll(ctx context.Context, method Method, metadata map[string]any) (*Record, error) {
	return m.Grant(ctx, m.categories.Keys(), method, metadata, nil)
}

// RejectAll grants only the required categories.
func (m *Manager) RejectAll(ctx context.Context, method Method, metadata map[string]any) (*Record, error) {
	return m.Grant(ctx, m.categories.RequiredKeys(), method, metadata, nil)
}

// Withdraw deletes the stored record and clears the live state. When the
// local state never loaded a record (expired cookie, cleared storage) the
// peer-supplied snapshot is used so subscribers still learn what was
// withdrawn. Calling Withdraw with nothing to withdraw is a no-op.
func (m *Manager) Withdraw(ctx context.Context, metadata map[string]any, peerSnapshot *Record) error {
	resolved := m.current
	if resolved == nil {
		resolved = peerSnapshot
	}
	if resolved == nil {
		return nil
	}

	if m.token != "" {
		if _, err := m.store.Delete(ctx, m.token); err != nil {
			return dErrors.Wrap(dErrors.CodeStorage, "delete consent record", err)
		}
	}

	m.current = nil
	m.token = ""
	m.events.Dispatch(&Event{Type: EventWithdrawn, Record: resolved, Additional: metadata})
	return nil
}

// ShouldShowBanner decides whether the banner renders for this request.
func (m *Manager) ShouldShowBanner() bool {
	if m.opts.ShowOnlyOnce && m.HasConsent() {
		return false
	}
	if m.opts.RespectDoNotTrack && m.request.DoNotTrack {
		return false
	}
	return !m.HasConsent()
}

// ClientState is the consent summary handed to the browser agent.
type ClientState struct {
	HasConsent bool       `json:"hasConsent"`
	Accepted   []string   `json:"accepted"`
	Rejected   []string   `json:"rejected"`
	ConsentID  string     `json:"consentId,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// ClientStateSnapshot summarizes the current state for the browser agent.
func (m *Manager) ClientStateSnapshot() ClientState {
	state := ClientState{
		HasConsent: m.HasConsent(),
		Accepted:   m.AcceptedCategories(),
		Rejected:   m.RejectedCategories(),
	}
	if m.current != nil {
		state.ConsentID = m.current.ConsentID
		ts := m.current.Timestamp
		state.Timestamp = &ts
	}
	return state
}

// normalizeAccepted dedupes, drops unknown keys, and force-adds required
// categories, returning keys in registry order.
func (m *Manager) normalizeAccepted(requested []string) []string {
	include := make(map[string]bool, len(requested))
	for _, key := range pstrings.DedupeAndTrimLower(requested) {
		if m.categories.Has(key) {
			include[key] = true
		}
	}
	for _, key := range m.categories.RequiredKeys() {
		include[key] = true
	}
	var accepted []string
	for _, key := range m.categories.Keys() {
		if include[key] {
			accepted = append(accepted, key)
		}
	}
	return accepted
}

func (m *Manager) complement(accepted []string) []string {
	in := make(map[string]bool, len(accepted))
	for _, key := range accepted {
		in[key] = true
	}
	var rejected []string
	for _, key := range m.categories.Keys() {
		if !in[key] {
			rejected = append(rejected, key)
		}
	}
	return rejected
}

// persist writes the record through the store: update-in-place when a live
// token exists and the adapter supports it, else create. Storage errors
// propagate untouched so the caller can fail its transaction.
func (m *Manager) persist(ctx context.Context, record *Record) (string, error) {
	if m.token != "" {
		ok, err := m.store.Update(ctx, m.token, record)
		if err != nil {
			return "", dErrors.Wrap(dErrors.CodeStorage, "update consent record", err)
		}
		if ok {
			return m.token, nil
		}
	}
	token, err := m.store.Store(ctx, record)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeStorage, "store consent record", err)
	}
	return token, nil
}
