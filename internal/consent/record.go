package consent

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net"
	"time"

	"github.com/google/uuid"
)

// Method describes how a consent decision was made.
type Method string

const (
	MethodBanner      Method = "banner"
	MethodPreferences Method = "preferences"
	MethodAcceptAll   Method = "accept_all"
	MethodRejectAll   Method = "reject_all"
	MethodAPI         Method = "api"
)

// RequestInfo carries the request-scoped facts captured by the host
// integration layer. The consent core never reads ambient request state.
type RequestInfo struct {
	IPAddress  string
	UserAgent  string
	PageURL    string
	Referrer   string
	DoNotTrack bool
}

// Record is one immutable snapshot of a visitor's category decision. Every
// consent-changing action produces a new record chained through Previous;
// records are never mutated after creation.
type Record struct {
	ConsentID      string
	Accepted       []string
	Rejected       []string
	Timestamp      time.Time
	UserIdentifier string
	IPAddress      string
	UserAgent      string
	PageURL        string
	Referrer       string
	Method         Method
	Previous       *Record
	Metadata       map[string]any
}

// RecordParams collects the inputs for NewRecord. Zero values get sensible
// defaults: a minted ConsentID and the current time.
type RecordParams struct {
	Accepted       []string
	Rejected       []string
	ConsentID      string
	UserIdentifier string
	Timestamp      time.Time
	Method         Method
	Previous       *Record
	Metadata       map[string]any
	Request        RequestInfo
}

// NewRecord builds a record. The consent ID is minted locally; a peer that
// independently originates the same logical decision will mint a different
// one, which the reconciliation protocol tolerates by design.
func NewRecord(p RecordParams) *Record {
	if p.ConsentID == "" {
		p.ConsentID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	if p.Method == "" {
		p.Method = MethodBanner
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	return &Record{
		ConsentID:      p.ConsentID,
		Accepted:       append([]string(nil), p.Accepted...),
		Rejected:       append([]string(nil), p.Rejected...),
		Timestamp:      p.Timestamp,
		UserIdentifier: p.UserIdentifier,
		IPAddress:      p.Request.IPAddress,
		UserAgent:      p.Request.UserAgent,
		PageURL:        p.Request.PageURL,
		Referrer:       p.Request.Referrer,
		Method:         p.Method,
		Previous:       p.Previous,
		Metadata:       p.Metadata,
	}
}

// HasCategory reports whether the record accepts the given category.
func (r *Record) HasCategory(category string) bool {
	for _, c := range r.Accepted {
		if c == category {
			return true
		}
	}
	return false
}

// IsAllAccepted reports whether nothing was rejected.
func (r *Record) IsAllAccepted() bool { return len(r.Rejected) == 0 }

// AnonymizedIP returns the captured IP with the host portion zeroed: the last
// octet for IPv4, the last group for IPv6. Unparseable input maps to 0.0.0.0.
func (r *Record) AnonymizedIP() string {
	ip := net.ParseIP(r.IPAddress)
	if ip == nil {
		return "0.0.0.0"
	}
	if v4 := ip.To4(); v4 != nil {
		masked := make(net.IP, len(v4))
		copy(masked, v4)
		masked[3] = 0
		return masked.String()
	}
	masked := make(net.IP, len(ip))
	copy(masked, ip)
	masked[14], masked[15] = 0, 0
	return masked.String()
}

// proofPayload fixes field order so the digest is reproducible across
// processes without re-exposing raw PII.
type proofPayload struct {
	ConsentID string   `json:"consent_id"`
	Timestamp string   `json:"timestamp"`
	Accepted  []string `json:"accepted"`
	Rejected  []string `json:"rejected"`
	IPHash    string   `json:"ip_hash"`
	UAHash    string   `json:"ua_hash"`
}

// Proof derives an externally verifiable commitment over the decision:
// category lists, timestamp, and hashed IP/UA.
func (r *Record) Proof() string {
	ipHash := sha256.Sum256([]byte(r.IPAddress))
	uaHash := sha256.Sum256([]byte(r.UserAgent))
	payload, _ := json.Marshal(proofPayload{
		ConsentID: r.ConsentID,
		Timestamp: r.Timestamp.Format(time.RFC3339),
		Accepted:  r.Accepted,
		Rejected:  r.Rejected,
		IPHash:    hex.EncodeToString(ipHash[:]),
		UAHash:    hex.EncodeToString(uaHash[:]),
	})
	return base64.StdEncoding.EncodeToString(payload)
}

// wireRecord is the JSON shape shared with the browser agent and legacy
// cookies. ip_anonymized and consent_proof are derived on marshal and ignored
// on unmarshal.
type wireRecord struct {
	ConsentID      string         `json:"consent_id"`
	Accepted       []string       `json:"accepted_categories"`
	Rejected       []string       `json:"rejected_categories"`
	Timestamp      time.Time      `json:"timestamp"`
	UserIdentifier string         `json:"user_identifier,omitempty"`
	IPAddress      string         `json:"ip_address"`
	IPAnonymized   string         `json:"ip_anonymized,omitempty"`
	UserAgent      string         `json:"user_agent"`
	PageURL        string         `json:"page_url"`
	Referrer       string         `json:"referrer"`
	Method         Method         `json:"consent_method"`
	Previous       *Record        `json:"previous_consent,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Proof          string         `json:"consent_proof,omitempty"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		ConsentID:      r.ConsentID,
		Accepted:       r.Accepted,
		Rejected:       r.Rejected,
		Timestamp:      r.Timestamp,
		UserIdentifier: r.UserIdentifier,
		IPAddress:      r.IPAddress,
		IPAnonymized:   r.AnonymizedIP(),
		UserAgent:      r.UserAgent,
		PageURL:        r.PageURL,
		Referrer:       r.Referrer,
		Method:         r.Method,
		Previous:       r.Previous,
		Metadata:       r.Metadata,
		Proof:          r.Proof(),
	})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Record{
		ConsentID:      w.ConsentID,
		Accepted:       w.Accepted,
		Rejected:       w.Rejected,
		Timestamp:      w.Timestamp,
		UserIdentifier: w.UserIdentifier,
		IPAddress:      w.IPAddress,
		UserAgent:      w.UserAgent,
		PageURL:        w.PageURL,
		Referrer:       w.Referrer,
		Method:         w.Method,
		Previous:       w.Previous,
		Metadata:       w.Metadata,
	}
	return nil
}

// Valid checks the category invariants against a registry: accepted and
// rejected are disjoint, their union covers the configured key set, and every
// required category is accepted.
func (r *Record) Valid(categories *Registry) bool {
	seen := make(map[string]bool, len(r.Accepted)+len(r.Rejected))
	for _, c := range r.Accepted {
		if seen[c] || !categories.Has(c) {
			return false
		}
		seen[c] = true
	}
	for _, c := range r.Rejected {
		if seen[c] || !categories.Has(c) {
			return false
		}
		seen[c] = true
	}
	if len(seen) != categories.Len() {
		return false
	}
	for _, req := range categories.RequiredKeys() {
		if !r.HasCategory(req) {
			return false
		}
	}
	return true
}
