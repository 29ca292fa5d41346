package consent

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type RecordSuite struct {
	suite.Suite
	registry *Registry
}

func TestRecordSuite(t *testing.T) {
	suite.Run(t, new(RecordSuite))
}

func (s *RecordSuite) SetupTest() {
	s.registry = DefaultRegistry()
}

func (s *RecordSuite) TestNewRecordDefaults() {
	rec := NewRecord(RecordParams{Accepted: []string{"necessary"}})

	s.NotEmpty(rec.ConsentID)
	s.False(rec.Timestamp.IsZero())
	s.Equal(MethodBanner, rec.Method)
	s.NotNil(rec.Metadata)
}

func (s *RecordSuite) TestAnonymizedIP() {
	s.Run("ipv4 zeroes last octet", func() {
		rec := &Record{IPAddress: "203.0.113.42"}
		s.Equal("203.0.113.0", rec.AnonymizedIP())
	})

	s.Run("ipv6 zeroes last group", func() {
		rec := &Record{IPAddress: "2001:db8::abcd:1234"}
		s.Equal("2001:db8::abcd:0", rec.AnonymizedIP())
	})

	s.Run("garbage maps to zero address", func() {
		rec := &Record{IPAddress: "not-an-ip"}
		s.Equal("0.0.0.0", rec.AnonymizedIP())
	})

	s.Run("empty maps to zero address", func() {
		rec := &Record{}
		s.Equal("0.0.0.0", rec.AnonymizedIP())
	})
}

func (s *RecordSuite) TestProofDigest() {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		ConsentID: "abc-123",
		Accepted:  []string{"necessary", "analytics"},
		Rejected:  []string{"functional", "marketing", "advertising"},
		Timestamp: ts,
		IPAddress: "203.0.113.42",
		UserAgent: "Mozilla/5.0",
	}

	decoded, err := base64.StdEncoding.DecodeString(rec.Proof())
	s.Require().NoError(err)

	var payload map[string]any
	s.Require().NoError(json.Unmarshal(decoded, &payload))

	s.Equal("abc-123", payload["consent_id"])
	s.Equal(ts.Format(time.RFC3339), payload["timestamp"])

	ipHash := sha256.Sum256([]byte("203.0.113.42"))
	s.Equal(hex.EncodeToString(ipHash[:]), payload["ip_hash"])

	uaHash := sha256.Sum256([]byte("Mozilla/5.0"))
	s.Equal(hex.EncodeToString(uaHash[:]), payload["ua_hash"])

	s.Run("deterministic for equal records", func() {
		other := *rec
		s.Equal(rec.Proof(), (&other).Proof())
	})
}

func (s *RecordSuite) TestJSONWireFormat() {
	rec := NewRecord(RecordParams{
		Accepted:  []string{"necessary"},
		Rejected:  []string{"functional", "analytics", "marketing", "advertising"},
		Method:    MethodRejectAll,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Request:   RequestInfo{IPAddress: "203.0.113.42", UserAgent: "curl/8"},
	})

	raw, err := json.Marshal(rec)
	s.Require().NoError(err)

	var wire map[string]any
	s.Require().NoError(json.Unmarshal(raw, &wire))

	s.Run("derived fields present on the wire", func() {
		s.Equal("203.0.113.0", wire["ip_anonymized"])
		s.NotEmpty(wire["consent_proof"])
		s.Equal("reject_all", wire["consent_method"])
	})

	s.Run("round trip preserves the decision", func() {
		var back Record
		s.Require().NoError(json.Unmarshal(raw, &back))
		s.Equal(rec.ConsentID, back.ConsentID)
		s.Equal(rec.Accepted, back.Accepted)
		s.Equal(rec.Rejected, back.Rejected)
		s.Equal(rec.Method, back.Method)
	})

	s.Run("derived fields in input are ignored", func() {
		var back Record
		s.Require().NoError(json.Unmarshal([]byte(`{
			"consent_id": "x",
			"accepted_categories": ["necessary"],
			"rejected_categories": [],
			"ip_address": "203.0.113.42",
			"ip_anonymized": "9.9.9.9",
			"consent_proof": "forged"
		}`), &back))
		s.Equal("203.0.113.0", back.AnonymizedIP())
	})
}

func (s *RecordSuite) TestValid() {
	s.Run("complete disjoint partition with required accepted", func() {
		rec := &Record{
			Accepted: []string{"necessary", "analytics"},
			Rejected: []string{"functional", "marketing", "advertising"},
		}
		s.True(rec.Valid(s.registry))
	})

	s.Run("overlap between accepted and rejected", func() {
		rec := &Record{
			Accepted: []string{"necessary", "analytics"},
			Rejected: []string{"analytics", "functional", "marketing", "advertising"},
		}
		s.False(rec.Valid(s.registry))
	})

	s.Run("union not covering the universe", func() {
		rec := &Record{
			Accepted: []string{"necessary"},
			Rejected: []string{"functional"},
		}
		s.False(rec.Valid(s.registry))
	})

	s.Run("required category rejected", func() {
		rec := &Record{
			Accepted: []string{"functional", "analytics", "marketing"},
			Rejected: []string{"necessary", "advertising"},
		}
		s.False(rec.Valid(s.registry))
	})

	s.Run("unknown category", func() {
		rec := &Record{
			Accepted: []string{"necessary", "mystery"},
			Rejected: []string{"functional", "analytics", "marketing", "advertising"},
		}
		s.False(rec.Valid(s.registry))
	})
}

func (s *RecordSuite) TestRegistryConfiguration() {
	s.Run("duplicate key rejected", func() {
		_, err := NewRegistry(
			CategoryDefinition{Key: "a"},
			CategoryDefinition{Key: "a"},
		)
		s.Error(err)
	})

	s.Run("empty key rejected", func() {
		_, err := NewRegistry(CategoryDefinition{Key: ""})
		s.Error(err)
	})

	s.Run("declaration order preserved", func() {
		r, err := NewRegistry(
			CategoryDefinition{Key: "z", Required: true},
			CategoryDefinition{Key: "a"},
		)
		s.Require().NoError(err)
		s.Equal([]string{"z", "a"}, r.Keys())
		s.Equal([]string{"z"}, r.RequiredKeys())
		s.Equal([]string{"a"}, r.OptionalKeys())
	})

	s.Run("remove unknown key is a no-op", func() {
		r := DefaultRegistry()
		before := r.Len()
		r.Remove("nope")
		s.Equal(before, r.Len())
	})
}
