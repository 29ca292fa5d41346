package consent_test

//go:generate mockgen -source=store.go -destination=mocks/store_mock.go -package=mocks Store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"consentgate/internal/consent"
	"consentgate/internal/consent/mocks"
	"consentgate/internal/events"
	dErrors "consentgate/pkg/domain-errors"
)

// =============================================================================
// Consent Manager Test Suite
// =============================================================================
// Justification for unit tests: the manager owns every consent state
// transition. Tests verify category normalization, the persist-then-commit
// ordering, dual-writer reconciliation inputs, withdrawal semantics, and
// banner visibility rules against a mocked store.

type ManagerSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	store      *mocks.MockStore
	dispatcher *events.Dispatcher
	registry   *consent.Registry
	now        time.Time
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.dispatcher = events.NewDispatcher()
	s.registry = consent.DefaultRegistry()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *ManagerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ManagerSuite) newManager(opts ...consent.ManagerOption) *consent.Manager {
	opts = append([]consent.ManagerOption{consent.WithClock(func() time.Time { return s.now })}, opts...)
	return consent.NewManager(
		s.registry,
		s.store,
		s.dispatcher,
		consent.CookieSettings{Name: "cg_cookie_consent", ExpiryDays: 365, Path: "/", SameSite: "Lax"},
		consent.BannerOptions{ShowOnlyOnce: true},
		consent.RequestInfo{IPAddress: "203.0.113.42", UserAgent: "go-test"},
		opts...,
	)
}

// storedRecord builds a record satisfying the registry invariants, the way a
// real grant would have persisted it.
func (s *ManagerSuite) storedRecord(id string, accepted ...string) *consent.Record {
	var rejected []string
	for _, key := range s.registry.Keys() {
		found := false
		for _, a := range accepted {
			if a == key {
				found = true
				break
			}
		}
		if !found {
			rejected = append(rejected, key)
		}
	}
	return consent.NewRecord(consent.RecordParams{ConsentID: id, Accepted: accepted, Rejected: rejected})
}

func (s *ManagerSuite) collectEvents() *[]*consent.Event {
	var got []*consent.Event
	s.dispatcher.On(events.Wildcard, func(ev events.Event) {
		if ce, ok := ev.(*consent.Event); ok {
			got = append(got, ce)
		}
	}, 0)
	return &got
}

// =============================================================================
// Grant
// =============================================================================

func (s *ManagerSuite) TestGrantNormalization() {
	s.Run("unknown keys dropped, required force-added", func() {
		m := s.newManager()
		s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok-1", nil)

		rec, err := m.Grant(context.Background(), []string{"analytics", "mystery"}, consent.MethodBanner, nil, nil)
		s.Require().NoError(err)

		s.Equal([]string{"necessary", "analytics"}, rec.Accepted)
		s.Equal([]string{"functional", "marketing", "advertising"}, rec.Rejected)
		s.True(rec.Valid(s.registry))
	})

	s.Run("duplicates collapse", func() {
		m := s.newManager()
		s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok-2", nil)

		rec, err := m.Grant(context.Background(), []string{"analytics", "analytics", "necessary"}, consent.MethodBanner, nil, nil)
		s.Require().NoError(err)
		s.Equal([]string{"necessary", "analytics"}, rec.Accepted)
	})

	s.Run("keys are trimmed and lowercased", func() {
		m := s.newManager()
		s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok-4", nil)

		rec, err := m.Grant(context.Background(), []string{" Analytics ", "MARKETING"}, consent.MethodBanner, nil, nil)
		s.Require().NoError(err)
		s.Equal([]string{"necessary", "analytics", "marketing"}, rec.Accepted)
	})

	s.Run("empty request still accepts required", func() {
		m := s.newManager()
		s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok-3", nil)

		rec, err := m.Grant(context.Background(), nil, consent.MethodBanner, nil, nil)
		s.Require().NoError(err)
		s.Equal([]string{"necessary"}, rec.Accepted)
		s.Len(rec.Rejected, 4)
	})
}

func (s *ManagerSuite) TestGrantCommitsOnlyAfterPersist() {
	m := s.newManager()
	bang := errors.New("backend down")
	s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("", bang)

	got := s.collectEvents()
	_, err := m.Grant(context.Background(), []string{"analytics"}, consent.MethodBanner, nil, nil)

	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeStorage))
	s.ErrorIs(err, bang)
	s.False(m.HasConsent(), "failed grant must not advertise consent")
	s.Empty(m.Token())
	s.Empty(*got, "no event may fire for an unpersisted decision")
}

func (s *ManagerSuite) TestGrantUpdateClassification() {
	s.Run("first decision dispatches consent.given", func() {
		m := s.newManager()
		s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok-1", nil)

		got := s.collectEvents()
		rec, err := m.Grant(context.Background(), []string{"analytics"}, consent.MethodBanner, nil, nil)
		s.Require().NoError(err)

		s.Require().Len(*got, 1)
		s.Equal(consent.EventGiven, (*got)[0].Type)
		s.Nil(rec.Previous)
	})

	s.Run("loaded record makes the next grant an update", func() {
		prev := s.storedRecord("", "necessary")
		m := s.newManager()
		s.store.EXPECT().Retrieve(gomock.Any(), "tok-old").Return(prev, nil)
		s.store.EXPECT().Update(gomock.Any(), "tok-old", gomock.Any()).Return(true, nil)
		s.Require().NoError(m.Load(context.Background(), "tok-old"))

		got := s.collectEvents()
		rec, err := m.Grant(context.Background(), []string{"analytics"}, consent.MethodPreferences, nil, nil)
		s.Require().NoError(err)

		s.Require().Len(*got, 1)
		s.Equal(consent.EventUpdated, (*got)[0].Type)
		s.Same(prev, rec.Previous)
		s.Equal("tok-old", m.Token(), "in-place update keeps the token")
	})

	s.Run("peer snapshot outranks empty local state", func() {
		peer := consent.NewRecord(consent.RecordParams{ConsentID: "peer-id", Accepted: []string{"necessary"}})
		m := s.newManager()
		s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok-new", nil)

		got := s.collectEvents()
		rec, err := m.Grant(context.Background(), []string{"analytics"}, consent.MethodBanner, nil, peer)
		s.Require().NoError(err)

		s.Equal(consent.EventUpdated, (*got)[0].Type)
		s.Equal("peer-id", rec.Previous.ConsentID)
	})

	s.Run("is_update metadata overrides record presence", func() {
		prev := s.storedRecord("", "necessary")
		m := s.newManager()
		s.store.EXPECT().Retrieve(gomock.Any(), "tok-old").Return(prev, nil)
		s.store.EXPECT().Update(gomock.Any(), "tok-old", gomock.Any()).Return(true, nil)
		s.Require().NoError(m.Load(context.Background(), "tok-old"))

		got := s.collectEvents()
		rec, err := m.Grant(context.Background(), []string{"analytics"}, consent.MethodBanner,
			map[string]any{"is_update": false}, nil)
		s.Require().NoError(err)

		s.Equal(consent.EventGiven, (*got)[0].Type)
		s.Nil(rec.Previous, "forced first-consent drops the chain")
	})
}

func (s *ManagerSuite) TestGrantRemintsWhenUpdateUnsupported() {
	// Value-carrying adapters report Update as (false, nil); the manager must
	// fall through to Store and adopt the fresh token.
	prev := s.storedRecord("", "necessary")
	m := s.newManager()
	s.store.EXPECT().Retrieve(gomock.Any(), "tok-old").Return(prev, nil)
	s.store.EXPECT().Update(gomock.Any(), "tok-old", gomock.Any()).Return(false, nil)
	s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok-new", nil)
	s.Require().NoError(m.Load(context.Background(), "tok-old"))

	_, err := m.Grant(context.Background(), []string{"analytics"}, consent.MethodBanner, nil, nil)
	s.Require().NoError(err)
	s.Equal("tok-new", m.Token())
}

// =============================================================================
// AcceptAll / RejectAll
// =============================================================================

func (s *ManagerSuite) TestAcceptAllAndRejectAll() {
	s.Run("accept all covers the universe", func() {
		m := s.newManager()
		s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok", nil)

		rec, err := m.AcceptAll(context.Background(), consent.MethodAcceptAll, nil)
		s.Require().NoError(err)
		s.Equal(s.registry.Keys(), rec.Accepted)
		s.Empty(rec.Rejected)
		s.True(rec.IsAllAccepted())
	})

	s.Run("reject all keeps only required", func() {
		m := s.newManager()
		s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok", nil)

		rec, err := m.RejectAll(context.Background(), consent.MethodRejectAll, nil)
		s.Require().NoError(err)
		s.Equal([]string{"necessary"}, rec.Accepted)
		s.Equal(s.registry.OptionalKeys(), rec.Rejected)
	})
}

// =============================================================================
// Withdraw
// =============================================================================

func (s *ManagerSuite) TestWithdraw() {
	s.Run("deletes stored record and dispatches the withdrawn snapshot", func() {
		prev := s.storedRecord("cid", "necessary", "analytics")
		m := s.newManager()
		s.store.EXPECT().Retrieve(gomock.Any(), "tok").Return(prev, nil)
		s.store.EXPECT().Delete(gomock.Any(), "tok").Return(true, nil)
		s.Require().NoError(m.Load(context.Background(), "tok"))

		got := s.collectEvents()
		s.Require().NoError(m.Withdraw(context.Background(), map[string]any{"reason": "user"}, nil))

		s.False(m.HasConsent())
		s.Empty(m.Token())
		s.Require().Len(*got, 1)
		s.Equal(consent.EventWithdrawn, (*got)[0].Type)
		s.Equal("cid", (*got)[0].Record.ConsentID)
		s.Equal("user", (*got)[0].Additional["reason"])
	})

	s.Run("no local state falls back to peer snapshot", func() {
		peer := consent.NewRecord(consent.RecordParams{ConsentID: "peer-cid", Accepted: []string{"necessary"}})
		m := s.newManager()

		got := s.collectEvents()
		s.Require().NoError(m.Withdraw(context.Background(), nil, peer))

		s.Require().Len(*got, 1)
		s.Equal("peer-cid", (*got)[0].Record.ConsentID)
	})

	s.Run("nothing to withdraw is a no-op", func() {
		m := s.newManager()
		got := s.collectEvents()
		s.Require().NoError(m.Withdraw(context.Background(), nil, nil))
		s.Empty(*got)
	})

	s.Run("delete failure propagates and keeps state", func() {
		prev := s.storedRecord("", "necessary")
		m := s.newManager()
		s.store.EXPECT().Retrieve(gomock.Any(), "tok").Return(prev, nil)
		s.store.EXPECT().Delete(gomock.Any(), "tok").Return(false, errors.New("backend down"))
		s.Require().NoError(m.Load(context.Background(), "tok"))

		err := m.Withdraw(context.Background(), nil, nil)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeStorage))
		s.True(m.HasConsent())
	})
}

// =============================================================================
// Load and read paths
// =============================================================================

func (s *ManagerSuite) TestLoadDegradation() {
	s.Run("unknown token reads as no consent", func() {
		m := s.newManager()
		s.store.EXPECT().Retrieve(gomock.Any(), "garbage").Return(nil, nil)
		s.Require().NoError(m.Load(context.Background(), "garbage"))
		s.False(m.HasConsent())
	})

	s.Run("backend failure degrades but reports", func() {
		m := s.newManager()
		s.store.EXPECT().Retrieve(gomock.Any(), "tok").Return(nil, errors.New("backend down"))
		err := m.Load(context.Background(), "tok")
		s.Error(err)
		s.False(m.HasConsent())
	})

	s.Run("empty token skips the store", func() {
		m := s.newManager()
		s.Require().NoError(m.Load(context.Background(), ""))
		s.False(m.HasConsent())
	})

	s.Run("invariant-violating record degrades but reports", func() {
		m := s.newManager()
		forged := &consent.Record{
			ConsentID: "forged",
			Accepted:  []string{"analytics"},
			Rejected:  []string{},
		}
		s.store.EXPECT().Retrieve(gomock.Any(), "tok-forged").Return(forged, nil)

		err := m.Load(context.Background(), "tok-forged")
		s.Error(err)
		s.False(m.HasConsent(), "a record missing required categories must not become authoritative")
		s.True(m.ShouldShowBanner())
		s.True(m.HasConsentFor("necessary"), "required categories stay usable in the degraded state")
	})
}

func (s *ManagerSuite) TestHasConsentForDefaults() {
	m := s.newManager()

	s.Run("required fails open without a record", func() {
		s.True(m.HasConsentFor("necessary"))
	})
	s.Run("optional fails closed without a record", func() {
		s.False(m.HasConsentFor("analytics"))
	})
	s.Run("unknown category is never consented", func() {
		s.False(m.HasConsentFor("mystery"))
	})
}

func (s *ManagerSuite) TestShouldShowBanner() {
	s.Run("shown without consent", func() {
		m := s.newManager()
		s.True(m.ShouldShowBanner())
	})

	s.Run("hidden once consent exists", func() {
		m := s.newManager()
		s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok", nil)
		_, err := m.AcceptAll(context.Background(), consent.MethodAcceptAll, nil)
		s.Require().NoError(err)
		s.False(m.ShouldShowBanner())
	})

	s.Run("do not track suppresses the banner when configured", func() {
		m := consent.NewManager(
			s.registry, s.store, s.dispatcher,
			consent.CookieSettings{Name: "cg", ExpiryDays: 1, Path: "/", SameSite: "Lax"},
			consent.BannerOptions{RespectDoNotTrack: true},
			consent.RequestInfo{DoNotTrack: true},
		)
		s.False(m.ShouldShowBanner())
	})
}

func (s *ManagerSuite) TestClientStateSnapshot() {
	s.Run("empty state advertises registry defaults", func() {
		m := s.newManager()
		state := m.ClientStateSnapshot()
		s.False(state.HasConsent)
		s.Equal([]string{"necessary"}, state.Accepted)
		s.Equal(s.registry.OptionalKeys(), state.Rejected)
		s.Empty(state.ConsentID)
	})

	s.Run("live state carries the record identity", func() {
		m := s.newManager()
		s.store.EXPECT().Store(gomock.Any(), gomock.Any()).Return("tok", nil)
		rec, err := m.AcceptAll(context.Background(), consent.MethodAcceptAll, nil)
		s.Require().NoError(err)

		state := m.ClientStateSnapshot()
		s.True(state.HasConsent)
		s.Equal(rec.ConsentID, state.ConsentID)
		s.NotNil(state.Timestamp)
	})
}
