package httptransport

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentgate/internal/banner"
	"consentgate/internal/consent"
	"consentgate/internal/events"
	"consentgate/internal/platform/metrics"
	"consentgate/internal/storage"
)

// Prometheus collectors register globally, so the metrics bundle is built once
// for the whole test binary.
var testMetrics = metrics.New()

// =============================================================================
// Consent Handler Test Suite
// =============================================================================
// Justification: exercises the HTTP surface end to end through the real chi
// router and middleware chain, with an in-memory store behind it. Covers the
// action dispatch, both cookie writers, and the soft-vs-hard error split.

type HandlerSuite struct {
	suite.Suite
	store  *storage.MemoryStore
	server *httptest.Server
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = storage.NewMemoryStore("handler-test-secret")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := New(
		consent.DefaultRegistry(),
		s.store,
		consent.CookieSettings{Name: "cg_cookie_consent", ExpiryDays: 365, Path: "/", SameSite: "Lax"},
		consent.BannerOptions{ShowOnlyOnce: true},
		true,
		"/api/consent",
		logger,
		testMetrics,
		WithHandlerClock(func() time.Time {
			return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		}),
	)

	s.server = httptest.NewServer(NewRouter(logger, nil, h))
	s.T().Cleanup(s.server.Close)
}

func (s *HandlerSuite) postAction(req banner.Request, cookie *http.Cookie) (*http.Response, banner.Response) {
	body, err := json.Marshal(req)
	s.Require().NoError(err)

	httpReq, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/consent", bytes.NewReader(body))
	s.Require().NoError(err)
	if cookie != nil {
		httpReq.AddCookie(cookie)
	}

	resp, err := s.server.Client().Do(httpReq)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var decoded banner.Response
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func consentCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "cg_cookie_consent" {
			return c
		}
	}
	return nil
}

func (s *HandlerSuite) TestAcceptAllSetsCookie() {
	resp, decoded := s.postAction(banner.Request{Action: banner.ActionAcceptAll, Method: "banner"}, nil)

	s.Equal(http.StatusOK, resp.StatusCode)
	s.True(decoded.Success)
	s.NotEmpty(decoded.Cookie)
	s.Require().NotNil(decoded.CookieSettings)
	s.Equal("cg_cookie_consent", decoded.CookieSettings.Name)

	set := consentCookie(resp)
	s.Require().NotNil(set, "server writes its own cookie copy")
	s.Equal(decoded.Cookie, set.Value)
	s.Equal(365*24*60*60, set.MaxAge)
	s.False(set.HttpOnly, "the browser runtime must be able to read it")
}

func (s *HandlerSuite) TestGetConsentRoundTrip() {
	granted, decoded := s.postAction(banner.Request{Action: banner.ActionAcceptAll}, nil)
	s.Require().True(decoded.Success)

	_, state := s.postAction(banner.Request{Action: banner.ActionGetConsent}, consentCookie(granted))
	s.True(state.Success)

	payload, err := json.Marshal(state.Data)
	s.Require().NoError(err)
	var client consent.ClientState
	s.Require().NoError(json.Unmarshal(payload, &client))
	s.True(client.HasConsent)
	s.Contains(client.Accepted, "analytics")
}

func (s *HandlerSuite) TestWithdrawClearsCookie() {
	granted, decoded := s.postAction(banner.Request{Action: banner.ActionAcceptAll}, nil)
	s.Require().True(decoded.Success)

	resp, withdrawn := s.postAction(banner.Request{Action: banner.ActionWithdrawConsent}, consentCookie(granted))
	s.True(withdrawn.Success)

	cleared := consentCookie(resp)
	s.Require().NotNil(cleared)
	s.Empty(cleared.Value)
	s.Negative(cleared.MaxAge)

	gone, err := s.store.Retrieve(resp.Request.Context(), decoded.Cookie)
	s.Require().NoError(err)
	s.Nil(gone)
}

func (s *HandlerSuite) TestPageContextCapture() {
	decodeRecord := func(data any) consent.Record {
		payload, err := json.Marshal(data)
		s.Require().NoError(err)
		var rec consent.Record
		s.Require().NoError(json.Unmarshal(payload, &rec))
		return rec
	}

	s.Run("payload page_url and referrer land on the record", func() {
		_, decoded := s.postAction(banner.Request{
			Action:   banner.ActionAcceptAll,
			PageURL:  "https://shop.example.test/checkout",
			Referrer: "https://shop.example.test/cart",
		}, nil)
		s.Require().True(decoded.Success)

		rec := decodeRecord(decoded.Data)
		s.Equal("https://shop.example.test/checkout", rec.PageURL)
		s.Equal("https://shop.example.test/cart", rec.Referrer)
	})

	s.Run("referer header stands in for an omitted page url", func() {
		body, err := json.Marshal(banner.Request{Action: banner.ActionAcceptAll})
		s.Require().NoError(err)
		httpReq, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/consent", bytes.NewReader(body))
		s.Require().NoError(err)
		httpReq.Header.Set("Referer", "https://shop.example.test/landing")

		resp, err := s.server.Client().Do(httpReq)
		s.Require().NoError(err)
		defer resp.Body.Close()

		var decoded banner.Response
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&decoded))
		s.Require().True(decoded.Success)

		rec := decodeRecord(decoded.Data)
		s.Equal("https://shop.example.test/landing", rec.PageURL)
		s.Empty(rec.Referrer)
	})
}

func (s *HandlerSuite) TestUnknownActionIsSoft() {
	resp, decoded := s.postAction(banner.Request{Action: "flush_dns"}, nil)

	s.Equal(http.StatusOK, resp.StatusCode, "protocol errors stay on HTTP 200")
	s.False(decoded.Success)
	s.Equal("Unknown action", decoded.Error)
	s.Nil(consentCookie(resp))
}

func (s *HandlerSuite) TestGiveConsentWithoutCategories() {
	resp, decoded := s.postAction(banner.Request{Action: banner.ActionGiveConsent}, nil)

	s.Equal(http.StatusOK, resp.StatusCode)
	s.False(decoded.Success)
	s.Nil(consentCookie(resp))
}

func (s *HandlerSuite) TestMalformedBody() {
	resp, err := s.server.Client().Post(s.server.URL+"/api/consent", "application/json",
		bytes.NewReader([]byte("{not json")))
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestEventListenersSeeLifecycle() {
	seen := make(chan string, 4)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := New(
		consent.DefaultRegistry(),
		s.store,
		consent.CookieSettings{Name: "cg_cookie_consent", ExpiryDays: 1, SameSite: "Lax"},
		consent.BannerOptions{},
		true,
		"",
		logger,
		testMetrics,
		WithEventListener(func(ev events.Event) { seen <- ev.Name() }),
	)
	server := httptest.NewServer(NewRouter(logger, nil, h))
	defer server.Close()

	body, _ := json.Marshal(banner.Request{Action: banner.ActionRejectAll})
	resp, err := server.Client().Post(server.URL+"/api/consent", "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	resp.Body.Close()

	select {
	case name := <-seen:
		s.Equal(consent.EventGiven, name)
	default:
		s.Fail("expected a lifecycle event")
	}
}

func (s *HandlerSuite) TestConfigEndpoint() {
	granted, decoded := s.postAction(banner.Request{Action: banner.ActionRejectAll}, nil)
	s.Require().True(decoded.Success)

	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/consent/config", nil)
	s.Require().NoError(err)
	req.AddCookie(consentCookie(granted))

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	var cfg banner.ClientConfig
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&cfg))
	s.Equal("cg_cookie_consent", cfg.CookieName)
	s.True(cfg.AutoBlock)
	s.Len(cfg.Categories, 5)
	s.NotEmpty(cfg.Patterns)
	s.True(cfg.Consent.HasConsent)
	s.False(cfg.ShowBanner, "a returning visitor with consent sees no banner")
	s.Equal("/api/consent", cfg.APIURL)
}

func (s *HandlerSuite) TestHealthAndMetricsEndpoints() {
	resp, err := s.server.Client().Get(s.server.URL + "/healthz")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	resp, err = s.server.Client().Get(s.server.URL + "/metrics")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
