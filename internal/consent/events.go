package consent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mssola/useragent"

	"consentgate/internal/events"
)

// Lifecycle event names dispatched on the bus.
const (
	EventGiven     = "consent.given"
	EventUpdated   = "consent.updated"
	EventWithdrawn = "consent.withdrawn"
)

// Event notifies subscribers of a consent lifecycle transition. The record is
// the one produced by the transition; for withdrawals it is the record that
// was withdrawn, never nil, so subscribers can still log what disappeared.
type Event struct {
	events.Base

	Type       string         `json:"event_type"`
	Record     *Record        `json:"consent_data"`
	Additional map[string]any `json:"additional_data,omitempty"`
}

func (e *Event) Name() string { return e.Type }

func (e *Event) IsFirstConsent() bool { return e.Type == EventGiven }

func (e *Event) IsUpdate() bool { return e.Type == EventUpdated }

func (e *Event) IsWithdrawn() bool { return e.Type == EventWithdrawn }

// LogAttrs flattens the event into structured logging attributes. Raw IP and
// UA stay out; the anonymized IP, proof digest, and a parsed browser summary
// go in instead.
func (e *Event) LogAttrs() []slog.Attr {
	rec := e.Record
	attrs := []slog.Attr{
		slog.String("event_type", e.Type),
		slog.String("consent_id", rec.ConsentID),
		slog.String("accepted_categories", strings.Join(rec.Accepted, ",")),
		slog.String("rejected_categories", strings.Join(rec.Rejected, ",")),
		slog.Time("timestamp", rec.Timestamp),
		slog.String("consent_method", string(rec.Method)),
		slog.String("ip_anonymized", rec.AnonymizedIP()),
		slog.String("page_url", rec.PageURL),
		slog.String("consent_proof", rec.Proof()),
	}
	if rec.UserIdentifier != "" {
		attrs = append(attrs, slog.String("user_identifier", rec.UserIdentifier))
	}
	if rec.UserAgent != "" {
		ua := useragent.New(rec.UserAgent)
		browser, version := ua.Browser()
		attrs = append(attrs,
			slog.String("browser", browser+" "+version),
			slog.String("os", ua.OS()),
			slog.Bool("mobile", ua.Mobile()),
			slog.Bool("bot", ua.Bot()),
		)
	}
	if rec.Previous != nil {
		attrs = append(attrs, slog.String("previous_consent_id", rec.Previous.ConsentID))
	}
	return attrs
}

// LogSubscriber returns a wildcard-friendly listener that writes every consent
// lifecycle event to the given logger.
func LogSubscriber(logger *slog.Logger) events.Listener {
	return func(ev events.Event) {
		ce, ok := ev.(*Event)
		if !ok {
			return
		}
		logger.LogAttrs(context.Background(), slog.LevelInfo, "consent lifecycle event", ce.LogAttrs()...)
	}
}
