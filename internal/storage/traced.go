package storage

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consentgate/internal/consent"
)

// TracedStore decorates any consent.Store with an OpenTelemetry span per
// operation. Token values never appear in span attributes.
type TracedStore struct {
	inner  consent.Store
	tracer trace.Tracer
	kind   string
}

// NewTracedStore wraps inner; kind names the underlying adapter in spans
// (e.g. "redis", "postgres").
func NewTracedStore(inner consent.Store, kind string) *TracedStore {
	return &TracedStore{
		inner:  inner,
		tracer: otel.Tracer("consentgate/storage"),
		kind:   kind,
	}
}

func (s *TracedStore) Store(ctx context.Context, record *consent.Record) (string, error) {
	ctx, span := s.start(ctx, "consent.store.store")
	defer span.End()
	token, err := s.inner.Store(ctx, record)
	s.finish(span, err)
	return token, err
}

func (s *TracedStore) Retrieve(ctx context.Context, token string) (*consent.Record, error) {
	ctx, span := s.start(ctx, "consent.store.retrieve")
	defer span.End()
	record, err := s.inner.Retrieve(ctx, token)
	span.SetAttributes(attribute.Bool("consent.found", record != nil))
	s.finish(span, err)
	return record, err
}

func (s *TracedStore) Delete(ctx context.Context, token string) (bool, error) {
	ctx, span := s.start(ctx, "consent.store.delete")
	defer span.End()
	ok, err := s.inner.Delete(ctx, token)
	s.finish(span, err)
	return ok, err
}

func (s *TracedStore) Exists(ctx context.Context, token string) (bool, error) {
	ctx, span := s.start(ctx, "consent.store.exists")
	defer span.End()
	ok, err := s.inner.Exists(ctx, token)
	s.finish(span, err)
	return ok, err
}

func (s *TracedStore) Update(ctx context.Context, token string, record *consent.Record) (bool, error) {
	ctx, span := s.start(ctx, "consent.store.update")
	defer span.End()
	ok, err := s.inner.Update(ctx, token, record)
	span.SetAttributes(attribute.Bool("consent.updated_in_place", ok))
	s.finish(span, err)
	return ok, err
}

func (s *TracedStore) GenerateToken() (string, error) {
	return s.inner.GenerateToken()
}

// Inner returns the wrapped store.
func (s *TracedStore) Inner() consent.Store { return s.inner }

func (s *TracedStore) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("consent.store.kind", s.kind)),
	)
}

func (s *TracedStore) finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
