package telemetry

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics records token cache and exchange activity.
type Metrics struct {
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	fetches  metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates the instruments on mp. A nil mp uses the global meter provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName, metric.WithInstrumentationVersion(InstrumentationVersion))

	m := &Metrics{}
	var err error
	if m.hits, err = meter.Int64Counter(CacheHits, metric.WithDescription("Token requests served from the cache")); err != nil {
		return nil, errors.WithStack(err)
	}
	if m.misses, err = meter.Int64Counter(CacheMisses, metric.WithDescription("Token requests that found no valid cached token")); err != nil {
		return nil, errors.WithStack(err)
	}
	if m.fetches, err = meter.Int64Counter(Fetches, metric.WithDescription("Successful token exchanges")); err != nil {
		return nil, errors.WithStack(err)
	}
	if m.failures, err = meter.Int64Counter(FetchErrors, metric.WithDescription("Failed token exchanges")); err != nil {
		return nil, errors.WithStack(err)
	}
	if m.duration, err = meter.Float64Histogram(FetchDuration, metric.WithDescription("Token exchange latency"), metric.WithUnit("s")); err != nil {
		return nil, errors.WithStack(err)
	}
	return m, nil
}

// Noop returns Metrics that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// Attributes identifies the credentials a measurement belongs to. The secret is never recorded.
func Attributes(tokenURL, clientID string) attribute.Set {
	return attribute.NewSet(
		attribute.String(AttrTokenURL, tokenURL),
		attribute.String(AttrClientID, clientID),
	)
}

// CacheHit counts a token served without a network call.
func (m *Metrics) CacheHit(ctx context.Context, attrs attribute.Set) {
	m.hits.Add(ctx, 1, metric.WithAttributeSet(attrs))
}

// CacheMiss counts a token request that needs an exchange.
func (m *Metrics) CacheMiss(ctx context.Context, attrs attribute.Set) {
	m.misses.Add(ctx, 1, metric.WithAttributeSet(attrs))
}

// Exchange records the outcome of one token exchange. errorType is empty on success.
func (m *Metrics) Exchange(ctx context.Context, attrs attribute.Set, elapsed time.Duration, errorType string) {
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributeSet(attrs))
	if errorType == "" {
		m.fetches.Add(ctx, 1, metric.WithAttributeSet(attrs))
		return
	}
	m.failures.Add(ctx, 1,
		metric.WithAttributeSet(attrs),
		metric.WithAttributes(attribute.String(AttrErrorType, errorType)),
	)
}
