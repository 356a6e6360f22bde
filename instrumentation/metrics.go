package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the identity provider
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Flow Metrics
	AuthorizationStarted metric.Int64Counter
	AuthorizationDenied  metric.Int64Counter
	LoginAttempts        metric.Int64Counter
	LogoutsCompleted     metric.Int64Counter

	// Token Metrics
	TokensIssued     metric.Int64Counter
	TokenValidations metric.Int64Counter

	// Security Metrics
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	AccountLockouts      metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageSessions          metric.Int64ObservableGauge
	StorageFlows             metric.Int64ObservableGauge

	// Provider Metrics
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
}

type counterSpec struct {
	target      *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	tokenMeter := inst.Meter("token")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	providerMeter := inst.Meter("provider")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "idp.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.AuthorizationStarted, serverMeter, "idp.authorization.started", "Number of authorization requests received", "{flow}"},
		{&m.AuthorizationDenied, serverMeter, "idp.authorization.denied", "Number of authorization requests declined by the user", "{flow}"},
		{&m.LoginAttempts, serverMeter, "idp.login.attempts", "Number of login attempts by result", "{attempt}"},
		{&m.LogoutsCompleted, serverMeter, "idp.logout.completed", "Number of completed logouts", "{logout}"},
		{&m.TokensIssued, tokenMeter, "idp.token.issued", "Number of access tokens issued", "{token}"},
		{&m.TokenValidations, tokenMeter, "idp.token.validations", "Number of bearer token validations by result", "{validation}"},
		{&m.RateLimitExceeded, securityMeter, "idp.security.rate_limit_exceeded", "Number of rate limited requests", "{request}"},
		{&m.PKCEValidationFailed, securityMeter, "idp.security.pkce_validation_failed", "Number of PKCE verifier mismatches", "{failure}"},
		{&m.CodeReuseDetected, securityMeter, "idp.security.code_reuse_detected", "Number of replayed authorization codes", "{event}"},
		{&m.AccountLockouts, securityMeter, "idp.security.account_lockouts", "Number of usernames locked after repeated failures", "{lockout}"},
		{&m.StorageOperationTotal, storageMeter, "idp.storage.operations.total", "Total number of storage operations", "{operation}"},
		{&m.ProviderAPICallsTotal, providerMeter, "idp.provider.api.calls.total", "Total number of upstream identity provider calls", "{call}"},
	}

	var err error
	for _, c := range counters {
		*c.target, err = c.meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"idp.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"idp.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.ProviderAPIDuration, err = providerMeter.Float64Histogram(
		"idp.provider.api.duration",
		metric.WithDescription("Upstream identity provider call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.duration histogram: %w", err)
	}

	m.StorageSessions, err = storageMeter.Int64ObservableGauge(
		"idp.storage.sessions",
		metric.WithDescription("Number of live sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.sessions gauge: %w", err)
	}

	m.StorageFlows, err = storageMeter.Int64ObservableGauge(
		"idp.storage.flows",
		metric.WithDescription("Number of pending authorization and logout records"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.flows gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordAuthorizationStarted records a received authorization request
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrClientID, clientID)))
}

// RecordAuthorizationDenied records a user declining a pending authorization
func (m *Metrics) RecordAuthorizationDenied(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.AuthorizationDenied.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrClientID, clientID)))
}

// RecordLoginAttempt records a login attempt. result is "success", "failure", "locked" or "cancelled".
func (m *Metrics) RecordLoginAttempt(ctx context.Context, source, result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuthSource, source),
		attribute.String(AttrResult, result),
	))
}

// RecordLogout records a completed logout
func (m *Metrics) RecordLogout(ctx context.Context, federated bool) {
	if m == nil {
		return
	}
	m.LogoutsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrFederated, federated)))
}

// RecordTokenIssued records an issued access token
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID, grantType string) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
		attribute.String(AttrGrantType, grantType),
	))
}

// RecordTokenValidation records a bearer token validation outcome
func (m *Metrics) RecordTokenValidation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.TokenValidations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, result)))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrHTTPEndpoint, endpoint)))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrPKCEMethod, method)))
}

// RecordCodeReuseDetected records an authorization code replay
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordAccountLockout records a username lockout
func (m *Metrics) RecordAccountLockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.AccountLockouts.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation with its duration
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}

// RecordProviderAPICall records a call to an upstream identity provider
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, durationMs float64, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrProviderName, provider),
		attribute.String(AttrProviderOperation, operation),
		attribute.String(AttrResult, result),
	)
	m.ProviderAPICallsTotal.Add(ctx, 1, attrs)
	m.ProviderAPIDuration.Record(ctx, durationMs, attrs)
}
