package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Secrets (codes, tokens, passwords) are never recorded.
const (
	AttrClientID     = "oauth.client_id"
	AttrSubject      = "oauth.subject"
	AttrScope        = "oauth.scope"
	AttrGrantType    = "oauth.grant_type"
	AttrPKCEMethod   = "oauth.pkce.method"
	AttrError        = "oauth.error"
	AttrRequestID    = "oauth.request_id"
	AttrLoginState   = "login.state"
	AttrAuthSource   = "login.source"
	AttrNativeClient = "login.native_client"
	AttrLogoutID     = "logout.id"
	AttrFederated    = "logout.federated"
	AttrResult       = "result"

	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	AttrProviderName      = "provider.name"
	AttrProviderOperation = "provider.operation"

	AttrClientIP = "security.client_ip"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on the span and marks it failed
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks the span successful
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a possibly nil span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds the non-empty client, subject and scope attributes
func AddOAuthFlowAttributes(span trace.Span, clientID, subject, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if subject != "" {
		SetSpanAttributes(span, attribute.String(AttrSubject, subject))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddHTTPAttributes adds request method, endpoint and status
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
