package instrumentation

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestTracingHelpers_NilSpan(t *testing.T) {
	RecordError(nil, errors.New("boom"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil, attribute.String(AttrClientID, "client"))
	AddOAuthFlowAttributes(nil, "client", "sub", "api1")
	AddHTTPAttributes(nil, "GET", "/api/users", 200)
}

func TestTracingHelpers_RealSpan(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, span := inst.Tracer("server").Start(t.Context(), "login")
	defer span.End()

	AddOAuthFlowAttributes(span, "mvc", "", "openid")
	RecordError(span, errors.New("invalid credentials"))
	SetSpanSuccess(span)
}
