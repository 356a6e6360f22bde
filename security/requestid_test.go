package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		inbound  string
		wantSame bool
	}{
		{name: "propagates valid id", inbound: "abc-123", wantSame: true},
		{name: "replaces invalid id", inbound: "bad id <script>", wantSame: false},
		{name: "generates when missing", inbound: "", wantSame: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest("GET", "/", nil)
			if tt.inbound != "" {
				r.Header.Set(RequestIDHeader, tt.inbound)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if seen == "" {
				t.Fatal("request id missing from context")
			}
			if w.Header().Get(RequestIDHeader) != seen {
				t.Errorf("response header = %q, context = %q", w.Header().Get(RequestIDHeader), seen)
			}
			if (seen == tt.inbound) != tt.wantSame {
				t.Errorf("id = %q, inbound = %q, wantSame = %v", seen, tt.inbound, tt.wantSame)
			}
		})
	}
}
