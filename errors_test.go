package idp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/giantswarm/idp/server"
)

func TestOAuthError_Error(t *testing.T) {
	e := NewOAuthError("invalid_request", "Missing required parameter", http.StatusBadRequest)
	if got, want := e.Error(), "invalid_request: Missing required parameter"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestToOAuthError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
		wantDesc   string
	}{
		{
			name:       "input validation",
			err:        server.ErrInvalidReturnURL(),
			wantCode:   server.ErrorCodeInvalidRequest,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "invalid return URL",
		},
		{
			name:       "invalid client",
			err:        server.ErrInvalidClient(),
			wantCode:   server.ErrorCodeInvalidClient,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrapped invalid grant",
			err:        fmt.Errorf("redeem: %w", server.ErrInvalidGrant(errors.New("code already used"))),
			wantCode:   server.ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "invalid grant",
		},
		{
			name:       "bad credentials",
			err:        server.ErrInvalidCredentials,
			wantCode:   server.ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "access denied",
			err:        server.ErrAccessDenied(),
			wantCode:   server.ErrorCodeAccessDenied,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unsupported grant",
			err:        server.ErrUnsupportedGrantType("refresh_token"),
			wantCode:   server.ErrorCodeUnsupportedGrantType,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "internal error hides detail",
			err:        errors.New("dial tcp 10.0.0.1:6379: connection refused"),
			wantCode:   ErrorCodeServerError,
			wantStatus: http.StatusInternalServerError,
			wantDesc:   "internal server error",
		},
		{
			name:       "oauth error passes through",
			err:        NewOAuthError(ErrorCodeRateLimitExceeded, "slow down", http.StatusTooManyRequests),
			wantCode:   ErrorCodeRateLimitExceeded,
			wantStatus: http.StatusTooManyRequests,
			wantDesc:   "slow down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toOAuthError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", got.Status, tt.wantStatus)
			}
			if tt.wantDesc != "" && got.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", got.Description, tt.wantDesc)
			}
		})
	}
}
