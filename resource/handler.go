package resource

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/idp/storage"
	"github.com/giantswarm/idp/token"
)

// Paths served by the resource API
const (
	UsersPath    = "/api/users"
	IdentityPath = "/api/identity"

	// UserAliasPath serves the user list under the path older clients call.
	UserAliasPath = "/api/User"
)

// Handler serves the resource API. Every route sits behind the guard.
type Handler struct {
	profiles storage.ProfileStore
	guard    *Guard
	logger   *slog.Logger
}

// NewHandler creates the resource API handler.
func NewHandler(profiles storage.ProfileStore, guard *Guard, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{profiles: profiles, guard: guard, logger: logger}
}

// RegisterRoutes mounts the API on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	users := h.guard.RequireBearer(http.HandlerFunc(h.ServeUsers))
	mux.Handle("GET "+UsersPath, users)
	mux.Handle("GET "+UserAliasPath, users)
	mux.Handle("GET "+IdentityPath, h.guard.RequireBearer(http.HandlerFunc(h.ServeIdentity)))
}

type usersResponse struct {
	Data []*storage.Profile `json:"data"`
}

// ServeUsers returns the profile records as {"data":[...]}.
func (h *Handler) ServeUsers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.ListProfiles(r.Context())
	if err != nil {
		h.logger.Error("Failed to list profiles", "error", err)
		h.guard.writeJSONError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if profiles == nil {
		profiles = []*storage.Profile{}
	}
	h.writeJSON(w, usersResponse{Data: profiles})
}

// identityClaim is one "type"/"value" pair of the caller's validated claims
type identityClaim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ServeIdentity echoes the validated claims of the caller's token.
func (h *Handler) ServeIdentity(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		h.guard.writeUnauthorized(w)
		return
	}

	tc := p.Claims
	if tc == nil {
		tc = &token.AccessClaims{}
	}

	claims := []identityClaim{
		{Type: "iss", Value: tc.Issuer},
		{Type: "client_id", Value: p.ClientID},
	}
	if p.Subject != "" {
		claims = append(claims, identityClaim{Type: "sub", Value: p.Subject})
	}
	for _, s := range p.Scopes {
		claims = append(claims, identityClaim{Type: "scope", Value: s})
	}
	if tc.ExpiresAt != nil {
		claims = append(claims, identityClaim{Type: "exp", Value: tc.ExpiresAt.UTC().Format(time.RFC3339)})
	}
	if tc.IdP != "" {
		claims = append(claims, identityClaim{Type: "idp", Value: tc.IdP})
	}
	for _, m := range tc.AMR {
		claims = append(claims, identityClaim{Type: "amr", Value: m})
	}

	h.writeJSON(w, claims)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", "error", err)
	}
}
