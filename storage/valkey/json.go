package valkey

import (
	"time"

	"github.com/giantswarm/idp/storage"
)

// Timestamps are stored as Unix seconds so Lua scripts can compare them.

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

type clientJSON struct {
	ClientID                     string   `json:"client_id"`
	ClientSecretHash             string   `json:"client_secret_hash,omitempty"`
	ClientName                   string   `json:"client_name,omitempty"`
	AllowedGrantTypes            []string `json:"allowed_grant_types,omitempty"`
	AllowedScopes                []string `json:"allowed_scopes,omitempty"`
	RedirectURIs                 []string `json:"redirect_uris,omitempty"`
	PostLogoutRedirectURIs       []string `json:"post_logout_redirect_uris,omitempty"`
	FrontChannelLogoutURI        string   `json:"front_channel_logout_uri,omitempty"`
	RequirePKCE                  bool     `json:"require_pkce"`
	AllowPlainTextPKCE           bool     `json:"allow_plain_text_pkce"`
	AllowOfflineAccess           bool     `json:"allow_offline_access"`
	EnableLocalLogin             bool     `json:"enable_local_login"`
	IdentityProviderRestrictions []string `json:"identity_provider_restrictions,omitempty"`
	CreatedAt                    int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:                     c.ClientID,
		ClientSecretHash:             c.ClientSecretHash,
		ClientName:                   c.ClientName,
		AllowedGrantTypes:            c.AllowedGrantTypes,
		AllowedScopes:                c.AllowedScopes,
		RedirectURIs:                 c.RedirectURIs,
		PostLogoutRedirectURIs:       c.PostLogoutRedirectURIs,
		FrontChannelLogoutURI:        c.FrontChannelLogoutURI,
		RequirePKCE:                  c.RequirePKCE,
		AllowPlainTextPKCE:           c.AllowPlainTextPKCE,
		AllowOfflineAccess:           c.AllowOfflineAccess,
		EnableLocalLogin:             c.EnableLocalLogin,
		IdentityProviderRestrictions: c.IdentityProviderRestrictions,
		CreatedAt:                    unix(c.CreatedAt),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:                     j.ClientID,
		ClientSecretHash:             j.ClientSecretHash,
		ClientName:                   j.ClientName,
		AllowedGrantTypes:            j.AllowedGrantTypes,
		AllowedScopes:                j.AllowedScopes,
		RedirectURIs:                 j.RedirectURIs,
		PostLogoutRedirectURIs:       j.PostLogoutRedirectURIs,
		FrontChannelLogoutURI:        j.FrontChannelLogoutURI,
		RequirePKCE:                  j.RequirePKCE,
		AllowPlainTextPKCE:           j.AllowPlainTextPKCE,
		AllowOfflineAccess:           j.AllowOfflineAccess,
		EnableLocalLogin:             j.EnableLocalLogin,
		IdentityProviderRestrictions: j.IdentityProviderRestrictions,
		CreatedAt:                    fromUnix(j.CreatedAt),
	}
}

type authorizationContextJSON struct {
	RequestID           string   `json:"request_id"`
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes,omitempty"`
	State               string   `json:"state,omitempty"`
	Nonce               string   `json:"nonce,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	LoginHint           string   `json:"login_hint,omitempty"`
	IdP                 string   `json:"idp,omitempty"`
	PromptLogin         bool     `json:"prompt_login,omitempty"`
	NativeClient        bool     `json:"native_client,omitempty"`
	Denial              string   `json:"denial,omitempty"`
	CreatedAt           int64    `json:"created_at"`
	ExpiresAt           int64    `json:"expires_at"`
}

func toAuthorizationContextJSON(ac *storage.AuthorizationContext) *authorizationContextJSON {
	return &authorizationContextJSON{
		RequestID:           ac.RequestID,
		ClientID:            ac.ClientID,
		RedirectURI:         ac.RedirectURI,
		Scopes:              ac.Scopes,
		State:               ac.State,
		Nonce:               ac.Nonce,
		CodeChallenge:       ac.CodeChallenge,
		CodeChallengeMethod: ac.CodeChallengeMethod,
		LoginHint:           ac.LoginHint,
		IdP:                 ac.IdP,
		PromptLogin:         ac.PromptLogin,
		NativeClient:        ac.NativeClient,
		Denial:              ac.Denial,
		CreatedAt:           unix(ac.CreatedAt),
		ExpiresAt:           unix(ac.ExpiresAt),
	}
}

func fromAuthorizationContextJSON(j *authorizationContextJSON) *storage.AuthorizationContext {
	return &storage.AuthorizationContext{
		RequestID:           j.RequestID,
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		Scopes:              j.Scopes,
		State:               j.State,
		Nonce:               j.Nonce,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		LoginHint:           j.LoginHint,
		IdP:                 j.IdP,
		PromptLogin:         j.PromptLogin,
		NativeClient:        j.NativeClient,
		Denial:              j.Denial,
		CreatedAt:           fromUnix(j.CreatedAt),
		ExpiresAt:           fromUnix(j.ExpiresAt),
	}
}

type authorizationCodeJSON struct {
	Code                string                       `json:"code"`
	ClientID            string                       `json:"client_id"`
	RedirectURI         string                       `json:"redirect_uri"`
	Scopes              []string                     `json:"scopes,omitempty"`
	Nonce               string                       `json:"nonce,omitempty"`
	CodeChallenge       string                       `json:"code_challenge,omitempty"`
	CodeChallengeMethod string                       `json:"code_challenge_method,omitempty"`
	Subject             string                       `json:"subject"`
	Source              storage.AuthenticationSource `json:"source"`
	AuthTime            int64                        `json:"auth_time"`
	CreatedAt           int64                        `json:"created_at"`
	ExpiresAt           int64                        `json:"expires_at"`
	Used                bool                         `json:"used"`
}

func toAuthorizationCodeJSON(c *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                c.Code,
		ClientID:            c.ClientID,
		RedirectURI:         c.RedirectURI,
		Scopes:              c.Scopes,
		Nonce:               c.Nonce,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		Subject:             c.Subject,
		Source:              c.Source,
		AuthTime:            unix(c.AuthTime),
		CreatedAt:           unix(c.CreatedAt),
		ExpiresAt:           unix(c.ExpiresAt),
		Used:                c.Used,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		Scopes:              j.Scopes,
		Nonce:               j.Nonce,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		Subject:             j.Subject,
		Source:              j.Source,
		AuthTime:            fromUnix(j.AuthTime),
		CreatedAt:           fromUnix(j.CreatedAt),
		ExpiresAt:           fromUnix(j.ExpiresAt),
		Used:                j.Used,
	}
}

type externalLoginStateJSON struct {
	State        string `json:"state"`
	Scheme       string `json:"scheme"`
	ReturnURL    string `json:"return_url"`
	CodeVerifier string `json:"code_verifier"`
	Nonce        string `json:"nonce"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
}

func toExternalLoginStateJSON(st *storage.ExternalLoginState) *externalLoginStateJSON {
	return &externalLoginStateJSON{
		State:        st.State,
		Scheme:       st.Scheme,
		ReturnURL:    st.ReturnURL,
		CodeVerifier: st.CodeVerifier,
		Nonce:        st.Nonce,
		CreatedAt:    unix(st.CreatedAt),
		ExpiresAt:    unix(st.ExpiresAt),
	}
}

func fromExternalLoginStateJSON(j *externalLoginStateJSON) *storage.ExternalLoginState {
	return &storage.ExternalLoginState{
		State:        j.State,
		Scheme:       j.Scheme,
		ReturnURL:    j.ReturnURL,
		CodeVerifier: j.CodeVerifier,
		Nonce:        j.Nonce,
		CreatedAt:    fromUnix(j.CreatedAt),
		ExpiresAt:    fromUnix(j.ExpiresAt),
	}
}

type logoutContextJSON struct {
	LogoutID              string `json:"logout_id"`
	ClientID              string `json:"client_id,omitempty"`
	ClientName            string `json:"client_name,omitempty"`
	SubjectID             string `json:"subject_id,omitempty"`
	PostLogoutRedirectURI string `json:"post_logout_redirect_uri,omitempty"`
	State                 string `json:"state,omitempty"`
	ShowSignoutPrompt     bool   `json:"show_signout_prompt"`
	SignOutIframeURL      string `json:"sign_out_iframe_url,omitempty"`
	ExternalScheme        string `json:"external_scheme,omitempty"`
	CreatedAt             int64  `json:"created_at"`
	ExpiresAt             int64  `json:"expires_at"`
}

func toLogoutContextJSON(lc *storage.LogoutContext) *logoutContextJSON {
	return &logoutContextJSON{
		LogoutID:              lc.LogoutID,
		ClientID:              lc.ClientID,
		ClientName:            lc.ClientName,
		SubjectID:             lc.SubjectID,
		PostLogoutRedirectURI: lc.PostLogoutRedirectURI,
		State:                 lc.State,
		ShowSignoutPrompt:     lc.ShowSignoutPrompt,
		SignOutIframeURL:      lc.SignOutIframeURL,
		ExternalScheme:        lc.ExternalScheme,
		CreatedAt:             unix(lc.CreatedAt),
		ExpiresAt:             unix(lc.ExpiresAt),
	}
}

func fromLogoutContextJSON(j *logoutContextJSON) *storage.LogoutContext {
	return &storage.LogoutContext{
		LogoutID:              j.LogoutID,
		ClientID:              j.ClientID,
		ClientName:            j.ClientName,
		SubjectID:             j.SubjectID,
		PostLogoutRedirectURI: j.PostLogoutRedirectURI,
		State:                 j.State,
		ShowSignoutPrompt:     j.ShowSignoutPrompt,
		SignOutIframeURL:      j.SignOutIframeURL,
		ExternalScheme:        j.ExternalScheme,
		CreatedAt:             fromUnix(j.CreatedAt),
		ExpiresAt:             fromUnix(j.ExpiresAt),
	}
}

type sessionJSON struct {
	ID          string                       `json:"id"`
	Subject     string                       `json:"subject"`
	DisplayName string                       `json:"display_name,omitempty"`
	Source      storage.AuthenticationSource `json:"source"`
	IDTokenHint string                       `json:"id_token_hint,omitempty"`
	Persistent  bool                         `json:"persistent"`
	IssuedAt    int64                        `json:"issued_at"`
	ExpiresAt   int64                        `json:"expires_at"`
}

func toSessionJSON(s *storage.Session) *sessionJSON {
	return &sessionJSON{
		ID:          s.ID,
		Subject:     s.Subject,
		DisplayName: s.DisplayName,
		Source:      s.Source,
		IDTokenHint: s.IDTokenHint,
		Persistent:  s.Persistent,
		IssuedAt:    unix(s.IssuedAt),
		ExpiresAt:   unix(s.ExpiresAt),
	}
}

func fromSessionJSON(j *sessionJSON) *storage.Session {
	return &storage.Session{
		ID:          j.ID,
		Subject:     j.Subject,
		DisplayName: j.DisplayName,
		Source:      j.Source,
		IDTokenHint: j.IDTokenHint,
		Persistent:  j.Persistent,
		IssuedAt:    fromUnix(j.IssuedAt),
		ExpiresAt:   fromUnix(j.ExpiresAt),
	}
}
