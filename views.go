package idp

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/server"
)

// pageStyle is shared by every page. Pages carry no scripts, so the page CSP
// can stay at script-src 'none'; navigation relies on forms, links and
// meta refresh.
const pageStyle = `
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 50%, #0f3460 100%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #fff;
        }
        .container { padding: 2rem; width: 100%; max-width: 420px; }
        h1 { font-size: 1.6rem; font-weight: 600; margin-bottom: 1rem; text-align: center; }
        p { color: rgba(255, 255, 255, 0.8); line-height: 1.6; margin-bottom: 1rem; text-align: center; }
        label { display: block; margin: 0.75rem 0 0.25rem; color: rgba(255, 255, 255, 0.8); }
        input[type=text], input[type=password] {
            width: 100%; padding: 0.6rem; border-radius: 6px; border: 1px solid rgba(255, 255, 255, 0.2);
            background: rgba(255, 255, 255, 0.08); color: #fff;
        }
        .remember { display: flex; align-items: center; gap: 0.5rem; margin-top: 0.75rem; }
        .actions { display: flex; gap: 0.75rem; margin-top: 1.25rem; justify-content: center; }
        .button {
            display: inline-block; padding: 0.7rem 1.6rem; border: none; border-radius: 8px;
            background: #00d26a; color: #fff; font-size: 1rem; text-decoration: none; cursor: pointer;
        }
        .button.secondary { background: rgba(255, 255, 255, 0.15); }
        .error { background: rgba(220, 53, 69, 0.25); border-radius: 6px; padding: 0.75rem; margin-bottom: 1rem; }
        .providers { margin-top: 1.5rem; text-align: center; }
        .providers a { margin: 0.25rem; }
        iframe { width: 0; height: 0; border: 0; display: none; }
        code { color: rgba(255, 255, 255, 0.6); }
`

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    {{block "meta" .}}{{end}}
    <title>{{block "title" .}}Identity Provider{{end}}</title>
    <style>` + pageStyle + `</style>
</head>
<body>
<div class="container">
{{block "content" .}}{{end}}
</div>
</body>
</html>`

const loginContent = `{{define "title"}}Login{{end}}
{{define "content"}}
    <h1>Login</h1>
    {{if .ClientName}}<p>to continue to <strong>{{.ClientName}}</strong></p>{{end}}
    {{if .ErrorMessage}}<div class="error">{{.ErrorMessage}}</div>{{end}}
    {{if .EnableLocalLogin}}
    <form method="post" action="{{.Action}}">
        <input type="hidden" name="returnUrl" value="{{.ReturnURL}}">
        <label for="username">Username</label>
        <input type="text" id="username" name="username" value="{{.Username}}" autocomplete="username" autofocus>
        <label for="password">Password</label>
        <input type="password" id="password" name="password" autocomplete="current-password">
        {{if .AllowRememberLogin}}
        <div class="remember">
            <input type="checkbox" id="rememberLogin" name="rememberLogin" value="true"{{if .RememberLogin}} checked{{end}}>
            <label for="rememberLogin">Remember my login</label>
        </div>
        {{end}}
        <div class="actions">
            <button class="button" type="submit" name="button" value="login">Login</button>
            <button class="button secondary" type="submit" name="button" value="cancel">Cancel</button>
        </div>
    </form>
    {{end}}
    {{if .Providers}}
    <div class="providers">
        <p>External login</p>
        {{range .Providers}}<a class="button secondary" href="{{.URL}}">{{.DisplayName}}</a>{{end}}
    </div>
    {{end}}
    {{if and (not .EnableLocalLogin) (not .Providers)}}
    <div class="error">Invalid login request. There are no login schemes configured for this client.</div>
    {{end}}
{{end}}`

const logoutPromptContent = `{{define "title"}}Logout{{end}}
{{define "content"}}
    <h1>Logout</h1>
    <p>Would you like to logout of the identity provider?</p>
    <form method="post" action="{{.Action}}">
        <input type="hidden" name="logoutId" value="{{.LogoutID}}">
        <div class="actions">
            <button class="button" type="submit">Yes</button>
        </div>
    </form>
{{end}}`

const loggedOutContent = `{{define "title"}}Logged out{{end}}
{{define "meta"}}{{if .AutoRedirect}}<meta http-equiv="refresh" content="{{.Refresh}}">{{end}}{{end}}
{{define "content"}}
    <h1>Logout</h1>
    <p>You are now logged out.</p>
    {{if .PostLogoutRedirectURI}}
    <p>Click <a class="button secondary" href="{{.PostLogoutRedirectURI}}">here</a> to return to{{if .ClientName}} <strong>{{.ClientName}}</strong>{{else}} the application{{end}}.</p>
    {{end}}
    {{if .SignOutIframeURL}}<iframe src="{{.SignOutIframeURL}}" title="sign-out"></iframe>{{end}}
{{end}}`

// loadingContent is served for redirects to native clients, where a 302 to a
// custom scheme may fail silently in the browser.
const loadingContent = `{{define "title"}}Redirecting{{end}}
{{define "meta"}}<meta http-equiv="refresh" content="{{.Refresh}}">{{end}}
{{define "content"}}
    <h1>Returning to {{if .AppName}}{{.AppName}}{{else}}the application{{end}}</h1>
    <p>You can close this window once the application has opened.</p>
    <div class="actions">
        <a class="button" href="{{.RedirectURL}}">Open {{if .AppName}}{{.AppName}}{{else}}application{{end}}</a>
    </div>
{{end}}`

const errorContent = `{{define "title"}}Error{{end}}
{{define "content"}}
    <h1>Error</h1>
    <div class="error">Sorry, there was an error: <code>{{.Code}}</code></div>
    {{if .Description}}<p>{{.Description}}</p>{{end}}
    {{if .RequestID}}<p><code>Request Id: {{.RequestID}}</code></p>{{end}}
{{end}}`

var (
	loginTmpl        = mustPage("login", loginContent)
	logoutPromptTmpl = mustPage("logout", logoutPromptContent)
	loggedOutTmpl    = mustPage("loggedout", loggedOutContent)
	loadingTmpl      = mustPage("loading", loadingContent)
	errorTmpl        = mustPage("error", errorContent)
)

func mustPage(name, content string) *template.Template {
	return template.Must(template.Must(template.New(name).Parse(pageHead)).Parse(content))
}

type providerLink struct {
	DisplayName string
	URL         string
}

type loginPage struct {
	*server.LoginView
	Action    string
	Providers []providerLink
}

type logoutPromptPage struct {
	Action   string
	LogoutID string
}

type loggedOutPage struct {
	*server.LoggedOutView
	AutoRedirect bool
	Refresh      string
}

type loadingPage struct {
	RedirectURL template.URL
	Refresh     string
	AppName     string
}

type errorPage struct {
	Code        string
	Description string
	RequestID   string
}

// schemeToAppName maps custom URL schemes to human-readable application names
var schemeToAppName = map[string]string{
	"cursor":   "Cursor",
	"vscode":   "Visual Studio Code",
	"code":     "Visual Studio Code",
	"slack":    "Slack",
	"obsidian": "Obsidian",
	"zed":      "Zed",
}

// appNameFromScheme derives a display name from a redirect URI's scheme
func appNameFromScheme(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	if name, ok := schemeToAppName[scheme]; ok {
		return name
	}
	if scheme == "" || scheme == "http" || scheme == "https" {
		return ""
	}
	return strings.ToUpper(scheme[:1]) + scheme[1:]
}

// refreshContent is a meta refresh value for target. Quotes are escaped by
// the template, the URL is not re-encoded.
func refreshContent(target string) string {
	return "0;url=" + target
}

func (h *Handler) renderLogin(w http.ResponseWriter, view *server.LoginView) {
	page := loginPage{LoginView: view, Action: server.LoginPath}
	for _, p := range view.ExternalProviders {
		page.Providers = append(page.Providers, providerLink{
			DisplayName: p.DisplayName,
			URL:         server.ExternalChallengeURL(p.Scheme, view.ReturnURL),
		})
	}
	h.renderPage(w, http.StatusOK, loginTmpl, page)
}

func (h *Handler) renderLogoutPrompt(w http.ResponseWriter, logoutID string) {
	h.renderPage(w, http.StatusOK, logoutPromptTmpl, logoutPromptPage{Action: server.LogoutPath, LogoutID: logoutID})
}

// renderLoggedOut renders the logged-out page. The sign-out iframe origin is
// added to the page's frame-src.
func (h *Handler) renderLoggedOut(w http.ResponseWriter, view *server.LoggedOutView) {
	page := loggedOutPage{LoggedOutView: view}
	if view.AutomaticRedirectAfterSignOut && view.PostLogoutRedirectURI != "" {
		page.AutoRedirect = true
		page.Refresh = refreshContent(view.PostLogoutRedirectURI)
	}

	var frameSources []string
	if origin := originOf(view.SignOutIframeURL); origin != "" {
		frameSources = append(frameSources, origin)
	}
	h.renderPage(w, http.StatusOK, loggedOutTmpl, page, frameSources...)
}

// renderLoading serves the intermediate page that opens a native client.
func (h *Handler) renderLoading(w http.ResponseWriter, redirectURL string) {
	h.renderPage(w, http.StatusOK, loadingTmpl, loadingPage{
		// html/template only allows http, https and mailto in href by default.
		// The redirect URI was matched against the client's registration.
		RedirectURL: template.URL(redirectURL), //nolint:gosec // registered redirect URI
		Refresh:     refreshContent(redirectURL),
		AppName:     appNameFromScheme(redirectURL),
	})
}

func (h *Handler) renderErrorPage(w http.ResponseWriter, r *http.Request, oe *OAuthError) {
	h.renderPage(w, oe.Status, errorTmpl, errorPage{
		Code:        oe.Code,
		Description: oe.Description,
		RequestID:   security.GetRequestID(r.Context()),
	})
}

// renderPage executes tmpl to a buffer first so a failing template never
// produces a partial page.
func (h *Handler) renderPage(w http.ResponseWriter, status int, tmpl *template.Template, data any, frameSources ...string) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		h.logger.Error("Failed to execute page template", "template", tmpl.Name(), "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal server error"))
		return
	}

	security.SetPageSecurityHeaders(w, h.server.Config.Issuer, frameSources...)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// originOf returns scheme://host of an absolute URL, or "".
func originOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}
