package server

import (
	"html/template"
	"net/http"
)

// errorMessages maps coarse failure reasons to text safe to show end users.
var errorMessages = map[string]string{
	"not_configured": "GitHub sign-in is not configured on this server.",
	"provider_error": "GitHub could not complete the sign-in.",
	"network_error":  "GitHub could not be reached. Please try again.",
	"access_denied":  "Access to your GitHub account was not granted.",
	"session_error":  "Your session could not be created.",
	"invalid_state":  "The sign-in request expired or was not started here. Please try again.",
}

const layout = `{{define "top"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>{{.Title}} · DevDash</title>
    <link rel="stylesheet" href="/static/app.css">
</head>
<body>
{{end}}
{{define "bottom"}}</body>
</html>
{{end}}`

var pages = template.Must(template.Must(template.New("layout").Parse(layout)).New("pages").Parse(`
{{define "landing"}}{{template "top" .}}
    <main class="landing">
        <h1>Understand how your team ships.</h1>
        <p>Focus time, review load and delivery trends from your GitHub activity.</p>
        <a class="button" href="/auth/signin">Get started</a>
        <a class="button secondary" href="/auth/demo">Try the demo</a>
    </main>
{{template "bottom" .}}{{end}}

{{define "signin"}}{{template "top" .}}
    <main class="signin">
        <h1>Sign in</h1>
        {{if .Message}}<p class="notice">{{.Message}}</p>{{end}}
        {{if .Configured}}<a class="button" href="/api/auth/github">Continue with GitHub</a>{{end}}
        <a class="button secondary" href="/auth/demo">Continue in demo mode</a>
    </main>
{{template "bottom" .}}{{end}}

{{define "error"}}{{template "top" .}}
    <main class="error">
        <h1>Sign-in failed</h1>
        <p>{{.Message}}</p>
        <a class="button" href="/auth/signin">Back to sign in</a>
    </main>
{{template "bottom" .}}{{end}}

{{define "dashboard"}}{{template "top" .}}
    <main class="dashboard" data-session="{{.Session}}">
        {{if .Demo}}<div class="banner">You are viewing demo data.</div>{{end}}
        <header>
            {{with .User}}{{if .AvatarURL}}<img class="avatar" src="{{.AvatarURL}}" alt="">{{end}}
            <h1>Welcome back, {{if .Name}}{{.Name}}{{else}}{{.Login}}{{end}}</h1>{{else}}<h1>Dashboard</h1>{{end}}
            <button id="sign-out" data-endpoint="/api/auth/session">Sign out</button>
        </header>
        <section id="widgets"></section>
    </main>
{{template "bottom" .}}{{end}}
`))

type pageData struct {
	Title      string
	Message    string
	Configured bool
	Session    string
	Demo       bool
	User       *Identity
}

func (a *App) renderPage(w http.ResponseWriter, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		a.Logger.Error("template error", "page", name, "error", err)
	}
}

func (a *App) handleLanding(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, "landing", pageData{Title: "Home"})
}

func (a *App) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, "signin", pageData{
		Title:      "Sign in",
		Message:    errorMessages[r.URL.Query().Get("error")],
		Configured: a.Provider.Configured(),
	})
}

func (a *App) handleErrorPage(w http.ResponseWriter, r *http.Request) {
	msg, ok := errorMessages[r.URL.Query().Get("error")]
	if !ok {
		msg = "Something went wrong while signing you in."
	}
	a.renderPage(w, "error", pageData{Title: "Sign-in failed", Message: msg})
}

// handleDemo turns on demo mode for this browser.
func (a *App) handleDemo(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, a.Cookies.Demo())
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func (a *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	state := a.Cookies.Resolve(RequestCookies(r))
	noteSession(r.Context(), state)

	// ?demo=true got past the gate without a cookie; remember it so the rest
	// of the dashboard stays reachable.
	if state.Kind == SessionAnonymous && r.URL.Query().Get("demo") == "true" {
		http.SetCookie(w, a.Cookies.Demo())
		state = SessionState{Kind: SessionDemo}
	}

	a.renderPage(w, "dashboard", pageData{
		Title:   "Dashboard",
		Session: state.Kind.String(),
		Demo:    state.Kind == SessionDemo,
		User:    state.User(),
	})
}
