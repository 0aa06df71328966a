package api

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/session"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/settings"
)

const sessionCookie = "console_session"

//go:embed templates/panel.html
var templateFS embed.FS

type modelSectionView struct {
	Prefix string
	Title  string
	Form   settings.ModelForm
	Key    modelSettingsResponse
}

var panelTemplate = template.Must(template.New("panel.html").Funcs(template.FuncMap{
	"modelSection": func(prefix string, title string, form settings.ModelForm) modelSectionView {
		return modelSectionView{Prefix: prefix, Title: title, Form: form, Key: redactModel(form)}
	},
}).ParseFS(templateFS, "templates/panel.html"))

type panelView struct {
	Path             string
	Form             settings.Form
	SearchEngines    []string
	HasProxyPassword bool
	ConfigError      string
	ConfigWarning    string
	Transcript       []session.Entry
	Pending          bool
	Status           string
	StatusKind       string
}

// boundSession returns the session named by the request's cookie, or nil
// when the cookie is missing or the session has been evicted.
func (s *Server) boundSession(r *http.Request) *session.Session {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}
	sess, err := s.sessions.Get(cookie.Value)
	if err != nil {
		return nil
	}
	return sess
}

// panelSession returns the bound session, creating one and setting the
// cookie when there is none. Only form posts call it, so plain page loads
// never allocate a session.
func (s *Server) panelSession(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	if sess := s.boundSession(r); sess != nil {
		return sess, nil
	}
	sess, err := s.sessions.Create()
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

func (s *Server) renderPanel(w http.ResponseWriter, r *http.Request) {
	view := panelView{
		Path:          s.settings.Path(),
		SearchEngines: settings.SearchEngines,
		Status:        r.URL.Query().Get("status"),
		StatusKind:    statusKind(r.URL.Query().Get("kind")),
	}
	if sess := s.boundSession(r); sess != nil {
		view.Transcript = sess.Transcript()
		view.Pending = sess.State() == session.StatePending
	}
	doc, exists, err := s.loadDocument()
	switch {
	case err != nil:
		view.ConfigError = "The configuration file could not be read, so the editor is hidden to avoid overwriting it: " + err.Error()
	case !exists:
		view.Form = settings.FormFromDocument(doc)
		view.ConfigWarning = "No configuration file at " + s.settings.Path() + "; saving will create it."
	default:
		view.Form = settings.FormFromDocument(doc)
	}
	view.HasProxyPassword = view.Form.Browser.ProxyPassword != ""

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := panelTemplate.Execute(w, view); err != nil {
		s.logger.Error("panel render failed", zap.Error(err))
	}
}

func statusKind(kind string) string {
	switch kind {
	case "error", "warning":
		return kind
	default:
		return "info"
	}
}

func redirectWithStatus(w http.ResponseWriter, r *http.Request, kind string, message string) {
	query := url.Values{}
	query.Set("status", message)
	query.Set("kind", kind)
	http.Redirect(w, r, "/?"+query.Encode(), http.StatusSeeOther)
}

func (s *Server) panelSaveSettings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithStatus(w, r, "error", "Invalid form submission.")
		return
	}
	current, _, err := s.loadDocument()
	if err != nil {
		redirectWithStatus(w, r, "error", "Configuration not saved: "+err.Error())
		return
	}
	form := formFromValues(r.PostForm, settings.FormFromDocument(current))
	if _, err := s.saveForm(form); err != nil {
		redirectWithStatus(w, r, "error", "Configuration not saved: "+err.Error())
		return
	}
	redirectWithStatus(w, r, "info", "Configuration saved.")
}

func (s *Server) panelSubmitMessage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.panelSession(w, r)
	if err != nil {
		redirectWithStatus(w, r, "error", err.Error())
		return
	}
	_, err = sess.Submit(r.Context(), r.PostFormValue("message"))
	var invocationErr *session.AgentInvocationError
	switch {
	case err == nil:
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.Is(err, session.ErrEmptyInput):
		redirectWithStatus(w, r, "warning", "Enter a request before sending.")
	case errors.Is(err, session.ErrBusy):
		redirectWithStatus(w, r, "warning", "The agent is still working on the previous request.")
	case errors.As(err, &invocationErr):
		redirectWithStatus(w, r, "error", "The agent failed: "+invocationErr.Err.Error())
	default:
		redirectWithStatus(w, r, "error", err.Error())
	}
}

func (s *Server) panelReset(w http.ResponseWriter, r *http.Request) {
	if sess := s.boundSession(r); sess != nil {
		sess.Reset()
	}
	redirectWithStatus(w, r, "info", "Conversation cleared.")
}

// formFromValues reads the editors' fields. Unparseable numbers keep the
// current value; unchecked boxes are false; blank secrets are filled from
// the stored document later.
func formFromValues(values url.Values, current settings.Form) settings.Form {
	model := func(prefix string, current settings.ModelForm) settings.ModelForm {
		return settings.ModelForm{
			Model:       strings.TrimSpace(values.Get(prefix + ".model")),
			BaseURL:     strings.TrimSpace(values.Get(prefix + ".base_url")),
			APIKey:      strings.TrimSpace(values.Get(prefix + ".api_key")),
			MaxTokens:   parseInt(values.Get(prefix+".max_tokens"), current.MaxTokens),
			Temperature: parseFloat(values.Get(prefix+".temperature"), current.Temperature),
		}
	}
	return settings.Form{
		LLM:    model("llm", current.LLM),
		Vision: model("vision", current.Vision),
		Browser: settings.BrowserForm{
			Headless:        checked(values, "browser.headless"),
			DisableSecurity: checked(values, "browser.disable_security"),
			WSSURL:          strings.TrimSpace(values.Get("browser.wss_url")),
			CDPURL:          strings.TrimSpace(values.Get("browser.cdp_url")),
			ProxyServer:     strings.TrimSpace(values.Get("browser.proxy_server")),
			ProxyPassword:   values.Get("browser.proxy_password"),
		},
		Search: settings.SearchForm{
			Engine: values.Get("search.engine"),
		},
		Sandbox: settings.SandboxForm{
			UseSandbox:     checked(values, "sandbox.use_sandbox"),
			Image:          strings.TrimSpace(values.Get("sandbox.image")),
			WorkDir:        strings.TrimSpace(values.Get("sandbox.work_dir")),
			Timeout:        parseInt(values.Get("sandbox.timeout"), current.Sandbox.Timeout),
			NetworkEnabled: checked(values, "sandbox.network_enabled"),
		},
	}
}

func checked(values url.Values, key string) bool {
	_, ok := values[key]
	return ok
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func parseFloat(raw string, fallback float64) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fallback
	}
	return value
}
