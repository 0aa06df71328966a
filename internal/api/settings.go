package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/agent"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/settings"
)

var newLLMProvider = llm.NewProvider

type modelSettingsResponse struct {
	Model       string  `json:"model"`
	BaseURL     string  `json:"base_url"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	HasAPIKey   bool    `json:"has_api_key"`
	APIKeyHint  string  `json:"api_key_hint,omitempty"`
}

type browserSettingsResponse struct {
	Headless         bool   `json:"headless"`
	DisableSecurity  bool   `json:"disable_security"`
	WSSURL           string `json:"wss_url"`
	CDPURL           string `json:"cdp_url"`
	ProxyServer      string `json:"proxy_server"`
	HasProxyPassword bool   `json:"has_proxy_password"`
}

type settingsResponse struct {
	Path    string                  `json:"path"`
	Exists  bool                    `json:"exists"`
	Warning string                  `json:"warning,omitempty"`
	LLM     modelSettingsResponse   `json:"llm"`
	Vision  modelSettingsResponse   `json:"vision"`
	Browser browserSettingsResponse `json:"browser"`
	Search  settings.SearchForm     `json:"search"`
	Sandbox settings.SandboxForm    `json:"sandbox"`
}

func redactModel(model settings.ModelForm) modelSettingsResponse {
	response := modelSettingsResponse{
		Model:       model.Model,
		BaseURL:     model.BaseURL,
		MaxTokens:   model.MaxTokens,
		Temperature: model.Temperature,
		HasAPIKey:   model.APIKey != "",
	}
	if len(model.APIKey) >= 4 {
		response.APIKeyHint = model.APIKey[len(model.APIKey)-4:]
	}
	return response
}

func (s *Server) settingsResponse(form settings.Form, exists bool) settingsResponse {
	response := settingsResponse{
		Path:   s.settings.Path(),
		Exists: exists,
		LLM:    redactModel(form.LLM),
		Vision: redactModel(form.Vision),
		Browser: browserSettingsResponse{
			Headless:         form.Browser.Headless,
			DisableSecurity:  form.Browser.DisableSecurity,
			WSSURL:           form.Browser.WSSURL,
			CDPURL:           form.Browser.CDPURL,
			ProxyServer:      form.Browser.ProxyServer,
			HasProxyPassword: form.Browser.ProxyPassword != "",
		},
		Search:  form.Search,
		Sandbox: form.Sandbox,
	}
	if !exists {
		response.Warning = missingConfigWarning
	}
	return response
}

const missingConfigWarning = "configuration file not found; saving will create it"

// loadDocument returns the current document. A missing file yields an empty
// document with exists=false; any other read failure is returned.
func (s *Server) loadDocument() (settings.Document, bool, error) {
	doc, err := s.settings.Load()
	if err == nil {
		return doc, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return settings.NewDocument(), false, nil
	}
	return nil, false, err
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	doc, exists, err := s.loadDocument()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, s.settingsResponse(settings.FormFromDocument(doc), exists), http.StatusOK)
}

// keepStoredSecrets fills secrets the client left blank from the stored
// form, since responses never echo them back.
func keepStoredSecrets(form settings.Form, stored settings.Form) settings.Form {
	if form.LLM.APIKey == "" {
		form.LLM.APIKey = stored.LLM.APIKey
	}
	if form.Vision.APIKey == "" {
		form.Vision.APIKey = stored.Vision.APIKey
	}
	if form.Browser.ProxyPassword == "" {
		form.Browser.ProxyPassword = stored.Browser.ProxyPassword
	}
	return form
}

// saveForm writes form over the current document. A document that exists but
// cannot be parsed is never overwritten.
func (s *Server) saveForm(form settings.Form) (settings.Document, error) {
	current, _, err := s.loadDocument()
	if err != nil {
		return nil, errUnreadableConfig{err: err}
	}
	form = keepStoredSecrets(form, settings.FormFromDocument(current)).Normalize()
	doc, err := s.settings.Update(form, s.saveMode())
	s.metrics.ObserveConfigSave(err)
	if err != nil {
		s.logger.Error("configuration save failed", zap.String("path", s.settings.Path()), zap.Error(err))
		return nil, err
	}
	s.logger.Info("configuration saved", zap.String("path", s.settings.Path()), zap.String("mode", string(s.saveMode())))
	return doc, nil
}

type errUnreadableConfig struct {
	err error
}

func (e errUnreadableConfig) Error() string {
	return "refusing to overwrite unreadable configuration: " + e.err.Error()
}

func (e errUnreadableConfig) Unwrap() error {
	return e.err
}

// updateSettings decodes the body over the stored form, so fields the
// request leaves out keep their current values.
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	current, _, err := s.loadDocument()
	if err != nil {
		writeJSONError(w, errUnreadableConfig{err: err}.Error(), http.StatusUnprocessableEntity)
		return
	}
	form := settings.FormFromDocument(current)
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	doc, err := s.saveForm(form)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.As(err, new(errUnreadableConfig)) {
			status = http.StatusUnprocessableEntity
		}
		writeJSONError(w, err.Error(), status)
		return
	}
	writeJSONStatus(w, s.settingsResponse(settings.FormFromDocument(doc), true), http.StatusOK)
}

// testSettings pings the model described by the stored document, optionally
// overlaid with an unsaved form from the request body.
func (s *Server) testSettings(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.loadDocument()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	var form *settings.Form
	if r.Body != nil {
		decoded := settings.FormFromDocument(doc)
		if err := json.NewDecoder(r.Body).Decode(&decoded); err == nil {
			form = &decoded
		} else if !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	if form != nil {
		merged := keepStoredSecrets(*form, settings.FormFromDocument(doc)).Normalize()
		doc, _ = settings.ApplyForm(doc, merged, settings.SaveMerge)
	}
	provider, err := newLLMProvider(agent.ProviderConfig(doc))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	if _, err := provider.Generate(ctx, []llm.Message{{Role: "user", Content: "ping"}}); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSONStatus(w, map[string]string{"status": "Connected"}, http.StatusOK)
}
