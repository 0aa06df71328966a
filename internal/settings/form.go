package settings

import (
	"math"
	"sort"
	"strings"
)

const (
	DefaultMaxTokens      = 8192
	DefaultTemperature    = 0.0
	DefaultSandboxTimeout = 300
	DefaultSearchEngine   = "Google"

	MinTemperature = 0.0
	MaxTemperature = 1.0
)

// SearchEngines is the fixed set offered by the search editor.
var SearchEngines = []string{"Google", "Baidu", "DuckDuckGo"}

type SaveMode string

const (
	// SaveReplace rebuilds each managed section from the form, dropping
	// fields the form does not represent.
	SaveReplace SaveMode = "replace"
	// SaveMerge overlays form values on the existing sections and keeps
	// unknown fields.
	SaveMerge SaveMode = "merge"
)

type ModelForm struct {
	Model       string  `json:"model"`
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type BrowserForm struct {
	Headless        bool   `json:"headless"`
	DisableSecurity bool   `json:"disable_security"`
	WSSURL          string `json:"wss_url"`
	CDPURL          string `json:"cdp_url"`
	ProxyServer     string `json:"proxy_server"`
	ProxyPassword   string `json:"proxy_password"`
}

type SearchForm struct {
	Engine string `json:"engine"`
}

type SandboxForm struct {
	UseSandbox     bool   `json:"use_sandbox"`
	Image          string `json:"image"`
	WorkDir        string `json:"work_dir"`
	Timeout        int    `json:"timeout"`
	NetworkEnabled bool   `json:"network_enabled"`
}

// Form is the flat set of editable values shown by the panel.
type Form struct {
	LLM     ModelForm   `json:"llm"`
	Vision  ModelForm   `json:"vision"`
	Browser BrowserForm `json:"browser"`
	Search  SearchForm  `json:"search"`
	Sandbox SandboxForm `json:"sandbox"`
}

// DefaultForm is the form derived from an empty document.
func DefaultForm() Form {
	return FormFromDocument(NewDocument())
}

// FormFromDocument derives the form from a document. It performs no I/O and
// is recomputed on every read.
func FormFromDocument(doc Document) Form {
	llm := doc.Section(SectionLLM)
	browser := doc.Section(SectionBrowser)
	sandbox := doc.Section(SectionSandbox)
	proxy := browser.Table(subsectionProxy)

	form := Form{
		LLM:    modelFormFrom(llm),
		Vision: modelFormFrom(llm.Table(subsectionVision)),
		Browser: BrowserForm{
			Headless:        browser.Bool("headless", false),
			DisableSecurity: browser.Bool("disable_security", true),
			WSSURL:          browser.String("wss_url", ""),
			CDPURL:          browser.String("cdp_url", ""),
			ProxyServer:     proxy.String("server", ""),
			ProxyPassword:   proxy.String("password", ""),
		},
		Search: SearchForm{
			Engine: doc.Section(SectionSearch).String("engine", DefaultSearchEngine),
		},
		Sandbox: SandboxForm{
			UseSandbox:     sandbox.Bool("use_sandbox", false),
			Image:          sandbox.String("image", ""),
			WorkDir:        sandbox.String("work_dir", ""),
			Timeout:        sandbox.Int("timeout", DefaultSandboxTimeout),
			NetworkEnabled: sandbox.Bool("network_enabled", true),
		},
	}
	return form.Normalize()
}

func modelFormFrom(section Section) ModelForm {
	return ModelForm{
		Model:       section.String("model", ""),
		BaseURL:     section.String("base_url", ""),
		APIKey:      section.String("api_key", ""),
		MaxTokens:   section.Int("max_tokens", DefaultMaxTokens),
		Temperature: section.Float("temperature", DefaultTemperature),
	}
}

// Normalize clamps values into the ranges the editors allow.
func (f Form) Normalize() Form {
	f.LLM = f.LLM.normalize()
	f.Vision = f.Vision.normalize()
	if !ValidSearchEngine(f.Search.Engine) {
		f.Search.Engine = DefaultSearchEngine
	}
	if f.Sandbox.Timeout < 0 {
		f.Sandbox.Timeout = 0
	}
	return f
}

func (m ModelForm) normalize() ModelForm {
	m.Temperature = ClampTemperature(m.Temperature)
	if m.MaxTokens < 0 {
		m.MaxTokens = 0
	}
	return m
}

func ClampTemperature(value float64) float64 {
	if math.IsNaN(value) || value < MinTemperature {
		return MinTemperature
	}
	if value > MaxTemperature {
		return MaxTemperature
	}
	return value
}

func ValidSearchEngine(engine string) bool {
	for _, candidate := range SearchEngines {
		if candidate == engine {
			return true
		}
	}
	return false
}

func (m ModelForm) table() map[string]any {
	return map[string]any{
		"model":       m.Model,
		"base_url":    m.BaseURL,
		"api_key":     m.APIKey,
		"max_tokens":  int64(m.MaxTokens),
		"temperature": m.Temperature,
	}
}

// sections renders the form as the four managed tables.
func (f Form) sections() map[string]map[string]any {
	llm := f.LLM.table()
	llm[subsectionVision] = f.Vision.table()
	return map[string]map[string]any{
		SectionLLM: llm,
		SectionBrowser: {
			"headless":         f.Browser.Headless,
			"disable_security": f.Browser.DisableSecurity,
			"wss_url":          f.Browser.WSSURL,
			"cdp_url":          f.Browser.CDPURL,
			subsectionProxy: map[string]any{
				"server":   f.Browser.ProxyServer,
				"password": f.Browser.ProxyPassword,
			},
		},
		SectionSearch: {
			"engine": f.Search.Engine,
		},
		SectionSandbox: {
			"use_sandbox":     f.Sandbox.UseSandbox,
			"image":           f.Sandbox.Image,
			"work_dir":        f.Sandbox.WorkDir,
			"timeout":         int64(f.Sandbox.Timeout),
			"network_enabled": f.Sandbox.NetworkEnabled,
		},
	}
}

// ApplyForm returns the document to save for the given form. Sections other
// than the managed four are copied through. The second result lists the
// dotted paths of fields that the save will drop.
func ApplyForm(doc Document, form Form, mode SaveMode) (Document, []string) {
	next := doc.Clone()
	if next == nil {
		next = NewDocument()
	}
	form = form.Normalize()

	var dropped []string
	for name, table := range form.sections() {
		existing, _ := next[name].(map[string]any)
		if mode == SaveMerge {
			next[name] = mergeTables(existing, table)
			continue
		}
		dropped = append(dropped, missingKeys(name, existing, table)...)
		next[name] = table
	}
	sort.Strings(dropped)
	return next, dropped
}

func mergeTables(base map[string]any, overlay map[string]any) map[string]any {
	out := cloneTable(base)
	for key, value := range overlay {
		nested, isTable := value.(map[string]any)
		current, currentIsTable := out[key].(map[string]any)
		if isTable && currentIsTable {
			out[key] = mergeTables(current, nested)
			continue
		}
		out[key] = cloneValue(value)
	}
	return out
}

func missingKeys(prefix string, existing map[string]any, replacement map[string]any) []string {
	var missing []string
	for key, value := range existing {
		path := strings.Join([]string{prefix, key}, ".")
		next, ok := replacement[key]
		if !ok {
			missing = append(missing, path)
			continue
		}
		oldTable, oldIsTable := value.(map[string]any)
		newTable, newIsTable := next.(map[string]any)
		if oldIsTable && newIsTable {
			missing = append(missing, missingKeys(path, oldTable, newTable)...)
		}
	}
	return missing
}
