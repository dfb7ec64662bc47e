package advisory

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"perpcore/pkg/market"
	"perpcore/pkg/scorer"
)

//go:embed templates/*.tmpl
var builtinTemplates embed.FS

// Template names.
const (
	TemplateSystem    = "system.tmpl"
	TemplateTechnical = "technical.tmpl"
	TemplateMacro     = "macro.tmpl"
	TemplateUrgent    = "urgent.tmpl"
	TemplateReview    = "review.tmpl"
)

var templateNames = []string{TemplateSystem, TemplateTechnical, TemplateMacro, TemplateUrgent, TemplateReview}

// Template wraps a text/template read from disk or from the built-in set.
type Template struct {
	path  string
	fsys  fs.FS
	funcs template.FuncMap

	mu   sync.RWMutex
	tmpl *template.Template
	hash string
}

// NewTemplate parses the template at path on disk.
func NewTemplate(path string, funcs template.FuncMap) (*Template, error) {
	if path == "" {
		return nil, errors.New("prompt template path is empty")
	}
	t := &Template{path: path, funcs: funcs}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

func newFSTemplate(fsys fs.FS, path string, funcs template.FuncMap) (*Template, error) {
	t := &Template{path: path, fsys: fsys, funcs: funcs}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Render executes the template with data.
func (t *Template) Render(data any) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tmpl == nil {
		return "", fmt.Errorf("prompt template %q not parsed", t.path)
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute prompt template %q: %w", t.path, err)
	}
	return buf.String(), nil
}

// Reload reparses the template source.
func (t *Template) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reload()
}

// Digest is the sha256 of the template source, recorded with decisions.
func (t *Template) Digest() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hash
}

func (t *Template) reload() error {
	var (
		data []byte
		err  error
	)
	if t.fsys != nil {
		data, err = fs.ReadFile(t.fsys, t.path)
	} else {
		data, err = os.ReadFile(t.path)
	}
	if err != nil {
		return fmt.Errorf("read prompt template %q: %w", t.path, err)
	}
	sum := sha256.Sum256(data)
	t.hash = hex.EncodeToString(sum[:])

	tmpl := template.New(filepath.Base(t.path)).Option("missingkey=error")
	if len(t.funcs) > 0 {
		tmpl = tmpl.Funcs(t.funcs)
	}
	if _, err := tmpl.Parse(string(data)); err != nil {
		return fmt.Errorf("parse prompt template %q: %w", t.path, err)
	}
	t.tmpl = tmpl
	return nil
}

// DefaultFuncs are available to every prompt template.
var DefaultFuncs = template.FuncMap{
	"pct":   func(v float64) string { return fmt.Sprintf("%+.2f%%", v) },
	"num":   func(v float64) string { return fmt.Sprintf("%.4g", v) },
	"upper": strings.ToUpper,
	"join":  strings.Join,
	"utc":   func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}

// Prompts is the set of templates used by the regime brain.
type Prompts struct {
	System    *Template
	Technical *Template
	Macro     *Template
	Urgent    *Template
	Review    *Template
}

// LoadPrompts uses the built-in templates, replaced by any file of the same
// name found in dir.
func LoadPrompts(dir string) (*Prompts, error) {
	sub, err := fs.Sub(builtinTemplates, "templates")
	if err != nil {
		return nil, fmt.Errorf("advisory: builtin templates: %w", err)
	}
	loaded := make(map[string]*Template, len(templateNames))
	for _, name := range templateNames {
		var t *Template
		override := ""
		if dir != "" {
			override = filepath.Join(dir, name)
		}
		if override != "" && fileExists(override) {
			t, err = NewTemplate(override, DefaultFuncs)
		} else {
			t, err = newFSTemplate(sub, name, DefaultFuncs)
		}
		if err != nil {
			return nil, err
		}
		loaded[name] = t
	}
	return &Prompts{
		System:    loaded[TemplateSystem],
		Technical: loaded[TemplateTechnical],
		Macro:     loaded[TemplateMacro],
		Urgent:    loaded[TemplateUrgent],
		Review:    loaded[TemplateReview],
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// SymbolView pairs a snapshot with its score for prompt rendering.
type SymbolView struct {
	Snapshot market.Snapshot
	Score    scorer.TriggerScore
}

// PositionView is an open position as shown to the model.
type PositionView struct {
	Strategy   string
	Symbol     string
	Side       string
	Entry      float64
	Size       float64
	Leverage   int
	StopLoss   float64
	TakeProfit float64
	PnLPct     float64
	HeldFor    time.Duration
}

// TechnicalInput feeds the technical assessment prompt.
type TechnicalInput struct {
	Now        time.Time
	Strategies []string
	Symbols    []SymbolView
	Positions  []PositionView
	Previous   string
}

// MacroInput feeds the narrative assessment prompt.
type MacroInput struct {
	Now        time.Time
	Strategies []string
	Narratives []string
	Lessons    []string
	Previous   string
}

// UrgentInput feeds the single-symbol urgent prompt.
type UrgentInput struct {
	Now       time.Time
	Symbol    SymbolView
	Regime    string
	Direction string
	Positions []PositionView
}

// ReviewInput feeds the post-trade review prompt.
type ReviewInput struct {
	Now     time.Time
	Lessons []string
}
