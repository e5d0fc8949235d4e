// Package render implements the document renderer with Go text templates.
// A form feed in the output starts a new physical page.
package render

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

//go:embed templates/*.tmpl
var builtin embed.FS

// PageBreak separates pages in rendered output
const PageBreak = "\f"

// Config configures the renderer
type Config struct {
	// Dir holds <templateID>.tmpl files that take precedence over the built-in templates
	Dir string
	// LinesPerPage is how many remittance lines fit on one page
	LinesPerPage int
	CacheTTL     time.Duration
}

// DefaultConfig returns defaults matching the built-in check template
func DefaultConfig() Config {
	return Config{LinesPerPage: 10, CacheTTL: time.Hour}
}

// Template is a parsed document template
type Template struct {
	tmpl *template.Template
	id   string
}

// ID returns the template identifier
func (t *Template) ID() string { return t.id }

// TextRenderer renders payments through text/template
type TextRenderer struct {
	cache  *cache.Cache
	logger ports.Logger
	cfg    Config
}

var _ ports.DocumentRenderer = (*TextRenderer)(nil)

// NewTextRenderer creates a new renderer
func NewTextRenderer(cfg Config, logger ports.Logger) *TextRenderer {
	if cfg.LinesPerPage <= 0 {
		cfg.LinesPerPage = DefaultConfig().LinesPerPage
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &TextRenderer{
		cache:  cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger: logger,
		cfg:    cfg,
	}
}

// LoadTemplate parses templateID once and serves it from the cache afterwards
func (r *TextRenderer) LoadTemplate(ctx context.Context, templateID string) (ports.Template, error) {
	if cached, ok := r.cache.Get(templateID); ok {
		return cached.(*Template), nil
	}

	if templateID == "" || strings.ContainsAny(templateID, `/\`) {
		return nil, fmt.Errorf("invalid template id %q", templateID)
	}

	src, origin, err := r.source(templateID)
	if err != nil {
		return nil, err
	}

	parsed, err := template.New(templateID).Funcs(r.funcs()).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", templateID, err)
	}

	tmpl := &Template{id: templateID, tmpl: parsed}
	r.cache.SetDefault(templateID, tmpl)
	r.logger.Info("document template loaded",
		ports.String("template_id", templateID),
		ports.String("origin", origin))
	return tmpl, nil
}

// Render executes the template and splits the output on form feeds
func (r *TextRenderer) Render(ctx context.Context, tmpl ports.Template, params domain.RenderParams) ([]domain.Page, error) {
	t, ok := tmpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("template %s was not loaded by this renderer", tmpl.ID())
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("execute template %s: %w", t.id, err)
	}

	var pages []domain.Page
	for _, chunk := range strings.Split(buf.String(), PageBreak) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		pages = append(pages, domain.Page{Content: []byte(chunk)})
	}
	return pages, nil
}

func (r *TextRenderer) source(templateID string) ([]byte, string, error) {
	name := templateID + ".tmpl"
	if r.cfg.Dir != "" {
		path := filepath.Join(r.cfg.Dir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("read template %s: %w", path, err)
		}
	}

	data, err := fs.ReadFile(builtin, "templates/"+name)
	if err != nil {
		return nil, "", fmt.Errorf("template %s not found", templateID)
	}
	return data, "builtin", nil
}

func (r *TextRenderer) funcs() template.FuncMap {
	return template.FuncMap{
		"remittancePages": func(lines []domain.RemittanceLine) [][]domain.RemittanceLine {
			return remittancePages(lines, r.cfg.LinesPerPage)
		},
		"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
		"add":   func(a, b int) int { return a + b },
	}
}

// remittancePages chunks lines per page. A payment without lines still gets one page.
func remittancePages(lines []domain.RemittanceLine, perPage int) [][]domain.RemittanceLine {
	if len(lines) == 0 {
		return [][]domain.RemittanceLine{nil}
	}
	var out [][]domain.RemittanceLine
	for start := 0; start < len(lines); start += perPage {
		end := start + perPage
		if end > len(lines) {
			end = len(lines)
		}
		out = append(out, lines[start:end])
	}
	return out
}
