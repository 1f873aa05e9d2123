package mail

import (
	"embed"
	"fmt"
	"path"

	"github.com/osteele/liquid"
	"gopkg.in/yaml.v3"

	"github.com/angelmondragon/pactsign-backend/pkg/enums"
)

//go:embed templates/*
var templateFS embed.FS

// Rendered is the subject and bodies produced for one outbox entry.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

type catalogEntry struct {
	Subject string `yaml:"subject"`
	HTML    string `yaml:"html"`
	Text    string `yaml:"text"`
}

type compiled struct {
	subject *liquid.Template
	html    *liquid.Template
	text    *liquid.Template
}

// Renderer compiles every catalog template once at construction. Render is
// safe for concurrent use.
type Renderer struct {
	templates map[enums.EmailTemplate]compiled
}

func NewRenderer() (*Renderer, error) {
	raw, err := templateFS.ReadFile("templates/catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	var catalog map[string]catalogEntry
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}

	engine := liquid.NewEngine()
	r := &Renderer{templates: make(map[enums.EmailTemplate]compiled, len(catalog))}
	for name, entry := range catalog {
		tmpl, err := enums.ParseEmailTemplate(name)
		if err != nil {
			return nil, fmt.Errorf("template catalog: %w", err)
		}
		c, err := compileEntry(engine, entry)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		r.templates[tmpl] = c
	}
	for _, tmpl := range enums.EmailTemplates() {
		if _, ok := r.templates[tmpl]; !ok {
			return nil, fmt.Errorf("template catalog is missing %s", tmpl)
		}
	}
	return r, nil
}

func compileEntry(engine *liquid.Engine, entry catalogEntry) (compiled, error) {
	if entry.Subject == "" || entry.HTML == "" {
		return compiled{}, fmt.Errorf("subject and html are required")
	}
	htmlSource, err := templateFS.ReadFile(path.Join("templates", entry.HTML))
	if err != nil {
		return compiled{}, err
	}
	var c compiled
	if c.subject, err = parse(engine, []byte(entry.Subject)); err != nil {
		return compiled{}, fmt.Errorf("subject: %w", err)
	}
	if c.html, err = parse(engine, htmlSource); err != nil {
		return compiled{}, fmt.Errorf("html: %w", err)
	}
	if entry.Text != "" {
		if c.text, err = parse(engine, []byte(entry.Text)); err != nil {
			return compiled{}, fmt.Errorf("text: %w", err)
		}
	}
	return c, nil
}

func parse(engine *liquid.Engine, source []byte) (*liquid.Template, error) {
	tpl, err := engine.ParseTemplate(source)
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

// Render expands the named template with vars. It never performs I/O.
func (r *Renderer) Render(template enums.EmailTemplate, vars map[string]any) (Rendered, error) {
	c, ok := r.templates[template]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown email template %q", template)
	}
	bindings := liquid.Bindings(vars)

	var out Rendered
	var err error
	if out.Subject, err = renderString(c.subject, bindings); err != nil {
		return Rendered{}, fmt.Errorf("render %s subject: %w", template, err)
	}
	if out.HTML, err = renderString(c.html, bindings); err != nil {
		return Rendered{}, fmt.Errorf("render %s html: %w", template, err)
	}
	if c.text != nil {
		if out.Text, err = renderString(c.text, bindings); err != nil {
			return Rendered{}, fmt.Errorf("render %s text: %w", template, err)
		}
	}
	return out, nil
}

func renderString(tpl *liquid.Template, bindings liquid.Bindings) (string, error) {
	s, err := tpl.RenderString(bindings)
	if err != nil {
		return "", err
	}
	return s, nil
}
