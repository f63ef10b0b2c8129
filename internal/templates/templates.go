// Package templates renders localized email and SMS bodies from embedded
// templates.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"path"
	"sort"
	"strings"
	texttemplate "text/template"
)

//go:embed files
var embedded embed.FS

// Template names known to the registry.
const (
	VerificationReminderFirst  = "verificationReminderFirstEmail"
	VerificationReminderSecond = "verificationReminderSecondEmail"
)

// ErrUnknownTemplate is returned when rendering a name that was never registered.
var ErrUnknownTemplate = errors.New("unknown template")

// default subjects for templates whose caller does not supply one
var subjects = map[string]string{
	VerificationReminderFirst:  "Hello again.",
	VerificationReminderSecond: "Still there?",
}

// Rendered is the localized output of a template.
type Rendered struct {
	Subject  string
	HTML     string
	Text     string
	Language string
}

// Options configures the registry.
type Options struct {
	DefaultLocale    string
	SupportedLocales []string
}

type entry struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

// Registry holds parsed templates and translations. It is safe for
// concurrent use.
type Registry struct {
	entries    map[string]*entry
	catalog    catalog
	negotiator *negotiator
}

// placeholder translation func, replaced per render
var parseFuncs = map[string]any{"t": func(s string) string { return s }}

// New parses the embedded templates and locale catalogs.
func New(opts Options) (*Registry, error) {
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = "en"
	}

	root, err := fs.Sub(embedded, "files")
	if err != nil {
		return nil, err
	}

	neg, err := newNegotiator(opts.DefaultLocale, opts.SupportedLocales)
	if err != nil {
		return nil, err
	}

	cat, err := loadCatalog(root, "locales")
	if err != nil {
		return nil, err
	}

	entries, err := parseTemplates(root)
	if err != nil {
		return nil, err
	}

	return &Registry{entries: entries, catalog: cat, negotiator: neg}, nil
}

func parseTemplates(root fs.FS) (map[string]*entry, error) {
	files, err := fs.ReadDir(root, ".")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	entries := make(map[string]*entry)
	get := func(name string) *entry {
		e, ok := entries[name]
		if !ok {
			e = &entry{subject: subjects[name]}
			entries[name] = e
		}
		return e
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ext := path.Ext(f.Name())
		name := strings.TrimSuffix(f.Name(), ext)
		data, err := fs.ReadFile(root, f.Name())
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", f.Name(), err)
		}

		switch ext {
		case ".html":
			t, err := htmltemplate.New(name).Funcs(parseFuncs).Parse(string(data))
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", f.Name(), err)
			}
			get(name).html = t
		case ".txt":
			t, err := texttemplate.New(name).Funcs(parseFuncs).Parse(string(data))
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", f.Name(), err)
			}
			get(name).text = t
		}
	}

	return entries, nil
}

// Names lists the registered templates in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a registered template.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Negotiate returns the supported locale that best matches acceptLanguage.
func (r *Registry) Negotiate(acceptLanguage string) string {
	return r.negotiator.negotiate(acceptLanguage)
}

// Translator returns the translator for the locale negotiated from acceptLanguage.
func (r *Registry) Translator(acceptLanguage string) Translator {
	locale := r.Negotiate(acceptLanguage)
	return Translator{Language: locale, messages: r.catalog[locale]}
}

// Render executes template name for the locale negotiated from
// acceptLanguage. A "subject" entry in values overrides the template's
// default subject; either way the subject is translated.
func (r *Registry) Render(name, acceptLanguage string, values map[string]any) (*Rendered, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	tr := r.Translator(acceptLanguage)
	funcs := map[string]any{"t": tr.Gettext}

	data := make(map[string]any, len(values)+1)
	for k, v := range values {
		data[k] = v
	}
	data["language"] = tr.Language

	out := &Rendered{Language: tr.Language}

	subject := e.subject
	if s, ok := values["subject"].(string); ok && s != "" {
		subject = s
	}
	if subject != "" {
		out.Subject = tr.Gettext(subject)
	}

	if e.html != nil {
		t, err := e.html.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone %s: %w", name, err)
		}
		var buf bytes.Buffer
		if err := t.Funcs(funcs).Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render %s html: %w", name, err)
		}
		out.HTML = buf.String()
	}

	if e.text != nil {
		t, err := e.text.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone %s: %w", name, err)
		}
		var buf bytes.Buffer
		if err := t.Funcs(funcs).Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render %s text: %w", name, err)
		}
		out.Text = buf.String()
	}

	return out, nil
}
