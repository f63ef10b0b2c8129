package templates

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"golang.org/x/text/language"
)

// Translator looks up localized strings for one language.
type Translator struct {
	Language string
	messages map[string]string
}

// Gettext returns the translation of msgid, or msgid itself when the
// catalog has no entry for it.
func (t Translator) Gettext(msgid string) string {
	if s, ok := t.messages[msgid]; ok && s != "" {
		return s
	}
	return msgid
}

// catalog holds translations keyed by locale, then by source string.
type catalog map[string]map[string]string

func loadCatalog(fsys fs.FS, dir string) (catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	c := make(catalog, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", e.Name(), err)
		}
		var messages map[string]string
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", e.Name(), err)
		}
		c[strings.TrimSuffix(e.Name(), ".json")] = messages
	}
	return c, nil
}

// negotiator picks the best supported locale for an Accept-Language value.
type negotiator struct {
	supported []string
	matcher   language.Matcher
}

func newNegotiator(defaultLocale string, supported []string) (*negotiator, error) {
	locales := []string{defaultLocale}
	for _, l := range supported {
		if l != defaultLocale {
			locales = append(locales, l)
		}
	}

	tags := make([]language.Tag, 0, len(locales))
	for _, l := range locales {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", l, err)
		}
		tags = append(tags, tag)
	}

	// The first tag is the matcher's fallback, so the default goes first.
	return &negotiator{supported: locales, matcher: language.NewMatcher(tags)}, nil
}

func (n *negotiator) negotiate(acceptLanguage string) string {
	if acceptLanguage == "" {
		return n.supported[0]
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return n.supported[0]
	}
	_, idx, confidence := n.matcher.Match(tags...)
	if confidence == language.No {
		return n.supported[0]
	}
	return n.supported[idx]
}
