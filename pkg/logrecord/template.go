package logrecord

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// compile parses text with the sprig function map plus levelName. Empty text
// yields nil.
func compile(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	funcs := sprig.TxtFuncMap()
	funcs["levelName"] = LevelName
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tmpl, nil
}

func execute(tmpl *template.Template, rec *Record) (string, error) {
	if rec == nil {
		rec = &Record{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, rec); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SubjectTemplate renders a per-record subject from a text/template with the
// sprig function map plus levelName. The template sees the Record as its dot.
type SubjectTemplate struct {
	tmpl *template.Template
}

// NewSubjectTemplate compiles text. An empty text yields a nil template.
func NewSubjectTemplate(text string) (*SubjectTemplate, error) {
	tmpl, err := compile("subject", text)
	if tmpl == nil || err != nil {
		return nil, err
	}
	return &SubjectTemplate{tmpl: tmpl}, nil
}

// Render executes the template for rec. Rendering failures fall back to
// FormatSubject so a bad record never blocks delivery.
func (t *SubjectTemplate) Render(rec *Record) string {
	if t == nil {
		return FormatSubject(rec)
	}
	out, err := execute(t.tmpl, rec)
	if err != nil {
		return FormatSubject(rec)
	}
	// Subjects are single-line headers.
	return strings.Join(strings.Fields(out), " ")
}

// BodyTemplate renders a per-record body. It shares the function map of
// SubjectTemplate; line breaks are kept.
type BodyTemplate struct {
	tmpl *template.Template
}

// NewBodyTemplate compiles text. An empty text yields a nil template.
func NewBodyTemplate(text string) (*BodyTemplate, error) {
	tmpl, err := compile("body", text)
	if tmpl == nil || err != nil {
		return nil, err
	}
	return &BodyTemplate{tmpl: tmpl}, nil
}

// Render executes the template for rec, falling back to FormatBody when it is
// nil or fails.
func (t *BodyTemplate) Render(rec *Record) string {
	if t == nil {
		return FormatBody(rec)
	}
	out, err := execute(t.tmpl, rec)
	if err != nil {
		return FormatBody(rec)
	}
	return out
}
