package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Alert {{.EventLabel}}]
Device: {{.Device}}
Site: {{.Site}}
Type: {{.Type}}
Severity: {{.Severity}}
Opened: {{.OpenedAt}}
Current Status: {{.Status}}
Suggestion: {{.Suggestion}}
{{ if .Details }}
Details: {{.Details}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Device     string
	DeviceID   string
	Site       string
	Type       string
	Severity   string
	Status     string
	OpenedAt   string
	Suggestion string
	Details    string
	Event      string
	EventLabel string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
