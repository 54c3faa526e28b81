package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Anomaly {{.EventLabel}}] {{.Severity}} {{.Type}}
Plant: {{.Plant}}
Measurement: {{.Measurement}}
Value: {{.Value}}
Threshold: {{.Threshold}}
Detected At: {{.DetectedAt}}
Mode: {{.Mode}}
{{- if .Description }}
Detail: {{.Description}}
{{- end }}
{{- if .Responses }}
Responses: {{.Responses}}
{{- end }}
Suggestion: {{.Suggestion}}
{{- if .ReportURL }}
Report: {{.ReportURL}}
{{- end }}
`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Plant       string
	PlantID     string
	Type        string
	Measurement string
	Value       string
	Threshold   string
	Severity    string
	Mode        string
	DetectedAt  string
	Description string
	Responses   string
	SafeMode    bool
	Suggestion  string
	ReportURL   string
	Event       string
	EventLabel  string
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
	parsed, err := template.New("anomaly-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("anomaly template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
