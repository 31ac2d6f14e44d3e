package template

import (
	"bytes"
	"fmt"
	"text/template"
)

// Engine renders message bodies with per-contact data
type Engine struct{}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{}
}

// Render executes the body against the provided data. Unknown
// placeholders render as empty strings rather than failing mid-campaign.
func (e *Engine) Render(body string, data map[string]string) (string, error) {
	t, err := template.New("body").Option("missingkey=zero").Parse(body)
	if err != nil {
		return "", fmt.Errorf("invalid message template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render message: %w", err)
	}
	return buf.String(), nil
}

// Validate checks the body parses as a template
func (e *Engine) Validate(body string) error {
	if _, err := template.New("body").Parse(body); err != nil {
		return fmt.Errorf("invalid message template: %w", err)
	}
	return nil
}
