package template

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	e := NewEngine()

	got, err := e.Render("Hello {{.name}}, your code is {{.code}}", map[string]string{
		"name": "Ivan",
		"code": "1234",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if got != "Hello Ivan, your code is 1234" {
		t.Errorf("Render() = %q", got)
	}
}

func TestRenderMissingKey(t *testing.T) {
	e := NewEngine()

	got, err := e.Render("Hi {{.name}}!", map[string]string{})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if got != "Hi !" {
		t.Errorf("Render() = %q, want empty placeholder", got)
	}
}

func TestRenderInvalidSyntax(t *testing.T) {
	e := NewEngine()

	if _, err := e.Render("Hello {{.name", nil); err == nil {
		t.Fatal("expected error for unclosed action")
	}
}

func TestValidate(t *testing.T) {
	e := NewEngine()

	if err := e.Validate("plain text, no placeholders"); err != nil {
		t.Errorf("Validate(plain) error: %v", err)
	}
	if err := e.Validate("Hello {{.name}}"); err != nil {
		t.Errorf("Validate(valid) error: %v", err)
	}

	err := e.Validate("broken {{.name")
	if err == nil {
		t.Fatal("expected error for broken template")
	}
	if !strings.Contains(err.Error(), "invalid message template") {
		t.Errorf("unexpected error: %v", err)
	}
}
