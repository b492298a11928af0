package task

import (
	"strings"
	"testing"
)

func TestRenderCommandNoPlaceholders(t *testing.T) {
	out, err := RenderCommand("echo hello", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "echo hello" {
		t.Errorf("expected 'echo hello', got %q", out)
	}
}

func TestRenderCommandSuppliedValue(t *testing.T) {
	out, err := RenderCommand("deploy {{env}}", map[string]string{"env": "staging"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "deploy staging" {
		t.Errorf("expected 'deploy staging', got %q", out)
	}
}

func TestRenderCommandInlineDefault(t *testing.T) {
	out, err := RenderCommand("deploy {{env|production}}", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "deploy production" {
		t.Errorf("expected 'deploy production', got %q", out)
	}

	// Supplied value beats the inline default.
	out, err = RenderCommand("deploy {{env|production}}", map[string]string{"env": "dev"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "deploy dev" {
		t.Errorf("expected 'deploy dev', got %q", out)
	}
}

func TestRenderCommandInputDefault(t *testing.T) {
	inputs := map[string]Input{
		"env": {Kind: InputSelect, Options: []string{"dev", "prod"}, Default: "dev"},
	}
	out, err := RenderCommand("deploy {{env}}", nil, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "deploy dev" {
		t.Errorf("expected 'deploy dev', got %q", out)
	}
}

func TestRenderCommandResolutionOrder(t *testing.T) {
	inputs := map[string]Input{
		"env": {Kind: InputSelect, Options: []string{"a", "b"}, Default: "b"},
	}
	// Inline default beats the declared input's default.
	out, err := RenderCommand("deploy {{env|a}}", nil, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "deploy a" {
		t.Errorf("expected 'deploy a', got %q", out)
	}
}

func TestRenderCommandTextInputWithoutDefault(t *testing.T) {
	inputs := map[string]Input{
		"msg": {Kind: InputText, Placeholder: "commit message"},
	}
	_, err := RenderCommand("git commit -m {{msg}}", nil, inputs)
	if err == nil || !strings.Contains(err.Error(), "missing value") {
		t.Errorf("expected missing value error, got %v", err)
	}
}

func TestRenderCommandTextInputEmptyDefaultIsAbsent(t *testing.T) {
	// A text input's empty default is treated as no default at all: the
	// variable must be supplied. Select inputs keep their default verbatim.
	inputs := map[string]Input{
		"msg": {Kind: InputText, Default: ""},
	}
	_, err := RenderCommand("notify {{msg}}", nil, inputs)
	if err == nil || !strings.Contains(err.Error(), "missing value") {
		t.Errorf("expected missing value error, got %v", err)
	}

	out, err := RenderCommand("notify {{msg}}", map[string]string{"msg": "hi"}, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "notify hi" {
		t.Errorf("expected 'notify hi', got %q", out)
	}
}

func TestRenderCommandErrors(t *testing.T) {
	if _, err := RenderCommand("echo {{name", nil, nil); err == nil {
		t.Error("expected error for unclosed variable")
	}
	if _, err := RenderCommand("echo {{}}", nil, nil); err == nil {
		t.Error("expected error for empty variable")
	}
	if _, err := RenderCommand("echo {{missing}}", nil, nil); err == nil {
		t.Error("expected error for unresolved variable")
	}
}

func TestRenderCommandMultipleAndWhitespace(t *testing.T) {
	out, err := RenderCommand(
		"run {{ a }} and {{ b | two }} then {{a}}",
		map[string]string{"a": "one"},
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "run one and two then one" {
		t.Errorf("got %q", out)
	}
}
