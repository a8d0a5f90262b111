package llm

import (
	"testing"
)

func TestDecodeJSONPlain(t *testing.T) {
	var result struct {
		Key string `json:"key"`
		Num int    `json:"num"`
	}
	if err := DecodeJSON(`{"key": "value", "num": 42}`, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Key != "value" {
		t.Errorf("expected key='value', got %q", result.Key)
	}
	if result.Num != 42 {
		t.Errorf("expected num=42, got %d", result.Num)
	}
}

func TestDecodeJSONWithCodeFence(t *testing.T) {
	var result struct {
		Key string `json:"key"`
	}
	text := "```json\n{\"key\": \"value\"}\n```"
	if err := DecodeJSON(text, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Key != "value" {
		t.Errorf("expected key='value', got %q", result.Key)
	}
}

func TestDecodeJSONWithPlainFence(t *testing.T) {
	var result struct {
		Key string `json:"key"`
	}
	text := "```\n{\"key\": \"value\"}\n```"
	if err := DecodeJSON(text, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Key != "value" {
		t.Errorf("expected key='value', got %q", result.Key)
	}
}

func TestDecodeJSONLeadingProse(t *testing.T) {
	var result []struct {
		Title string `json:"title"`
	}
	text := "Here are the categories:\n[{\"title\": \"Weather\"}]"
	if err := DecodeJSON(text, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 || result[0].Title != "Weather" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestDecodeJSONInvalid(t *testing.T) {
	var result map[string]any
	if err := DecodeJSON("not json at all", &result); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestDecodeJSONEmpty(t *testing.T) {
	var result map[string]any
	if err := DecodeJSON("", &result); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestDecodeJSONWhitespace(t *testing.T) {
	var result struct {
		Key string `json:"key"`
	}
	if err := DecodeJSON("  \n  {\"key\": \"value\"}  \n  ", &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Key != "value" {
		t.Errorf("expected key='value', got %q", result.Key)
	}
}

func TestProviderNames(t *testing.T) {
	o := NewOllamaProvider("qwen2.5:7b", "http://localhost:11434")
	if o.Name() != "ollama/qwen2.5:7b" {
		t.Errorf("unexpected ollama name %q", o.Name())
	}

	p := NewOpenAIProvider("gpt-4o-mini", "NONEWS_TEST_MISSING_KEY")
	if p.Name() != "openai/gpt-4o-mini" {
		t.Errorf("unexpected openai name %q", p.Name())
	}
	if p.IsConfigured() {
		t.Error("expected unconfigured provider without API key")
	}
}
