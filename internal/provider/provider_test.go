package provider

import "testing"

func TestNewSelectsByName(t *testing.T) {
	p, err := New("openai", Options{OpenAIAPIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New(openai): %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q", p.Name())
	}

	p, err = New("toqan", Options{ToqanAPIKey: "tq-test"})
	if err != nil {
		t.Fatalf("New(toqan): %v", err)
	}
	if p.Name() != "toqan" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestNewRejectsMissingKeyAndUnknownName(t *testing.T) {
	if _, err := New("openai", Options{}); err == nil {
		t.Error("openai without API key should fail")
	}
	if _, err := New("toqan", Options{}); err == nil {
		t.Error("toqan without API key should fail")
	}
	if _, err := New("gemini", Options{OpenAIAPIKey: "sk"}); err == nil {
		t.Error("unknown provider name should fail")
	}
}
