package ai

import (
	"errors"
	"testing"
)

func TestBuildRegistry_SkipsUnconfiguredVendors(t *testing.T) {
	// only Groq is configured: its two catalog entries resolve, the
	// others stay unregistered until dispatch fails on them
	reg, err := BuildRegistry(ClientConfig{
		GroqAPIKey:  "test-key",
		GroqBaseURL: "https://api.groq.com/openai/v1",
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	if _, err := reg.Get("deepseek-chat"); err != nil {
		t.Fatalf("deepseek-chat should be registered: %v", err)
	}
	if _, err := reg.Get("llama-4"); err != nil {
		t.Fatalf("llama-4 should be registered: %v", err)
	}
	if _, err := reg.Get("gpt-5"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("gpt-5 should be unregistered, got %v", err)
	}
	if _, err := reg.Get("claude-sonnet"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("claude-sonnet should be unregistered, got %v", err)
	}
}

func TestCatalog_NamesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, mc := range Catalog() {
		if seen[mc.Name] {
			t.Fatalf("duplicate catalog name %q", mc.Name)
		}
		seen[mc.Name] = true
		if mc.UpstreamModel == "" || mc.Provider == "" {
			t.Fatalf("catalog entry %q missing vendor fields", mc.Name)
		}
	}
}
