package types

import "testing"

func TestDetectFamily(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  Family
	}{
		{"claude-3-5-sonnet-20241022", FamilyPrimary},
		{"Claude-Opus", FamilyPrimary},
		{"anthropic/claude-instant", FamilyPrimary},
		{"ANTHROPIC-default", FamilyPrimary},
		{"gpt-4o", FamilySecondary},
		{"GPT-3.5-turbo", FamilySecondary},
		{"openai-compatible", FamilySecondary},
		{"llama-3-70b", FamilyGeneric},
		{"", FamilyGeneric},
		// primary markers win over secondary ones
		{"claude-gpt-bridge", FamilyPrimary},
	}

	for _, tt := range tests {
		if got := DetectFamily(tt.model); got != tt.want {
			t.Fatalf("DetectFamily(%q) = %s, want %s", tt.model, got, tt.want)
		}
	}
}

func TestCloneMessages(t *testing.T) {
	t.Parallel()

	if CloneMessages(nil) != nil {
		t.Fatalf("expected nil clone of nil slice")
	}

	src := []Message{NewUserMessage("hi"), NewAssistantMessage("hello")}
	dst := CloneMessages(src)
	dst[0].Content = "changed"
	if src[0].Content != "hi" {
		t.Fatalf("clone shares backing array with source")
	}
}

func TestRoleValid(t *testing.T) {
	t.Parallel()

	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant} {
		if !r.Valid() {
			t.Fatalf("expected %s to be valid", r)
		}
	}
	if Role("tool").Valid() {
		t.Fatalf("tool role is not part of the budget engine")
	}
}
