package llm

import (
	"os"
	"testing"
)

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"strips chat completions suffix", "https://api.example.com/v1/chat/completions", "https://api.example.com/v1"},
		{"strips trailing slash", "https://api.example.com/v1/", "https://api.example.com/v1"},
		{"strips both", "https://api.example.com/v1/chat/completions/", "https://api.example.com/v1"},
		{"unchanged without suffix", "https://api.example.com/v1", "https://api.example.com/v1"},
		{"empty input", "", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := normalizeBaseURL(c.in); got != c.want {
				t.Errorf("normalizeBaseURL(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestNewTierEnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "shared-key")
	t.Setenv("OPENAI_BASE_URL", "https://shared.example.com")
	t.Setenv("OPENAI_MODEL", "shared-model")
	os.Unsetenv("BRAIN_API_KEY")
	os.Unsetenv("BRAIN_BASE_URL")
	os.Unsetenv("BRAIN_MODEL")

	c := NewTier("BRAIN")
	if c.apiKey != "shared-key" || c.baseURL != "https://shared.example.com" || c.model != "shared-model" {
		t.Fatalf("expected fallback to shared OPENAI_* vars, got %+v", c)
	}
}

func TestNewTierPrefixOverride(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "shared-model")
	t.Setenv("BRAIN_MODEL", "brain-model")

	c := NewTier("BRAIN")
	if c.model != "brain-model" {
		t.Fatalf("expected tier-specific override to win, got %q", c.model)
	}
}

func TestStripThinkBlocks(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"single block", "<think>reasoning</think>{\"a\":1}", "{\"a\":1}"},
		{"multiple blocks", "<think>a</think>mid<think>b</think>end", "midend"},
		{"unclosed block", "before<think>dangling", "before"},
		{"no tag", "plain text", "plain text"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := StripThinkBlocks(c.in); got != c.want {
				t.Errorf("StripThinkBlocks(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestStripToolCodeBlocks(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"single block", "visible<tool_code>run(x)</tool_code>more", "visiblemore"},
		{"unclosed block", "keep<tool_code>dangling", "keep"},
		{"no tag", "nothing to strip", "nothing to strip"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := StripToolCodeBlocks(c.in); got != c.want {
				t.Errorf("StripToolCodeBlocks(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestStripFencesRemovesMarkdownFence(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	want := "{\"a\":1}"
	if got := StripFences(in); got != want {
		t.Errorf("StripFences(%q) = %q, want %q", in, got, want)
	}
}
