package emoji

import "testing"

func TestResolveStandardEmojiPassesThrough(t *testing.T) {
	if got := Resolve("🍕", 0); got != "🍕" {
		t.Fatalf("expected pass-through, got %q", got)
	}
}

func TestResolveAliasTable(t *testing.T) {
	if got := Resolve(":fire:", 0); got != "🔥" {
		t.Fatalf("expected alias resolution, got %q", got)
	}
}

func TestResolveUnknownAliasExtractsFirstGrapheme(t *testing.T) {
	got := Resolve(":unknown_custom_emoji:", 0)
	if got != "u" {
		t.Fatalf("expected first grapheme extraction, got %q", got)
	}
}

func TestResolveEmptyFallsBackToDefaultLetter(t *testing.T) {
	if got := Resolve("", 0); got != "🇦" {
		t.Fatalf("expected default letter A, got %q", got)
	}
	if got := Resolve("", 1); got != "🇧" {
		t.Fatalf("expected default letter B, got %q", got)
	}
}

func TestResolveBeyondDefaultLettersUsesNumericFallback(t *testing.T) {
	got := Resolve("", 15)
	if got != "(16)" {
		t.Fatalf("expected numeric fallback past the lettered table, got %q", got)
	}
}
