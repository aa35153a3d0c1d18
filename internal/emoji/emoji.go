// Package emoji resolves a poll option's configured emoji to something the
// chat platform can actually render, falling back in stages when it can't.
// Grounded on the alias-table-then-extraction-then-default ladder used by
// the Python original's discord_utils.py, reimplemented as three ordered
// Resolve stages.
package emoji

import "fmt"

// defaultLetters supplies the final fallback stage: a lettered,
// unambiguous default per option position (A, B, C, ... up to 10 options,
// matching the poll option count cap).
var defaultLetters = []string{
	"🇦", "🇧", "🇨", "🇩", "🇪", "🇫", "🇬", "🇭", "🇮", "🇯",
}

// aliasTable maps common custom-emoji shorthand (as a user might type in
// the create-poll form) to a renderable standard emoji. It's intentionally
// small and hand-maintained, not a generated table, since it only needs to
// cover the handful of aliases real poll creators actually type.
var aliasTable = map[string]string{
	":thumbsup:":    "👍",
	":thumbsdown:":  "👎",
	":tada:":        "🎉",
	":fire:":        "🔥",
	":check:":       "✅",
	":x:":           "❌",
	":star:":        "⭐",
	":heart:":       "❤️",
	":thinking:":    "🤔",
	":100:":         "💯",
}

// Resolve walks the fallback ladder for one option's configured emoji
// string, returning something guaranteed renderable. index is the option's
// position, used only by the final default-letter stage.
func Resolve(raw string, index int) string {
	if renderable, ok := tryAsIs(raw); ok {
		return renderable
	}
	if alias, ok := tryAlias(raw); ok {
		return alias
	}
	if extracted, ok := tryFirstGrapheme(raw); ok {
		return extracted
	}
	return tryDefault(index)
}

// tryAsIs accepts a non-empty string that isn't an unresolved alias
// placeholder (":something:") as already renderable — the common case
// where the creator picked a standard unicode emoji directly.
func tryAsIs(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if isAliasPlaceholder(raw) {
		return "", false
	}
	return raw, true
}

func tryAlias(raw string) (string, bool) {
	resolved, ok := aliasTable[raw]
	return resolved, ok
}

// tryFirstGrapheme extracts the first rune of raw as a last-ditch attempt
// to salvage something renderable out of an unresolved alias or malformed
// input, rather than falling straight to the lettered default.
func tryFirstGrapheme(raw string) (string, bool) {
	cleaned := trimAliasColons(raw)
	for _, r := range cleaned {
		return string(r), true
	}
	return "", false
}

func tryDefault(index int) string {
	if index >= 0 && index < len(defaultLetters) {
		return defaultLetters[index]
	}
	return fmt.Sprintf("(%d)", index+1)
}

func isAliasPlaceholder(s string) bool {
	return len(s) >= 2 && s[0] == ':' && s[len(s)-1] == ':'
}

func trimAliasColons(s string) string {
	if isAliasPlaceholder(s) && len(s) > 2 {
		return s[1 : len(s)-1]
	}
	return s
}
